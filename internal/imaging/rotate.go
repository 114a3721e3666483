package imaging

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// borderFill is the intensity used for pixels exposed by a rotation; scanner
// backgrounds are white.
const borderFill = 255

// Rotate turns src by degrees about its center, counter-clockwise for positive
// angles, keeping the canvas size. Samples are bilinear. Angles that are a
// whole number of turns return src itself.
func Rotate(src *image.Gray, degrees float64) *image.Gray {
	if math.Mod(degrees, 360) == 0 {
		return src
	}
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Gray{Y: borderFill}), image.Point{}, draw.Src)

	rad := degrees * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	// Source center in source space, destination center in destination space.
	scx, scy := float64(b.Min.X)+w/2, float64(b.Min.Y)+h/2
	dcx, dcy := w/2, h/2

	// Source to destination; y grows downwards, so this turns the picture
	// counter-clockwise on screen.
	s2d := f64.Aff3{
		c, s, dcx - c*scx - s*scy,
		-s, c, dcy + s*scx - c*scy,
	}
	draw.BiLinear.Transform(dst, s2d, src, b, draw.Src, nil)
	return dst
}

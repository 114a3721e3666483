package imaging

import (
	"image"

	dimaging "github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Resize scales src to width x height. Axes that shrink are box filtered so
// ridge detail is averaged rather than aliased; axes that grow are linearly
// interpolated on pixel centers.
func Resize(src *image.Gray, width, height int) *image.Gray {
	b := src.Bounds()
	if b.Dx() == width && b.Dy() == height {
		dst := image.NewGray(image.Rect(0, 0, width, height))
		draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
		return dst
	}

	// Each axis gets its own filter; Resize leaves an unchanged axis alone.
	wide := dimaging.Resize(src, width, b.Dy(), filterFor(b.Dx(), width))
	return ToGray(dimaging.Resize(wide, width, height, filterFor(b.Dy(), height)))
}

func filterFor(from, to int) dimaging.ResampleFilter {
	if to < from {
		return dimaging.Box
	}
	return dimaging.Linear
}

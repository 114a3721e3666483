package imaging

import (
	"fmt"
	"image"
)

// Shape is the spatial input size of the embedding backend.
type Shape struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
}

// DefaultShape is used when the embedding backend does not declare its input size.
var DefaultShape = Shape{Height: 96, Width: 96}

// Validate rejects non-positive dimensions.
func (s Shape) Validate() error {
	if s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrShape, s.Height, s.Width)
	}
	return nil
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Height, s.Width)
}

// Tensor is a single-channel image batch of one, laid out (1, H, W, 1) in
// row-major order with values in [0,1].
type Tensor struct {
	Shape Shape
	Data  []float32
}

// Dims returns the tensor dimensions in batch, height, width, channel order.
func (t *Tensor) Dims() [4]int {
	return [4]int{1, t.Shape.Height, t.Shape.Width, 1}
}

// At returns the value at row y, column x.
func (t *Tensor) At(y, x int) float32 {
	return t.Data[y*t.Shape.Width+x]
}

// Rows returns the tensor as H rows of W values.
func (t *Tensor) Rows() [][]float32 {
	rows := make([][]float32, t.Shape.Height)
	for y := range rows {
		rows[y] = t.Data[y*t.Shape.Width : (y+1)*t.Shape.Width]
	}
	return rows
}

// Normalize converts img into the tensor fed to the embedding backend:
// grayscale, histogram equalized, resized to shape and scaled to [0,1].
func Normalize(img image.Image, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	gray := Equalize(ToGray(img))
	resized := Resize(gray, shape.Width, shape.Height)

	data := make([]float32, shape.Height*shape.Width)
	for y := 0; y < shape.Height; y++ {
		for x := 0; x < shape.Width; x++ {
			data[y*shape.Width+x] = float32(resized.Pix[resized.PixOffset(x, y)]) / 255
		}
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Package imaging turns uploaded fingerprint images into the fixed-size tensors
// the embedding backend expects.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	_ "github.com/spakin/netpbm" // PBM, PGM, PPM and PAM scanner output
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrDecode reports bytes that are not a decodable image.
	ErrDecode = errors.New("image decode failed")
	// ErrShape reports a non-positive target shape.
	ErrShape = errors.New("invalid target shape")
)

// DefaultMaxPixels bounds the pixel count Decode will allocate for.
const DefaultMaxPixels = 40_000_000

// Decode parses encoded image bytes and returns a single-channel copy anchored
// at the origin. Images above DefaultMaxPixels are rejected.
func Decode(data []byte) (*image.Gray, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited is Decode with an explicit pixel budget, checked against the
// header before any pixel data is read. A non-positive maxPixels means
// DefaultMaxPixels.
func DecodeLimited(data []byte, maxPixels int) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %s image is %dx%d, above the %d pixel limit", ErrDecode, format, cfg.Width, cfg.Height, maxPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s image has no pixels", ErrDecode, format)
	}
	return ToGray(img), nil
}

// DecodeBase64 accepts plain standard base64 or a data URI ("data:image/png;base64,...").
func DecodeBase64(encoded string) ([]byte, error) {
	payload := encoded
	if rest, ok := cutDataURI(encoded); ok {
		payload = rest
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func cutDataURI(s string) (string, bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", false
	}
	_, rest, ok := strings.Cut(s, ",")
	return rest, ok
}

// ToGray converts img to 8-bit grayscale using the ITU-R 601 luma weights.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			gray.SetGray(x, y, c)
		}
	}
	return gray
}

// EncodePNGBase64 re-encodes img as PNG and returns it base64 encoded.
func EncodePNGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

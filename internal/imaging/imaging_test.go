package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func ridges(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*37 + y*11) % 256)})
		}
	}
	return img
}

func noise(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for name, payload := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("definitely not an image"),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(payload); !errors.Is(err, ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestDecodeConvertsColorJPEGToGray(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, noise(20, 10, 1), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	gray, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gray.Bounds() != image.Rect(0, 0, 20, 10) {
		t.Fatalf("unexpected bounds: %v", gray.Bounds())
	}
}

// pngHeader is a PNG signature plus an IHDR chunk declaring w x h 8-bit gray,
// with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth; color type, compression, filter and interlace stay 0

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsImagesAboveThePixelLimit(t *testing.T) {
	small := encodePNG(t, ridges(20, 10))
	if _, err := DecodeLimited(small, 200); err != nil {
		t.Fatalf("image at the limit should decode: %v", err)
	}
	if _, err := DecodeLimited(small, 199); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode above the limit, got %v", err)
	}

	// A forged header must be refused before any allocation for its pixels.
	bomb := pngHeader(100_000, 100_000)
	if _, err := Decode(bomb); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for oversized header, got %v", err)
	}
}

func TestDecodeBase64AcceptsDataURI(t *testing.T) {
	raw := encodePNG(t, ridges(4, 4))
	encoded, err := EncodePNGBase64(ridges(4, 4))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	for _, in := range []string{encoded, "data:image/png;base64," + encoded} {
		data, err := DecodeBase64(in)
		if err != nil {
			t.Fatalf("decode %q: %v", in[:16], err)
		}
		if !bytes.Equal(data, raw) {
			t.Fatal("decoded bytes differ from encoded image")
		}
	}
	if _, err := DecodeBase64("%%%"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestNormalizeShapeAndRange(t *testing.T) {
	shape := Shape{Height: 32, Width: 24}
	inputs := map[string]image.Image{
		"gray downscale":  ridges(100, 80),
		"color downscale": noise(64, 64, 7),
		"gray upscale":    ridges(10, 12),
		"mixed axes":      ridges(10, 90),
		"all black":       image.NewGray(image.Rect(0, 0, 40, 40)),
		"all white":       whiteImage(50, 50),
	}

	for name, img := range inputs {
		t.Run(name, func(t *testing.T) {
			tensor, err := Normalize(img, shape)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if got := tensor.Dims(); got != [4]int{1, 32, 24, 1} {
				t.Fatalf("unexpected dims: %v", got)
			}
			if len(tensor.Data) != 32*24 {
				t.Fatalf("unexpected data length: %d", len(tensor.Data))
			}
			for i, v := range tensor.Data {
				if v < 0 || v > 1 {
					t.Fatalf("value %d out of range: %f", i, v)
				}
			}
		})
	}
}

func whiteImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestNormalizeRejectsBadShape(t *testing.T) {
	for _, shape := range []Shape{{0, 10}, {10, 0}, {-1, -1}} {
		if _, err := Normalize(ridges(8, 8), shape); !errors.Is(err, ErrShape) {
			t.Fatalf("shape %v: expected ErrShape, got %v", shape, err)
		}
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	img := noise(50, 40, 3)
	a, err := Normalize(img, DefaultShape)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	b, err := Normalize(img, DefaultShape)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("value %d differs: %f vs %f", i, a.Data[i], b.Data[i])
		}
	}
}

func TestEqualizeStretchesContrast(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 1))
	copy(img.Pix, []uint8{100, 110, 120, 130})

	got := Equalize(img).Pix
	want := []uint8{0, 85, 170, 255}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pixel %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEqualizeKeepsUniformImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 3))
	for i := range img.Pix {
		img.Pix[i] = 42
	}
	for i, v := range Equalize(img).Pix {
		if v != 42 {
			t.Fatalf("pixel %d changed to %d", i, v)
		}
	}
}

func TestResizeAreaAveragesBlocks(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	copy(img.Pix, []uint8{
		0, 100, 200, 200,
		100, 200, 200, 200,
		10, 10, 50, 50,
		10, 10, 50, 50,
	})

	got := Resize(img, 2, 2).Pix
	want := []uint8{100, 200, 10, 50}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pixel %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResizeUpscaleKeepsUniformValue(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 3))
	for i := range img.Pix {
		img.Pix[i] = 77
	}
	out := Resize(img, 9, 7)
	if out.Bounds() != image.Rect(0, 0, 9, 7) {
		t.Fatalf("unexpected bounds: %v", out.Bounds())
	}
	for i, v := range out.Pix {
		if v != 77 {
			t.Fatalf("pixel %d: got %d", i, v)
		}
	}
}

func TestResizeFiltersEachAxisSeparately(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 2))
	copy(img.Pix, []uint8{
		0, 100, 200, 200,
		0, 100, 200, 200,
	})

	out := Resize(img, 2, 4)
	if out.Bounds() != image.Rect(0, 0, 2, 4) {
		t.Fatalf("unexpected bounds: %v", out.Bounds())
	}
	for y := 0; y < 4; y++ {
		if l, r := out.GrayAt(0, y).Y, out.GrayAt(1, y).Y; l != 50 || r != 200 {
			t.Fatalf("row %d: got %d,%d, want 50,200", y, l, r)
		}
	}
}

func TestRotateZeroReturnsInput(t *testing.T) {
	img := ridges(5, 5)
	if Rotate(img, 0) != img || Rotate(img, 360) != img {
		t.Fatal("expected whole turns to return the input")
	}
}

func TestRotateQuarterTurnCounterClockwise(t *testing.T) {
	img := whiteImage(3, 3)
	img.SetGray(2, 1, color.Gray{Y: 0})

	out := Rotate(img, 90)
	if v := out.GrayAt(1, 0).Y; v != 0 {
		t.Fatalf("expected right-middle pixel to move to top-middle, got %d", v)
	}
	if v := out.GrayAt(2, 1).Y; v != 255 {
		t.Fatalf("expected right-middle to be white after rotation, got %d", v)
	}
}

func TestRotateFillsExposedCornersWhite(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 20, 20))

	out := Rotate(img, 10)
	if v := out.GrayAt(0, 0).Y; v != 255 {
		t.Fatalf("expected white corner, got %d", v)
	}
	if v := out.GrayAt(10, 10).Y; v != 0 {
		t.Fatalf("expected black center, got %d", v)
	}
}

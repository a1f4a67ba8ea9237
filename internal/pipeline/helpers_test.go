package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildTestJPEG(t testing.TB, w, h, quality int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: uint8((x * 255) / w), B: 60, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("encode source jpeg: %v", err)
	}
	return buf.Bytes()
}

// buildAlphaPNG is opaque red on the left half and fully transparent on the right.
func buildAlphaPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 220, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode alpha png: %v", err)
	}
	return buf.Bytes()
}

func decodeSize(t testing.TB, data []byte) (int, int, string) {
	t.Helper()

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output config: %v", err)
	}
	return cfg.Width, cfg.Height, name
}

// spyTransformer counts backend calls and can fail chosen target widths.
type spyTransformer struct {
	next       Transformer
	failWidths map[int]bool
	inspects   int
	transforms int
}

func newSpyTransformer(t testing.TB) *spyTransformer {
	t.Helper()

	next, err := newTransformer()
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}
	return &spyTransformer{next: next, failWidths: map[int]bool{}}
}

func (s *spyTransformer) Transform(ctx context.Context, input []byte, opts settings) ([]byte, error) {
	s.transforms++
	if s.failWidths[opts.Width] {
		return nil, errSpyTransform
	}
	return s.next.Transform(ctx, input, opts)
}

func (s *spyTransformer) Inspect(ctx context.Context, input []byte) (Metadata, error) {
	s.inspects++
	return s.next.Inspect(ctx, input)
}

var errSpyTransform = ImageProcessingError("spy", "forced transform failure", nil)

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log"
	"math"
	"strings"
	"testing"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()

	p, err := NewProcessor(nil, Limits{})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p
}

func TestProcessOversizedInputNeverDecodes(t *testing.T) {
	spy := newSpyTransformer(t)
	p := newProcessor(spy, nil, DefaultLimits())

	_, err := p.Process(context.Background(), make([]byte, 11*1024*1024), Options{})
	if !errors.Is(err, ErrImageSize) {
		t.Fatalf("expected size error, got %v", err)
	}
	if spy.inspects != 0 || spy.transforms != 0 {
		t.Fatalf("expected no decode attempts, got inspects=%d transforms=%d", spy.inspects, spy.transforms)
	}
}

func TestProcessEmptyInputIsSizeError(t *testing.T) {
	_, err := newTestProcessor(t).Process(context.Background(), nil, Options{})
	if !errors.Is(err, ErrImageSize) {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestProcessForVision(t *testing.T) {
	p := newTestProcessor(t)
	source := buildTestPNG(t, 2000, 2000)

	result, err := p.ProcessForVision(context.Background(), source, Options{})
	if err != nil {
		t.Fatalf("process for vision: %v", err)
	}

	w, h, name := decodeSize(t, result.Data)
	if w != 1024 || h != 1024 || name != "jpeg" {
		t.Fatalf("expected 1024x1024 jpeg, got %dx%d %s", w, h, name)
	}
	if result.Metadata.Format != FormatJPEG || result.Metadata.Width != 1024 {
		t.Fatalf("metadata not recomputed from output: %+v", result.Metadata)
	}
	if result.Applied.Quality != 90 || *result.Applied.Progressive {
		t.Fatalf("expected quality 90 baseline, got %+v", result.Applied)
	}
	if !strings.HasPrefix(result.DataURL, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected data url prefix %.40s", result.DataURL)
	}
	if result.OriginalSize != len(source) || result.CompressedSize != len(result.Data) {
		t.Fatalf("sizes not reported: %+v", result)
	}
	want := float64(result.OriginalSize-result.CompressedSize) / float64(result.OriginalSize) * 100
	if math.Abs(result.CompressionRatio-want) > 1e-9 {
		t.Fatalf("expected ratio %f, got %f", want, result.CompressionRatio)
	}
}

func TestProcessForVisionFromJPEG(t *testing.T) {
	source := buildTestJPEG(t, 2000, 2000, 95)
	if meta, err := Inspect(source); err != nil || meta.Format != FormatJPEG || meta.Progressive {
		t.Fatalf("unexpected source metadata %+v err=%v", meta, err)
	}

	result, err := newTestProcessor(t).ProcessForVision(context.Background(), source, Options{})
	if err != nil {
		t.Fatalf("process for vision: %v", err)
	}
	if w, h, name := decodeSize(t, result.Data); w != 1024 || h != 1024 || name != "jpeg" {
		t.Fatalf("expected 1024x1024 jpeg, got %dx%d %s", w, h, name)
	}
	if result.Metadata.Format != FormatJPEG || result.Metadata.Progressive {
		t.Fatalf("expected baseline jpeg metadata, got %+v", result.Metadata)
	}
	if result.Applied.Quality != 90 {
		t.Fatalf("expected quality 90, got %d", result.Applied.Quality)
	}
	if result.OriginalSize != len(source) {
		t.Fatalf("expected original size %d, got %d", len(source), result.OriginalSize)
	}
}

func TestProcessForVisionNeverEnlarges(t *testing.T) {
	result, err := newTestProcessor(t).ProcessForVision(context.Background(), buildTestPNG(t, 300, 200), Options{})
	if err != nil {
		t.Fatalf("process for vision: %v", err)
	}
	if w, h, _ := decodeSize(t, result.Data); w != 300 || h != 200 {
		t.Fatalf("expected original 300x200, got %dx%d", w, h)
	}
}

func TestProcessForWebWithFormatOverride(t *testing.T) {
	result, err := newTestProcessor(t).ProcessForWeb(context.Background(), buildTestJPEG(t, 1600, 1200, 95), Options{Format: FormatJPEG})
	if err != nil {
		t.Fatalf("process for web: %v", err)
	}
	if w, h, _ := decodeSize(t, result.Data); w != 800 || h != 600 {
		t.Fatalf("expected 800x600, got %dx%d", w, h)
	}
	if result.Applied.Quality != 75 || !*result.Applied.FastShrinkOnLoad {
		t.Fatalf("expected web preset quality and fast shrink, got %+v", result.Applied)
	}
}

func TestProcessIsIdempotentOnOwnOutput(t *testing.T) {
	p := newTestProcessor(t)
	first, err := p.ProcessForVision(context.Background(), buildTestPNG(t, 1500, 900), Options{})
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := p.ProcessForVision(context.Background(), first.Data, Options{})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Metadata.Width != first.Metadata.Width || second.Metadata.Height != first.Metadata.Height {
		t.Fatalf("dimensions changed: %dx%d -> %dx%d",
			first.Metadata.Width, first.Metadata.Height, second.Metadata.Width, second.Metadata.Height)
	}
	if second.Metadata.Format != first.Metadata.Format {
		t.Fatalf("format changed: %s -> %s", first.Metadata.Format, second.Metadata.Format)
	}
}

func TestProcessFlattensAlphaForJPEG(t *testing.T) {
	result, err := newTestProcessor(t).Process(context.Background(), buildAlphaPNG(t, 40, 40), Options{Format: FormatJPEG, Quality: 95})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(result.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	r, g, b, _ := img.At(36, 20).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Fatalf("expected white background, got %d,%d,%d", r>>8, g>>8, b>>8)
	}
	if result.Metadata.HasAlpha {
		t.Fatal("jpeg output reported alpha")
	}
}

func TestProcessKeepsAlphaForPNG(t *testing.T) {
	result, err := newTestProcessor(t).Process(context.Background(), buildAlphaPNG(t, 40, 40), Options{Format: FormatPNG})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Metadata.HasAlpha {
		t.Fatalf("expected alpha kept in png output: %+v", result.Metadata)
	}
}

func TestProcessRejectsUnsupportedTarget(t *testing.T) {
	_, err := newTestProcessor(t).Process(context.Background(), buildTestPNG(t, 10, 10), Options{Format: FormatGIF})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestProcessHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestProcessor(t).Process(ctx, buildTestPNG(t, 10, 10), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcessDataURL(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.ProcessDataURL(context.Background(), EncodeDataURL(buildTestPNG(t, 120, 60), "image/png"), Options{Width: 60})
	if err != nil {
		t.Fatalf("process data url: %v", err)
	}
	if result.Metadata.Width != 60 || result.Metadata.Height != 30 {
		t.Fatalf("expected 60x30, got %dx%d", result.Metadata.Width, result.Metadata.Height)
	}

	if _, err := p.ProcessDataURL(context.Background(), "data:image/png;base64", Options{}); !errors.Is(err, ErrImageProcessing) {
		t.Fatalf("expected processing error for malformed data url, got %v", err)
	}
}

func TestCompressionRatioKeepsSign(t *testing.T) {
	if got := compressionRatio(200, 50); got != 75 {
		t.Fatalf("expected 75, got %f", got)
	}
	if got := compressionRatio(100, 150); got != -50 {
		t.Fatalf("expected -50, got %f", got)
	}
	if got := compressionRatio(0, 10); got != 0 {
		t.Fatalf("expected 0 for empty original, got %f", got)
	}
}

func TestGenerateResponsiveSetSkipsFailedTargets(t *testing.T) {
	spy := newSpyTransformer(t)
	spy.failWidths[400] = true

	var logs bytes.Buffer
	p := newProcessor(spy, log.New(&logs, "", 0), DefaultLimits())

	targets := []Target{
		{Name: "thumbnail", Width: 150, Height: 150},
		{Name: "small", Width: 400, Height: 400},
		{Name: "medium", Width: 800, Height: 800},
	}
	variants, err := p.GenerateResponsiveSet(context.Background(), buildTestPNG(t, 1600, 1200), targets, Options{Format: FormatJPEG})
	if err != nil {
		t.Fatalf("generate responsive set: %v", err)
	}

	if len(variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(variants))
	}
	if variants[0].Name != "thumbnail" || variants[1].Name != "medium" {
		t.Fatalf("unexpected order %s, %s", variants[0].Name, variants[1].Name)
	}
	if variants[0].Result.Metadata.Width != 150 || variants[1].Result.Metadata.Width != 800 {
		t.Fatalf("unexpected widths %d, %d", variants[0].Result.Metadata.Width, variants[1].Result.Metadata.Width)
	}
	if spy.transforms != 3 {
		t.Fatalf("expected every target attempted, got %d transforms", spy.transforms)
	}
	if !strings.Contains(logs.String(), "skipped name=small") {
		t.Fatalf("expected skip to be logged, got %q", logs.String())
	}
}

func TestGenerateResponsiveSetAllFailReturnsEmpty(t *testing.T) {
	variants, err := newTestProcessor(t).GenerateResponsiveSet(
		context.Background(),
		[]byte("not an image"),
		[]Target{{Name: "a", Width: 10}, {Name: "b", Width: 20}},
		Options{},
	)
	if err != nil {
		t.Fatalf("expected no error for per-target failures, got %v", err)
	}
	if len(variants) != 0 {
		t.Fatalf("expected empty set, got %d", len(variants))
	}
}

func TestMetadata(t *testing.T) {
	meta, err := newTestProcessor(t).Metadata(context.Background(), buildTestJPEG(t, 33, 21, 80))
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Width != 33 || meta.Height != 21 || meta.Format != FormatJPEG {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

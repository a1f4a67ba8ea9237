package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// imagingTransformer is the pure Go backend. It encodes JPEG and PNG; WEBP
// and AVIF output need the govips build.
type imagingTransformer struct{}

func (imagingTransformer) Inspect(ctx context.Context, input []byte) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	return inspectImage(input)
}

func (t imagingTransformer) Transform(ctx context.Context, input []byte, s settings) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Format == FormatWEBP || s.Format == FormatAVIF {
		return nil, fmt.Errorf("encode %s: %w", s.Format, ErrEncoderUnavailable)
	}

	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(s.AutoOrient))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	out := resizeImaging(src, s)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.flattenAlpha() && !isOpaque(out) {
		bg := s.Background
		bg.A = 255
		b := out.Bounds()
		out = imaging.Overlay(imaging.New(b.Dx(), b.Dy(), nrgba(bg)), out, image.Pt(0, 0), 1.0)
	}

	return encodeImaging(out, s)
}

func resizeImaging(src image.Image, s settings) image.Image {
	b := src.Bounds()
	plan := planResize(b.Dx(), b.Dy(), s.Width, s.Height, s.Fit, s.Enlarge)

	filter := imaging.Lanczos
	if s.FastShrinkOnLoad {
		filter = imaging.Box
	}

	out := src
	if plan.resizes(b.Dx(), b.Dy()) {
		out = imaging.Resize(src, plan.ScaledWidth, plan.ScaledHeight, filter)
	}

	switch {
	case plan.Crop:
		rect := image.Rect(plan.OffsetX, plan.OffsetY, plan.OffsetX+plan.CanvasWidth, plan.OffsetY+plan.CanvasHeight)
		out = imaging.Crop(out, rect.Add(out.Bounds().Min))
	case plan.Embed:
		canvas := imaging.New(plan.CanvasWidth, plan.CanvasHeight, nrgba(s.Background))
		out = imaging.Paste(canvas, out, image.Pt(plan.OffsetX, plan.OffsetY))
	}
	return out
}

func encodeImaging(img image.Image, s settings) ([]byte, error) {
	var buf bytes.Buffer
	switch s.Format {
	case FormatJPEG:
		// image/jpeg has no progressive encoder; Progressive is honoured by govips only.
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.Quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(stdPNGCompression(s.Quality))); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		return nil, UnsupportedFormatError("encode", string(s.Format))
	}
	return buf.Bytes(), nil
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

func nrgba(c Color) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

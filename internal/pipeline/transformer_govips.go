//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/davidbyttow/govips/v2/vips"
)

// govipsTransformer runs the pipeline on libvips and supports every output format.
type govipsTransformer struct{}

func (govipsTransformer) Inspect(ctx context.Context, input []byte) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	meta, err := inspectImage(input)
	if err == nil && meta.Width > 0 && meta.Height > 0 {
		return meta, nil
	}
	if len(input) == 0 {
		return meta, err
	}

	img, vErr := vips.NewImageFromBuffer(input)
	if vErr != nil {
		if err != nil {
			return Metadata{}, err
		}
		return Metadata{}, ImageProcessingError("inspect", "decode image", vErr)
	}
	defer img.Close()

	if meta.Format == FormatUnknown {
		meta.Format = formatFromVips(img.Format())
	}
	meta.Width = img.Width()
	meta.Height = img.Height()
	meta.Size = len(input)
	meta.HasAlpha = img.HasAlpha()
	meta.Channels = img.Bands()
	meta.Orientation = img.Orientation()
	meta.ColorSpace = interpretationName(img.Interpretation())
	// libvips resolution is pixels per millimetre.
	if res := img.ResX(); res > 0 {
		meta.Density = int(math.Round(res * 25.4))
	}
	return meta, nil
}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, s settings) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := vips.NewImportParams()
	if s.FastShrinkOnLoad && vips.DetermineImageType(input) == vips.ImageTypeJPEG {
		if factor := jpegShrinkFactor(input, s); factor > 1 {
			params.JpegShrinkFactor.Set(factor)
		}
	}

	img, err := vips.LoadImageFromBuffer(input, params)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if s.AutoOrient {
		if err := img.AutoRotate(); err != nil {
			return nil, fmt.Errorf("auto-orient: %w", err)
		}
	}

	if err := resizeGovips(img, s); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.flattenAlpha() && img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: s.Background.R, G: s.Background.G, B: s.Background.B}); err != nil {
			return nil, fmt.Errorf("flatten alpha: %w", err)
		}
	}

	return exportGovips(img, s)
}

// jpegShrinkFactor picks the largest libjpeg shrink-on-load factor that still
// leaves at least the planned output size to resample from.
func jpegShrinkFactor(input []byte, s settings) int {
	meta, err := inspectImage(input)
	if err != nil || meta.Width == 0 || meta.Height == 0 {
		return 1
	}
	plan := planResize(meta.Width, meta.Height, s.Width, s.Height, s.Fit, s.Enlarge)
	for _, factor := range []int{8, 4, 2} {
		if meta.Width/factor >= plan.ScaledWidth && meta.Height/factor >= plan.ScaledHeight {
			return factor
		}
	}
	return 1
}

func resizeGovips(img *vips.ImageRef, s settings) error {
	srcW, srcH := img.Width(), img.Height()
	plan := planResize(srcW, srcH, s.Width, s.Height, s.Fit, s.Enlarge)

	if plan.resizes(srcW, srcH) {
		hscale := float64(plan.ScaledWidth) / float64(srcW)
		vscale := float64(plan.ScaledHeight) / float64(srcH)
		if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
			return fmt.Errorf("resize image: %w", err)
		}
	}

	switch {
	case plan.Crop:
		if err := img.ExtractArea(plan.OffsetX, plan.OffsetY, plan.CanvasWidth, plan.CanvasHeight); err != nil {
			return fmt.Errorf("crop image: %w", err)
		}
	case plan.Embed:
		bg := &vips.Color{R: s.Background.R, G: s.Background.G, B: s.Background.B}
		if err := img.EmbedBackground(plan.OffsetX, plan.OffsetY, plan.CanvasWidth, plan.CanvasHeight, bg); err != nil {
			return fmt.Errorf("embed image: %w", err)
		}
	}
	return nil
}

func exportGovips(img *vips.ImageRef, s settings) ([]byte, error) {
	switch s.Format {
	case FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = s.Quality
		params.Interlace = s.Progressive
		params.OptimizeScans = s.Progressive
		params.OptimizeCoding = true
		params.TrellisQuant = true
		params.OvershootDeringing = true
		params.StripMetadata = true
		params.SubsampleMode = vips.VipsForeignSubsampleAuto
		if s.Quality >= 90 {
			params.SubsampleMode = vips.VipsForeignSubsampleOff
		}
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case FormatPNG:
		params := vips.NewPngExportParams()
		params.Compression = pngCompressionLevel(s.Quality)
		params.Filter = vips.PngFilterAll
		params.Interlace = s.Progressive
		params.StripMetadata = true
		data, _, err := img.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case FormatWEBP:
		params := vips.NewWebpExportParams()
		params.Quality = s.Quality
		params.Lossless = false
		params.NearLossless = false
		params.ReductionEffort = 4
		params.StripMetadata = true
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case FormatAVIF:
		params := vips.NewAvifExportParams()
		params.Quality = s.Quality
		params.Effort = 4
		params.StripMetadata = true
		data, _, err := img.ExportAvif(params)
		if err != nil {
			return nil, fmt.Errorf("encode avif: %w", err)
		}
		return data, nil
	default:
		return nil, UnsupportedFormatError("encode", string(s.Format))
	}
}

func formatFromVips(t vips.ImageType) Format {
	switch t {
	case vips.ImageTypeJPEG:
		return FormatJPEG
	case vips.ImageTypePNG:
		return FormatPNG
	case vips.ImageTypeWEBP:
		return FormatWEBP
	case vips.ImageTypeAVIF:
		return FormatAVIF
	case vips.ImageTypeGIF:
		return FormatGIF
	case vips.ImageTypeTIFF:
		return FormatTIFF
	default:
		return FormatUnknown
	}
}

func interpretationName(i vips.Interpretation) string {
	switch i {
	case vips.InterpretationSRGB, vips.InterpretationRGB, vips.InterpretationRGB16:
		return "srgb"
	case vips.InterpretationBW, vips.InterpretationGrey16:
		return "b-w"
	case vips.InterpretationCMYK:
		return "cmyk"
	case vips.InterpretationLAB:
		return "lab"
	case vips.InterpretationScRGB:
		return "scrgb"
	default:
		return "unknown"
	}
}

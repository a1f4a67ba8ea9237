package pipeline

import (
	"context"
	"fmt"
)

const (
	DefaultMaxSizeMB = 10
	DefaultMinWidth  = 1
	DefaultMinHeight = 1
)

// Limits bound what the Processor accepts. Zero fields take the defaults.
type Limits struct {
	MaxSizeMB float64
	MinWidth  int
	MinHeight int
}

func DefaultLimits() Limits {
	return Limits{
		MaxSizeMB: DefaultMaxSizeMB,
		MinWidth:  DefaultMinWidth,
		MinHeight: DefaultMinHeight,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = DefaultMaxSizeMB
	}
	if l.MinWidth <= 0 {
		l.MinWidth = DefaultMinWidth
	}
	if l.MinHeight <= 0 {
		l.MinHeight = DefaultMinHeight
	}
	return l
}

// CheckSize rejects buffers larger than maxMB megabytes without decoding them.
func CheckSize(data []byte, maxMB float64) error {
	if maxMB <= 0 {
		maxMB = DefaultMaxSizeMB
	}
	limit := maxMB * 1024 * 1024
	if float64(len(data)) > limit {
		return ImageSizeError(
			"check size",
			fmt.Sprintf("image is %.2f MB, limit is %g MB", float64(len(data))/(1024*1024), maxMB),
			nil,
		)
	}
	return nil
}

// CheckDimensions inspects data and rejects images smaller than minWidth x
// minHeight. An image whose dimensions cannot be read fails as well.
func CheckDimensions(ctx context.Context, data []byte, minWidth, minHeight int) (Metadata, error) {
	t, err := newTransformer()
	if err != nil {
		return Metadata{}, ImageProcessingError("check dimensions", "build transformer", err)
	}
	return checkDimensions(ctx, t, data, minWidth, minHeight)
}

func checkDimensions(ctx context.Context, t Transformer, data []byte, minWidth, minHeight int) (Metadata, error) {
	meta, err := t.Inspect(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return Metadata{}, ctx.Err()
		}
		return meta, ImageSizeError("check dimensions", "unable to determine image dimensions", err)
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return meta, ImageSizeError("check dimensions", "unable to determine image dimensions", nil)
	}
	if meta.Width < minWidth || meta.Height < minHeight {
		return meta, ImageSizeError(
			"check dimensions",
			fmt.Sprintf("image is %dx%d, minimum is %dx%d", meta.Width, meta.Height, minWidth, minHeight),
			nil,
		)
	}
	return meta, nil
}

// Validate runs the size and dimension guards the Processor applies before
// every transform and returns the source metadata.
func (p *Processor) Validate(ctx context.Context, data []byte) (Metadata, error) {
	if err := CheckSize(data, p.limits.MaxSizeMB); err != nil {
		return Metadata{}, err
	}
	return checkDimensions(ctx, p.transformer, data, p.limits.MinWidth, p.limits.MinHeight)
}

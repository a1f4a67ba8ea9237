package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Target is one entry of a responsive set.
type Target struct {
	Name   string `json:"name"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type Variant struct {
	Name   string `json:"name"`
	Result Result `json:"result"`
}

// DefaultResponsiveTargets is used when a caller asks for a responsive set
// without naming targets.
func DefaultResponsiveTargets() []Target {
	return []Target{
		{Name: "thumbnail", Width: 150, Height: 150},
		{Name: "small", Width: 400, Height: 400},
		{Name: "medium", Width: 800, Height: 800},
		{Name: "large", Width: 1200, Height: 1200},
	}
}

// Processor normalizes images: guards, transform, encode, measure.
type Processor struct {
	transformer Transformer
	limits      Limits
	logger      *log.Logger
	tracer      trace.Tracer
}

// NewProcessor builds a Processor on the backend selected at build time.
// A nil logger discards output.
func NewProcessor(logger *log.Logger, limits Limits) (*Processor, error) {
	transformer, err := newTransformer()
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}
	return newProcessor(transformer, logger, limits), nil
}

func newProcessor(transformer Transformer, logger *log.Logger, limits Limits) *Processor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Processor{
		transformer: transformer,
		limits:      limits.withDefaults(),
		logger:      logger,
		tracer:      otel.Tracer("pixelprep/pipeline"),
	}
}

func (p *Processor) Limits() Limits {
	return p.limits
}

// Metadata inspects data without transforming it.
func (p *Processor) Metadata(ctx context.Context, data []byte) (Metadata, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.metadata")
	defer span.End()

	meta, err := p.transformer.Inspect(ctx, data)
	if err != nil {
		err = wrapProcessing("metadata", "inspect image", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "inspect failed")
		return Metadata{}, err
	}
	span.SetAttributes(
		attribute.String("image.format", meta.Format.String()),
		attribute.Int("image.width", meta.Width),
		attribute.Int("image.height", meta.Height),
	)
	return meta, nil
}

// Process runs the size guard, the dimension guard, the transform and a
// metadata read of the output, in that order. The size guard never decodes.
func (p *Processor) Process(ctx context.Context, data []byte, opts Options) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	defer span.End()
	span.SetAttributes(attribute.Int("image.input_bytes", len(data)))

	result, err := p.process(ctx, data, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("image.format", result.Metadata.Format.String()),
		attribute.Int("image.output_bytes", result.CompressedSize),
		attribute.Float64("image.compression_ratio", result.CompressionRatio),
	)
	return result, nil
}

func (p *Processor) process(ctx context.Context, data []byte, opts Options) (Result, error) {
	s, err := resolveOptions(opts)
	if err != nil {
		return Result{}, err
	}

	if err := CheckSize(data, p.limits.MaxSizeMB); err != nil {
		return Result{}, err
	}
	if _, err := checkDimensions(ctx, p.transformer, data, p.limits.MinWidth, p.limits.MinHeight); err != nil {
		return Result{}, err
	}

	output, err := p.transformer.Transform(ctx, data, s)
	if err != nil {
		return Result{}, wrapProcessing("process", "transform image", err)
	}

	meta, err := p.transformer.Inspect(ctx, output)
	if err != nil {
		return Result{}, wrapProcessing("process", "inspect output", err)
	}

	return newResult(data, output, meta, s), nil
}

// ProcessForVision applies the vision preset, then override.
func (p *Processor) ProcessForVision(ctx context.Context, data []byte, override Options) (Result, error) {
	return p.Process(ctx, data, VisionPreset().Merge(override))
}

// ProcessForWeb applies the web preset, then override.
func (p *Processor) ProcessForWeb(ctx context.Context, data []byte, override Options) (Result, error) {
	return p.Process(ctx, data, WebPreset().Merge(override))
}

// ProcessDataURL decodes a base64 data URL and processes its bytes.
func (p *Processor) ProcessDataURL(ctx context.Context, dataURL string, opts Options) (Result, error) {
	data, _, err := DecodeDataURL(dataURL)
	if err != nil {
		return Result{}, err
	}
	return p.Process(ctx, data, opts)
}

// GenerateResponsiveSet processes data once per target, one after another.
// A failed target is logged and left out; the rest keep their input order.
// Only cancellation of ctx aborts the whole set.
func (p *Processor) GenerateResponsiveSet(ctx context.Context, data []byte, targets []Target, base Options) ([]Variant, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.responsive_set")
	defer span.End()
	span.SetAttributes(attribute.Int("responsive.targets", len(targets)))

	variants := make([]Variant, 0, len(targets))
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}

		opts := base.Merge(Options{Width: target.Width, Height: target.Height})
		result, err := p.Process(ctx, data, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Printf(
				"responsive variant skipped name=%s size=%dx%d err=%v",
				variantName(target),
				target.Width,
				target.Height,
				err,
			)
			continue
		}
		variants = append(variants, Variant{Name: variantName(target), Result: result})
	}

	span.SetAttributes(attribute.Int("responsive.variants", len(variants)))
	return variants, nil
}

func variantName(t Target) string {
	if name := strings.TrimSpace(t.Name); name != "" {
		return name
	}
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

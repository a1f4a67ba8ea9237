package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

// Request describes one asynchronous responsive-set job.
type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Targets    []Target
	Options    Options
}

// Output is where an emitted variant ended up.
type Output struct {
	Name             string  `json:"name"`
	Format           string  `json:"format"`
	Path             string  `json:"path"`
	Bytes            int     `json:"bytes"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	CompressionRatio float64 `json:"compression_ratio"`
}

type JobResult struct {
	SourceBytes  int
	SourceWidth  int
	SourceHeight int
	Outputs      []Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, variant Variant) (Output, error)
}

// JobRunner is the fetch, generate, emit chain behind the worker.
type JobRunner struct {
	fetcher   Fetcher
	processor *Processor
	emitter   Emitter
}

func NewJobRunner(processor *Processor, fetcher Fetcher, emitter Emitter) (*JobRunner, error) {
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}
	return &JobRunner{fetcher: fetcher, processor: processor, emitter: emitter}, nil
}

func NewLocalJobRunner(processor *Processor, outputDir string) (*JobRunner, error) {
	return NewJobRunner(processor, LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir})
}

func (r *JobRunner) Run(ctx context.Context, req Request) (JobResult, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return JobResult{}, errors.New("job_id is required")
	}
	targets := req.Targets
	if len(targets) == 0 {
		targets = DefaultResponsiveTargets()
	}
	if err := CheckTargetNames(targets); err != nil {
		return JobResult{}, err
	}

	source, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return JobResult{}, fmt.Errorf("fetch stage: %w", err)
	}

	// Guard failures apply to every target alike; report them once instead
	// of as an empty set.
	meta, err := r.processor.Validate(ctx, source)
	if err != nil {
		return JobResult{}, fmt.Errorf("validate stage: %w", err)
	}

	variants, err := r.processor.GenerateResponsiveSet(ctx, source, targets, req.Options)
	if err != nil {
		return JobResult{}, fmt.Errorf("generate stage: %w", err)
	}
	if len(variants) == 0 {
		return JobResult{}, ImageProcessingError("generate stage", "no variant could be produced", nil)
	}

	out := JobResult{
		SourceBytes:  len(source),
		SourceWidth:  meta.Width,
		SourceHeight: meta.Height,
		Outputs:      make([]Output, 0, len(variants)),
	}
	for _, variant := range variants {
		if err := ctx.Err(); err != nil {
			return JobResult{}, err
		}
		written, err := r.emitter.Emit(ctx, req, variant)
		if err != nil {
			return JobResult{}, fmt.Errorf("emit stage variant=%s: %w", variant.Name, err)
		}
		out.Outputs = append(out.Outputs, written)
	}
	return out, nil
}

// BytesSaved sums the source size minus each output size. It is negative
// when variants come out larger than the source.
func (r JobResult) BytesSaved() int64 {
	var saved int64
	for _, o := range r.Outputs {
		saved += int64(r.SourceBytes - o.Bytes)
	}
	return saved
}

// PixelsProcessed counts output pixels across all variants.
func (r JobResult) PixelsProcessed() int64 {
	var px int64
	for _, o := range r.Outputs {
		px += int64(o.Width) * int64(o.Height)
	}
	return px
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, variant Variant) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, variantFilename(variant))
	if err := os.WriteFile(fullPath, variant.Result.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}
	return outputFor(variant, fullPath), nil
}

// CheckTargetNames rejects targets whose names map to the same output file,
// such as "leaf top" and "leaf_top".
func CheckTargetNames(targets []Target) error {
	seen := make(map[string]string, len(targets))
	for _, t := range targets {
		name := variantName(t)
		token := strings.ToLower(sanitizePathToken(name))
		if prev, ok := seen[token]; ok {
			return ImageProcessingError(
				"check targets",
				fmt.Sprintf("targets %q and %q share the output name %q", prev, name, token),
				ErrInvalidOptions,
			)
		}
		seen[token] = name
	}
	return nil
}

func variantFilename(v Variant) string {
	return fmt.Sprintf("%s.%s", sanitizePathToken(v.Name), v.Result.Metadata.Format.Extension())
}

func outputFor(v Variant, path string) Output {
	return Output{
		Name:             v.Name,
		Format:           v.Result.Metadata.Format.String(),
		Path:             path,
		Bytes:            v.Result.CompressedSize,
		Width:            v.Result.Metadata.Width,
		Height:           v.Result.Metadata.Height,
		CompressionRatio: v.Result.CompressionRatio,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

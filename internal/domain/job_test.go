package domain

import (
	"errors"
	"testing"

	"github.com/cannaai/pixelprep/internal/pipeline"
)

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Preset:     "web",
		Targets: []pipeline.Target{
			{Name: "thumb", Width: 150},
			{Name: "card", Width: 400, Height: 300},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateJobRequest{SourceType: SourceTypeLocalFile}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for local_file object_key")
	}

	unsupportedSourceType := CreateJobRequest{SourceType: "http_url"}
	if err := unsupportedSourceType.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}

	duplicated := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Targets:    []pipeline.Target{{Name: "a", Width: 10}, {Name: "a", Width: 20}},
	}
	if err := duplicated.Validate(); err == nil {
		t.Fatal("expected validation error for duplicated target names")
	}

	sameFile := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Targets:    []pipeline.Target{{Name: "leaf top", Width: 150}, {Name: "leaf_top", Width: 600}},
	}
	if err := sameFile.Validate(); !errors.Is(err, pipeline.ErrInvalidOptions) {
		t.Fatalf("expected names sharing an output file to be rejected, got %v", err)
	}

	unbounded := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Targets:    []pipeline.Target{{Name: "a"}},
	}
	if err := unbounded.Validate(); err == nil {
		t.Fatal("expected validation error for target without bounds")
	}
}

func TestCreateJobRequestResolvedOptions(t *testing.T) {
	req := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Preset:     "vision",
		Options:    pipeline.Options{Quality: 70},
	}
	opts, err := req.ResolvedOptions()
	if err != nil {
		t.Fatalf("resolve options: %v", err)
	}
	if opts.Quality != 70 || opts.Format != pipeline.FormatJPEG || opts.Width != 1024 {
		t.Fatalf("unexpected merged options %+v", opts)
	}

	badPreset := CreateJobRequest{SourceType: SourceTypeS3Presigned, Preset: "poster"}
	if _, err := badPreset.ResolvedOptions(); !errors.Is(err, pipeline.ErrInvalidOptions) {
		t.Fatalf("expected invalid options for unknown preset, got %v", err)
	}

	badFormat := CreateJobRequest{SourceType: SourceTypeS3Presigned, Options: pipeline.Options{Format: "bmp"}}
	if err := badFormat.Validate(); !errors.Is(err, pipeline.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestJobEffectiveTargets(t *testing.T) {
	if got := len(Job{}.EffectiveTargets()); got != len(pipeline.DefaultResponsiveTargets()) {
		t.Fatalf("expected default targets, got %d", got)
	}
	job := Job{Targets: []pipeline.Target{{Name: "x", Width: 1}}}
	if got := len(job.EffectiveTargets()); got != 1 {
		t.Fatalf("expected explicit targets, got %d", got)
	}
}

package pipeline

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkProcessForVision(b *testing.B) {
	source := buildTestPNG(b, 1920, 1080)
	processor, err := NewProcessor(nil, Limits{})
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.ProcessForVision(context.Background(), source, Options{}); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkJobRunnerResponsiveSet(b *testing.B) {
	source := buildTestJPEG(b, 1920, 1080, 90)
	processor, err := NewProcessor(nil, Limits{})
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}
	runner, err := NewJobRunner(processor, staticFetcher{data: source}, discardEmitter{})
	if err != nil {
		b.Fatalf("new job runner: %v", err)
	}

	req := Request{
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "ignored.jpg",
		Options:    Options{Format: FormatJPEG, Quality: 82},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-responsive-%d", i)
		if _, err := runner.Run(context.Background(), req); err != nil {
			b.Fatalf("run: %v", err)
		}
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, variant Variant) (Output, error) {
	return outputFor(variant, ""), nil
}

package pipeline

import (
	"context"
	"image/png"
)

// Transformer is implemented once per image backend. Transform runs the full
// orient/resize/flatten/encode chain on input and returns the new encoding;
// Inspect derives Metadata from an encoded buffer.
type Transformer interface {
	Transform(ctx context.Context, input []byte, s settings) ([]byte, error)
	Inspect(ctx context.Context, input []byte) (Metadata, error)
}

// pngCompressionLevel maps quality onto a zlib effort level: lower quality
// spends more effort on a smaller file.
func pngCompressionLevel(quality int) int {
	level := 9 - (quality*9)/100
	return min(9, max(0, level))
}

func stdPNGCompression(quality int) png.CompressionLevel {
	switch level := pngCompressionLevel(quality); {
	case level >= 7:
		return png.BestCompression
	case level >= 4:
		return png.DefaultCompression
	case level >= 1:
		return png.BestSpeed
	default:
		return png.NoCompression
	}
}

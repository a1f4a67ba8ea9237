package pipeline

import "encoding/base64"

// Result is one processed image. Data is omitted from JSON; DataURL carries
// the same bytes.
type Result struct {
	Data             []byte   `json:"-"`
	Metadata         Metadata `json:"metadata"`
	Base64           string   `json:"base64,omitempty"`
	DataURL          string   `json:"data_url"`
	OriginalSize     int      `json:"original_size"`
	CompressedSize   int      `json:"compressed_size"`
	CompressionRatio float64  `json:"compression_ratio"`
	Applied          Options  `json:"applied"`
}

// compressionRatio is the percentage saved. It goes negative when the output
// is larger than the input.
func compressionRatio(original, compressed int) float64 {
	if original <= 0 {
		return 0
	}
	return float64(original-compressed) / float64(original) * 100
}

func newResult(original, output []byte, meta Metadata, s settings) Result {
	encoded := base64.StdEncoding.EncodeToString(output)
	return Result{
		Data:             output,
		Metadata:         meta,
		Base64:           encoded,
		DataURL:          "data:" + s.Format.MIMEType() + ";base64," + encoded,
		OriginalSize:     len(original),
		CompressedSize:   len(output),
		CompressionRatio: compressionRatio(len(original), len(output)),
		Applied:          s.options(),
	}
}

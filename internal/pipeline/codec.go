package pipeline

import (
	"encoding/base64"
	"regexp"
)

var dataURLPattern = regexp.MustCompile(`^data:([^;,]+);base64,(.+)$`)

// EncodeDataURL renders data as a data:<mime>;base64,<payload> string.
func EncodeDataURL(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a data URL into its bytes and MIME type. The whole
// string must match; partial matches are rejected.
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	m := dataURLPattern.FindStringSubmatch(dataURL)
	if m == nil {
		return nil, "", ImageProcessingError("decode data url", "string is not a base64 data URL", nil)
	}

	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, "", ImageProcessingError("decode data url", "invalid base64 payload", err)
	}
	return data, m[1], nil
}

// ValidateDataURL reports whether dataURL decodes and carries a supported
// image MIME type. It never returns an error.
func ValidateDataURL(dataURL string) bool {
	_, mime, err := DecodeDataURL(dataURL)
	if err != nil {
		return false
	}
	return SupportedMIMETypes[mime]
}

package pipeline

import (
	"strings"
)

// Format is the closed set of image encodings the pipeline understands.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWEBP    Format = "webp"
	FormatAVIF    Format = "avif"
	FormatGIF     Format = "gif"
	FormatTIFF    Format = "tiff"
	FormatUnknown Format = "unknown"
)

// SupportedMIMETypes lists the MIME types accepted as pipeline input.
var SupportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/avif": true,
	"image/gif":  true,
	"image/tiff": true,
}

// ParseFormat accepts a short name ("jpg", "webp") or a MIME type.
func ParseFormat(value string) (Format, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.TrimPrefix(v, "image/")
	switch v {
	case "jpg", "jpeg", "pjpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWEBP, nil
	case "avif":
		return FormatAVIF, nil
	case "gif":
		return FormatGIF, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	default:
		return FormatUnknown, UnsupportedFormatError("parse format", value)
	}
}

func formatFromMIME(mime string) Format {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	f, err := ParseFormat(mime)
	if err != nil {
		return FormatUnknown
	}
	return f
}

// IsOutput reports whether the format can be an encode target.
func (f Format) IsOutput() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatWEBP, FormatAVIF:
		return true
	default:
		return false
	}
}

func (f Format) MIMEType() string {
	if f == FormatUnknown || f == "" {
		return "application/octet-stream"
	}
	return "image/" + string(f)
}

func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatUnknown, "":
		return "bin"
	default:
		return string(f)
	}
}

func (f Format) String() string {
	return string(f)
}

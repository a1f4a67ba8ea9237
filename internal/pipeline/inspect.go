package pipeline

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Metadata is derived from an encoded buffer and never stored separately.
// Fields that cannot be determined stay at their zero value, or "unknown"
// for ColorSpace.
type Metadata struct {
	Format      Format `json:"format"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Size        int    `json:"size"`
	Density     int    `json:"density,omitempty"`
	HasAlpha    bool   `json:"has_alpha"`
	Channels    int    `json:"channels,omitempty"`
	Orientation int    `json:"orientation,omitempty"`
	ColorSpace  string `json:"color_space"`
	Progressive bool   `json:"progressive"`
}

// Inspect reads format and metadata from data using the pure Go decoders.
func Inspect(data []byte) (Metadata, error) {
	return inspectImage(data)
}

func inspectImage(data []byte) (Metadata, error) {
	meta := Metadata{
		Format:     formatFromMIME(mimetype.Detect(data).String()),
		Size:       len(data),
		ColorSpace: "unknown",
	}
	if len(data) == 0 {
		return meta, ImageProcessingError("inspect", "empty image buffer", nil)
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// No pure Go AVIF decoder: report what the signature says and leave
		// dimensions for the caller's guards to reject.
		if meta.Format == FormatAVIF {
			return meta, nil
		}
		return meta, ImageProcessingError("inspect", "decode image header", err)
	}
	if meta.Format == FormatUnknown {
		meta.Format = formatFromMIME(name)
	}

	meta.Width = cfg.Width
	meta.Height = cfg.Height
	meta.Channels, meta.HasAlpha, meta.ColorSpace = describeColorModel(cfg.ColorModel)

	switch meta.Format {
	case FormatJPEG:
		info := scanJPEG(data)
		meta.Progressive = info.progressive
		meta.Density = info.density
	case FormatPNG:
		info := scanPNG(data)
		if info.channels > 0 {
			meta.Channels = info.channels
			meta.HasAlpha = info.alpha
		}
		meta.Progressive = info.interlaced
		meta.Density = info.density
	}

	if x, err := exif.Decode(bytes.NewReader(data)); err == nil {
		meta.Orientation = exifInt(x, exif.Orientation)
		if d := exifDensity(x); d > 0 {
			meta.Density = d
		}
	}

	return meta, nil
}

func describeColorModel(model color.Model) (channels int, alpha bool, space string) {
	if p, ok := model.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return 4, true, "srgb"
			}
		}
		return 3, false, "srgb"
	}

	switch model {
	case color.GrayModel, color.Gray16Model:
		return 1, false, "b-w"
	case color.CMYKModel:
		return 4, false, "cmyk"
	case color.YCbCrModel:
		return 3, false, "srgb"
	case color.NYCbCrAModel, color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model, color.AlphaModel, color.Alpha16Model:
		return 4, true, "srgb"
	}
	return 0, false, "unknown"
}

func exifInt(x *exif.Exif, name exif.FieldName) int {
	tag, err := x.Get(name)
	if err != nil || tag == nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

func exifDensity(x *exif.Exif) int {
	tag, err := x.Get(exif.XResolution)
	if err != nil || tag == nil {
		return 0
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0
	}
	res := float64(num) / float64(den)
	// ResolutionUnit 3 means centimetres.
	if exifInt(x, exif.ResolutionUnit) == 3 {
		res *= 2.54
	}
	return int(math.Round(res))
}

type jpegInfo struct {
	progressive bool
	density     int
}

// scanJPEG walks marker segments up to the first scan.
func scanJPEG(data []byte) jpegInfo {
	var info jpegInfo
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			break
		}
		marker := data[i+1]
		switch {
		case marker == 0xFF:
			i++
			continue
		case marker == 0xD8 || marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			i += 2
			continue
		case marker == 0xDA:
			return info
		case marker == 0xC2 || marker == 0xC6 || marker == 0xCA || marker == 0xCE:
			info.progressive = true
		}

		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if length < 2 || i+2+length > len(data) {
			break
		}
		segment := data[i+4 : i+2+length]
		if marker == 0xE0 && len(segment) >= 12 && bytes.HasPrefix(segment, []byte("JFIF\x00")) {
			units := segment[7]
			x := int(binary.BigEndian.Uint16(segment[8:10]))
			switch units {
			case 1:
				info.density = x
			case 2:
				info.density = int(math.Round(float64(x) * 2.54))
			}
		}
		i += 2 + length
	}
	return info
}

type pngInfo struct {
	channels   int
	alpha      bool
	interlaced bool
	density    int
}

// scanPNG reads IHDR, tRNS and pHYs; the stdlib config decoder reports
// truecolor PNGs as RGBA regardless of an alpha channel.
func scanPNG(data []byte) pngInfo {
	var info pngInfo
	const sigLen = 8
	if len(data) < sigLen+8+13 {
		return info
	}

	colorType := byte(0xFF)
	i := sigLen
	for i+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[i : i+4]))
		kind := string(data[i+4 : i+8])
		start := i + 8
		end := start + length
		if length < 0 || end > len(data) {
			break
		}
		chunk := data[start:end]

		switch kind {
		case "IHDR":
			if len(chunk) < 13 {
				return info
			}
			colorType = chunk[9]
			info.interlaced = chunk[12] == 1
			switch colorType {
			case 0:
				info.channels = 1
			case 2, 3:
				info.channels = 3
			case 4:
				info.channels, info.alpha = 2, true
			case 6:
				info.channels, info.alpha = 4, true
			}
		case "tRNS":
			if !info.alpha {
				info.alpha = true
				info.channels++
			}
		case "pHYs":
			if len(chunk) >= 9 && chunk[8] == 1 {
				ppm := float64(binary.BigEndian.Uint32(chunk[0:4]))
				info.density = int(math.Round(ppm * 0.0254))
			}
		case "IDAT", "IEND":
			return info
		}
		i = end + 4
	}
	return info
}

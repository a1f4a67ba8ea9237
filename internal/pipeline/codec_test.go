package pipeline

import (
	"bytes"
	"strings"
	"testing"
)

func TestDataURLRoundTrip(t *testing.T) {
	data := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff, 0x10}

	encoded := EncodeDataURL(data, "image/png")
	if !strings.HasPrefix(encoded, "data:image/png;base64,") {
		t.Fatalf("unexpected prefix: %s", encoded)
	}

	decoded, mime, err := DecodeDataURL(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mime != "image/png" {
		t.Fatalf("expected image/png, got %s", mime)
	}
	if !bytes.Equal(decoded, data) {
		t.Fatalf("round trip mismatch: %v != %v", decoded, data)
	}
}

func TestDecodeDataURLRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"not a data url",
		"data:image/png,aGVsbG8=",
		"xdata:image/png;base64,aGVsbG8=",
		"data:image/png;base64,@@@",
		"data:;base64,aGVsbG8=",
	} {
		_, _, err := DecodeDataURL(in)
		if err == nil {
			t.Fatalf("expected error for %q", in)
		}
		if KindOf(err) != KindImageProcessing {
			t.Fatalf("expected processing error for %q, got %v", in, err)
		}
	}
}

func TestValidateDataURL(t *testing.T) {
	cases := map[string]bool{
		EncodeDataURL([]byte("x"), "image/jpeg"):    true,
		EncodeDataURL([]byte("x"), "image/avif"):    true,
		EncodeDataURL([]byte("x"), "image/svg+xml"): false,
		EncodeDataURL([]byte("x"), "text/plain"):    false,
		"data:image/png;base64,%%%":                 false,
		"garbage":                                   false,
	}
	for in, want := range cases {
		if got := ValidateDataURL(in); got != want {
			t.Fatalf("ValidateDataURL(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"jpg":        FormatJPEG,
		"JPEG":       FormatJPEG,
		"image/jpeg": FormatJPEG,
		"png":        FormatPNG,
		"image/webp": FormatWEBP,
		"avif":       FormatAVIF,
		"tif":        FormatTIFF,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil {
			t.Fatalf("ParseFormat(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseFormat(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseFormat("bmp"); KindOf(err) != KindUnsupportedFormat {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
	if FormatJPEG.Extension() != "jpg" || FormatWEBP.MIMEType() != "image/webp" {
		t.Fatal("unexpected extension or mime mapping")
	}
}

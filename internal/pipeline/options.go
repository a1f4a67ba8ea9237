package pipeline

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Fit controls how an image is resized into Width x Height bounds.
type Fit string

const (
	// FitInside preserves aspect ratio and keeps both sides within bounds.
	FitInside Fit = "inside"
	// FitContain is FitInside letterboxed onto a Background canvas of the exact bounds.
	FitContain Fit = "contain"
	// FitCover preserves aspect ratio, fills the bounds and crops the overflow.
	FitCover Fit = "cover"
	// FitFill stretches to the exact bounds.
	FitFill Fit = "fill"
	// FitOutside preserves aspect ratio with both sides at or beyond the bounds.
	FitOutside Fit = "outside"
)

func parseFit(value Fit) (Fit, error) {
	switch Fit(strings.ToLower(strings.TrimSpace(string(value)))) {
	case "", FitInside:
		return FitInside, nil
	case FitContain:
		return FitContain, nil
	case FitCover:
		return FitCover, nil
	case FitFill:
		return FitFill, nil
	case FitOutside:
		return FitOutside, nil
	default:
		return "", fmt.Errorf("%w: unknown fit %q", ErrInvalidOptions, value)
	}
}

// Color is an 8-bit RGBA colour. It marshals as #rrggbb or #rrggbbaa.
type Color struct {
	R, G, B, A uint8
}

var White = Color{R: 255, G: 255, B: 255, A: 255}

func ParseColor(value string) (Color, error) {
	v := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(v) != 6 && len(v) != 8 {
		return Color{}, fmt.Errorf("%w: colour %q must be #rrggbb or #rrggbbaa", ErrInvalidOptions, value)
	}
	raw, err := hex.DecodeString(v)
	if err != nil {
		return Color{}, fmt.Errorf("%w: colour %q: %v", ErrInvalidOptions, value, err)
	}
	c := Color{R: raw[0], G: raw[1], B: raw[2], A: 255}
	if len(raw) == 4 {
		c.A = raw[3]
	}
	return c, nil
}

func (c Color) String() string {
	if c.A == 255 {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Options is the caller-facing processing configuration. Zero values and nil
// pointers mean "not set", which lets presets be overridden field by field.
type Options struct {
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	Quality          int    `json:"quality,omitempty"`
	Format           Format `json:"format,omitempty"`
	Fit              Fit    `json:"fit,omitempty"`
	Background       *Color `json:"background,omitempty"`
	Progressive      *bool  `json:"progressive,omitempty"`
	Enlarge          *bool  `json:"enlarge,omitempty"`
	FastShrinkOnLoad *bool  `json:"fast_shrink_on_load,omitempty"`
	AutoOrient       *bool  `json:"auto_orient,omitempty"`
	Flatten          *bool  `json:"flatten,omitempty"`
}

// Bool returns a pointer to v for the tri-state Options fields.
func Bool(v bool) *bool {
	return &v
}

// Merge returns o with every field set in override replacing o's value.
func (o Options) Merge(override Options) Options {
	out := o
	if override.Width != 0 {
		out.Width = override.Width
	}
	if override.Height != 0 {
		out.Height = override.Height
	}
	if override.Quality != 0 {
		out.Quality = override.Quality
	}
	if override.Format != "" {
		out.Format = override.Format
	}
	if override.Fit != "" {
		out.Fit = override.Fit
	}
	if override.Background != nil {
		out.Background = override.Background
	}
	if override.Progressive != nil {
		out.Progressive = override.Progressive
	}
	if override.Enlarge != nil {
		out.Enlarge = override.Enlarge
	}
	if override.FastShrinkOnLoad != nil {
		out.FastShrinkOnLoad = override.FastShrinkOnLoad
	}
	if override.AutoOrient != nil {
		out.AutoOrient = override.AutoOrient
	}
	if override.Flatten != nil {
		out.Flatten = override.Flatten
	}
	return out
}

const (
	defaultQuality = 80
	defaultFormat  = FormatJPEG
)

// settings is Options with every default applied and validated; it is what
// the transformers consume.
type settings struct {
	Width            int
	Height           int
	Quality          int
	Format           Format
	Fit              Fit
	Background       Color
	Progressive      bool
	Enlarge          bool
	FastShrinkOnLoad bool
	AutoOrient       bool
	Flatten          bool
}

func resolveOptions(o Options) (settings, error) {
	s := settings{
		Width:            o.Width,
		Height:           o.Height,
		Quality:          o.Quality,
		Format:           defaultFormat,
		Background:       White,
		FastShrinkOnLoad: true,
		AutoOrient:       true,
	}

	if o.Width < 0 || o.Height < 0 {
		return settings{}, ImageProcessingError("resolve options", "width and height must not be negative", ErrInvalidOptions)
	}
	if o.Quality < 0 || o.Quality > 100 {
		return settings{}, ImageProcessingError("resolve options", fmt.Sprintf("quality %d outside 0-100", o.Quality), ErrInvalidOptions)
	}
	if s.Quality == 0 {
		s.Quality = defaultQuality
	}

	if o.Format != "" {
		f, err := ParseFormat(string(o.Format))
		if err != nil || !f.IsOutput() {
			return settings{}, UnsupportedFormatError("resolve options", string(o.Format))
		}
		s.Format = f
	}

	fit, err := parseFit(o.Fit)
	if err != nil {
		return settings{}, ImageProcessingError("resolve options", "invalid fit", err)
	}
	s.Fit = fit

	if o.Background != nil {
		s.Background = *o.Background
	}
	if o.Progressive != nil {
		s.Progressive = *o.Progressive
	}
	if o.Enlarge != nil {
		s.Enlarge = *o.Enlarge
	}
	if o.FastShrinkOnLoad != nil {
		s.FastShrinkOnLoad = *o.FastShrinkOnLoad
	}
	if o.AutoOrient != nil {
		s.AutoOrient = *o.AutoOrient
	}
	if o.Flatten != nil {
		s.Flatten = *o.Flatten
	}
	return s, nil
}

// options turns resolved settings back into a fully populated Options value.
func (s settings) options() Options {
	bg := s.Background
	return Options{
		Width:            s.Width,
		Height:           s.Height,
		Quality:          s.Quality,
		Format:           s.Format,
		Fit:              s.Fit,
		Background:       &bg,
		Progressive:      Bool(s.Progressive),
		Enlarge:          Bool(s.Enlarge),
		FastShrinkOnLoad: Bool(s.FastShrinkOnLoad),
		AutoOrient:       Bool(s.AutoOrient),
		Flatten:          Bool(s.Flatten),
	}
}

// flattenAlpha reports whether alpha must be composited onto Background
// before encoding.
func (s settings) flattenAlpha() bool {
	return s.Flatten || s.Format == FormatJPEG
}

// Validate reports whether o would be accepted by Process.
func (o Options) Validate() error {
	_, err := resolveOptions(o)
	return err
}

package pipeline

import (
	"fmt"
	"strings"
)

const (
	PresetVision = "vision"
	PresetWeb    = "web"
)

// VisionPreset favours fidelity for downstream vision models over file size.
func VisionPreset() Options {
	return Options{
		Width:            1024,
		Height:           1024,
		Quality:          90,
		Format:           FormatJPEG,
		Fit:              FitInside,
		Progressive:      Bool(false),
		FastShrinkOnLoad: Bool(false),
	}
}

// WebPreset favours transfer size for browser display.
func WebPreset() Options {
	return Options{
		Width:            800,
		Height:           600,
		Quality:          75,
		Format:           FormatWEBP,
		Fit:              FitInside,
		Progressive:      Bool(true),
		FastShrinkOnLoad: Bool(true),
	}
}

// PresetByName resolves "vision", "vision-model" or "web".
func PresetByName(name string) (Options, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PresetVision, "vision-model", "vision_model":
		return VisionPreset(), nil
	case PresetWeb:
		return WebPreset(), nil
	default:
		return Options{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidOptions, name)
	}
}

package pipeline

import "math"

// resizePlan is the backend-independent outcome of fitting a source image
// into the requested bounds. The source is scaled to Scaled*, then either
// cropped (cover) or embedded (contain) into a Canvas* output at Offset*.
type resizePlan struct {
	ScaledWidth  int
	ScaledHeight int
	CanvasWidth  int
	CanvasHeight int
	OffsetX      int
	OffsetY      int
	Crop         bool
	Embed        bool
}

func (p resizePlan) resizes(srcW, srcH int) bool {
	return p.ScaledWidth != srcW || p.ScaledHeight != srcH
}

func planResize(srcW, srcH, targetW, targetH int, fit Fit, enlarge bool) resizePlan {
	identity := resizePlan{
		ScaledWidth:  srcW,
		ScaledHeight: srcH,
		CanvasWidth:  srcW,
		CanvasHeight: srcH,
	}
	if srcW <= 0 || srcH <= 0 || (targetW <= 0 && targetH <= 0) {
		return identity
	}

	// A single bound always scales proportionally.
	if targetW <= 0 || targetH <= 0 {
		var scale float64
		if targetW > 0 {
			scale = float64(targetW) / float64(srcW)
		} else {
			scale = float64(targetH) / float64(srcH)
		}
		if !enlarge && scale > 1 {
			return identity
		}
		w, h := scaled(srcW, scale), scaled(srcH, scale)
		return resizePlan{ScaledWidth: w, ScaledHeight: h, CanvasWidth: w, CanvasHeight: h}
	}

	sx := float64(targetW) / float64(srcW)
	sy := float64(targetH) / float64(srcH)

	switch fit {
	case FitFill:
		w, h := targetW, targetH
		if !enlarge {
			w, h = min(w, srcW), min(h, srcH)
		}
		return resizePlan{ScaledWidth: w, ScaledHeight: h, CanvasWidth: w, CanvasHeight: h}

	case FitCover:
		scale := math.Max(sx, sy)
		if !enlarge {
			scale = math.Min(scale, 1)
		}
		w, h := scaled(srcW, scale), scaled(srcH, scale)
		cw, ch := min(targetW, w), min(targetH, h)
		return resizePlan{
			ScaledWidth:  w,
			ScaledHeight: h,
			CanvasWidth:  cw,
			CanvasHeight: ch,
			OffsetX:      (w - cw) / 2,
			OffsetY:      (h - ch) / 2,
			Crop:         cw != w || ch != h,
		}

	case FitContain:
		scale := math.Min(sx, sy)
		if !enlarge {
			scale = math.Min(scale, 1)
		}
		w, h := scaled(srcW, scale), scaled(srcH, scale)
		return resizePlan{
			ScaledWidth:  w,
			ScaledHeight: h,
			CanvasWidth:  targetW,
			CanvasHeight: targetH,
			OffsetX:      (targetW - w) / 2,
			OffsetY:      (targetH - h) / 2,
			Embed:        w != targetW || h != targetH,
		}

	case FitOutside:
		scale := math.Max(sx, sy)
		if !enlarge {
			scale = math.Min(scale, 1)
		}
		w, h := scaled(srcW, scale), scaled(srcH, scale)
		return resizePlan{ScaledWidth: w, ScaledHeight: h, CanvasWidth: w, CanvasHeight: h}

	default:
		scale := math.Min(sx, sy)
		if !enlarge {
			scale = math.Min(scale, 1)
		}
		w, h := scaled(srcW, scale), scaled(srcH, scale)
		return resizePlan{ScaledWidth: w, ScaledHeight: h, CanvasWidth: w, CanvasHeight: h}
	}
}

func scaled(v int, scale float64) int {
	return max(1, int(math.Round(float64(v)*scale)))
}

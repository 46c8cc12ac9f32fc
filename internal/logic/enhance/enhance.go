// Package enhance implements the fixed enhancement pipeline applied to
// frames shot against a dark background:
//
//	black removal -> levels -> gamma -> contrast -> brightness -> clip
//	-> denoise (bilateral) -> sharpen (unsharp mask)
//
// Every stage is skipped when its setting is neutral. Stage order is fixed.
package enhance

import (
	"fmt"
	"math"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/frame"
)

// Apply runs the pipeline over img and returns the enhanced frame.
//
// When s.Enabled is false img itself is returned, untouched. On any failure
// img is also returned, together with the error, so callers can always fall
// back to the raw frame.
func Apply(img *frame.Buffer, s Settings) (out *frame.Buffer, err error) {
	if !s.Enabled {
		return img, nil
	}
	if err := img.Validate(); err != nil {
		return img, fmt.Errorf("enhance: %w", err)
	}
	if err := s.Validate(); err != nil {
		return img, err
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = img, fmt.Errorf("enhance: pipeline panic: %v", r)
		}
	}()

	out = tone(img, s)
	if s.Denoise {
		debug.Verbose("enhance: bilateral denoise on %dx%d (camera %d)", img.Width, img.Height, img.CameraID)
		if out, err = bilateral(out, bilateralDiameter, bilateralSigmaColor, bilateralSigmaSpace); err != nil {
			return img, fmt.Errorf("enhance: denoise: %w", err)
		}
	}
	if s.Sharpen {
		debug.Verbose("enhance: unsharp mask on %dx%d (camera %d)", img.Width, img.Height, img.CameraID)
		if out, err = unsharp(out, sharpenSigma, sharpenAmount); err != nil {
			return img, fmt.Errorf("enhance: sharpen: %w", err)
		}
	}
	return out, nil
}

// tone applies stages 1-6 into a new buffer.
//
// Stages 2-5 are one scalar function of the input level, shared by all
// channels, so they are evaluated in float64 once per level into a table.
func tone(img *frame.Buffer, s Settings) *frame.Buffer {
	lut := toneCurve(s)
	out := img.Clone()
	thr := uint8(s.BlackThreshold)
	zero := lut[0]

	p := out.Pix
	for i := 0; i < len(p); i += frame.Channels {
		if s.RemoveBlackBackground && p[i] <= thr && p[i+1] <= thr && p[i+2] <= thr {
			p[i], p[i+1], p[i+2] = zero, zero, zero
			continue
		}
		p[i], p[i+1], p[i+2] = lut[p[i]], lut[p[i+1]], lut[p[i+2]]
	}
	return out
}

func toneCurve(s Settings) [256]uint8 {
	var lut [256]uint8
	for i := range lut {
		lut[i] = clip8(toneValue(float64(i), s))
	}
	return lut
}

// toneValue maps one channel value through levels, gamma, contrast and
// brightness.
func toneValue(v float64, s Settings) float64 {
	if s.UpperLimit > s.LowerLimit {
		lo, hi := float64(s.LowerLimit), float64(s.UpperLimit)
		v = math.Min(math.Max(v, lo), hi)
		v = (v - lo) / (hi - lo) * 255
	}
	if s.Gamma != 1.0 {
		v = math.Pow(math.Max(v, 0)/255, 1/s.Gamma) * 255
	}
	if s.Contrast != 1.0 {
		v = (v-127.5)*s.Contrast + 127.5
	}
	if s.Brightness != 0 {
		v += float64(s.Brightness)
	}
	return v
}

func clip8(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}

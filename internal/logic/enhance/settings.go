package enhance

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSettings wraps every range violation reported by Validate.
var ErrInvalidSettings = errors.New("invalid enhancement settings")

// Settings controls the enhancement pipeline for one camera.
type Settings struct {
	Enabled               bool    `json:"enabled"`
	RemoveBlackBackground bool    `json:"remove_black_background"`
	BlackThreshold        int     `json:"black_threshold"` // 0-255
	LowerLimit            int     `json:"lower_limit"`     // 0-254
	UpperLimit            int     `json:"upper_limit"`     // 1-255, levels skipped unless > LowerLimit
	Gamma                 float64 `json:"gamma"`           // > 0, 1 = unchanged
	Contrast              float64 `json:"contrast"`        // > 0, 1 = unchanged
	Brightness            int     `json:"brightness"`      // -255..255
	Denoise               bool    `json:"denoise"`
	Sharpen               bool    `json:"sharpen"`
}

// DefaultSettings returns the start-up settings: pipeline disabled and every
// stage neutral.
func DefaultSettings() Settings {
	return Settings{
		BlackThreshold: 20,
		LowerLimit:     0,
		UpperLimit:     255,
		Gamma:          1.0,
		Contrast:       1.0,
	}
}

// Validate checks every field against its allowed range.
func (s Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(s.BlackThreshold >= 0 && s.BlackThreshold <= 255, "black_threshold must be 0-255, got %d", s.BlackThreshold)
	check(s.LowerLimit >= 0 && s.LowerLimit <= 254, "lower_limit must be 0-254, got %d", s.LowerLimit)
	check(s.UpperLimit >= 1 && s.UpperLimit <= 255, "upper_limit must be 1-255, got %d", s.UpperLimit)
	check(finitePositive(s.Gamma), "gamma must be > 0, got %g", s.Gamma)
	check(finitePositive(s.Contrast), "contrast must be > 0, got %g", s.Contrast)
	check(s.Brightness >= -255 && s.Brightness <= 255, "brightness must be -255..255, got %d", s.Brightness)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Patch is a partial update. Nil fields leave the current value unchanged.
type Patch struct {
	Enabled               *bool    `json:"enabled,omitempty"`
	RemoveBlackBackground *bool    `json:"remove_black_background,omitempty"`
	BlackThreshold        *int     `json:"black_threshold,omitempty"`
	LowerLimit            *int     `json:"lower_limit,omitempty"`
	UpperLimit            *int     `json:"upper_limit,omitempty"`
	Gamma                 *float64 `json:"gamma,omitempty"`
	Contrast              *float64 `json:"contrast,omitempty"`
	Brightness            *int     `json:"brightness,omitempty"`
	Denoise               *bool    `json:"denoise,omitempty"`
	Sharpen               *bool    `json:"sharpen,omitempty"`
}

// Merge returns s with every non-nil field of p applied.
func (s Settings) Merge(p Patch) Settings {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.RemoveBlackBackground != nil {
		s.RemoveBlackBackground = *p.RemoveBlackBackground
	}
	if p.BlackThreshold != nil {
		s.BlackThreshold = *p.BlackThreshold
	}
	if p.LowerLimit != nil {
		s.LowerLimit = *p.LowerLimit
	}
	if p.UpperLimit != nil {
		s.UpperLimit = *p.UpperLimit
	}
	if p.Gamma != nil {
		s.Gamma = *p.Gamma
	}
	if p.Contrast != nil {
		s.Contrast = *p.Contrast
	}
	if p.Brightness != nil {
		s.Brightness = *p.Brightness
	}
	if p.Denoise != nil {
		s.Denoise = *p.Denoise
	}
	if p.Sharpen != nil {
		s.Sharpen = *p.Sharpen
	}
	return s
}

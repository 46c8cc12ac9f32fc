package camera

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/coralcam/internal/frame"
)

// ErrUnavailable reports a camera that is absent or could not be opened.
var ErrUnavailable = errors.New("camera unavailable")

// ErrNotStarted is returned by captures on a stopped device.
var ErrNotStarted = errors.New("camera not started")

// Stream selects one of the configured output streams.
type Stream int

const (
	// Main is the full-resolution still stream.
	Main Stream = iota
	// Lores is the small stream used for live preview.
	Lores
)

func (s Stream) String() string {
	if s == Lores {
		return "lores"
	}
	return "main"
}

// FocusMode is the autofocus mode of a device.
type FocusMode int

const (
	FocusAuto FocusMode = iota
	FocusManual
)

func (m FocusMode) String() string {
	if m == FocusManual {
		return "manual"
	}
	return "auto"
}

func (m FocusMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *FocusMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "auto":
		*m = FocusAuto
	case "manual":
		*m = FocusManual
	default:
		return fmt.Errorf("unknown focus mode %q", b)
	}
	return nil
}

// NoiseReduction is the on-sensor denoise mode.
type NoiseReduction string

const (
	NoiseOff         NoiseReduction = "off"
	NoiseFast        NoiseReduction = "fast"
	NoiseHighQuality NoiseReduction = "high_quality"
)

// ParseNoiseReduction accepts the config spelling of a denoise mode.
func ParseNoiseReduction(s string) (NoiseReduction, error) {
	switch NoiseReduction(s) {
	case "", NoiseHighQuality:
		return NoiseHighQuality, nil
	case NoiseFast, NoiseOff:
		return NoiseReduction(s), nil
	}
	return "", fmt.Errorf("unknown noise reduction mode %q", s)
}

// Size is a stream resolution in pixels.
type Size struct {
	Width  int
	Height int
}

// Profile is the stream and control setup applied once before Start.
// Auto exposure and auto white balance are always off: every frame of a
// scan must be shot with identical exposure.
type Profile struct {
	Main           Size
	Lores          Size
	NoiseReduction NoiseReduction
	Exposure       int // µs
	Gain           float64
}

// Controls is a partial control update. Nil fields are left unchanged.
type Controls struct {
	ExposureMicroseconds *int
	AnalogueGain         *float64
	FocusMode            *FocusMode
	LensPosition         *float64
	NoiseReduction       *NoiseReduction
}

// Device is one camera. Implementations are not safe for concurrent use;
// callers serialise access per device.
type Device interface {
	ID() int
	Configure(p Profile) error
	Start() error
	Stop() error
	SetControls(c Controls) error
	// AutofocusCycle runs one blocking autofocus sweep.
	AutofocusCycle() error
	// CaptureStill takes a full-quality still from stream.
	CaptureStill(s Stream) (*frame.Buffer, error)
	// CaptureArray grabs the latest frame of stream, for preview.
	CaptureArray(s Stream) (*frame.Buffer, error)
	Close() error
}

// settings is the control state shared by the implementations.
type settings struct {
	profile  Profile
	exposure int
	gain     float64
	focus    FocusMode
	lens     float64
	noise    NoiseReduction
}

func newSettings(p Profile) settings {
	return settings{
		profile:  p,
		exposure: p.Exposure,
		gain:     p.Gain,
		focus:    FocusAuto,
		noise:    p.NoiseReduction,
	}
}

func (s *settings) apply(c Controls) {
	if c.ExposureMicroseconds != nil {
		s.exposure = *c.ExposureMicroseconds
	}
	if c.AnalogueGain != nil {
		s.gain = *c.AnalogueGain
	}
	if c.FocusMode != nil {
		s.focus = *c.FocusMode
	}
	if c.LensPosition != nil {
		s.lens = *c.LensPosition
	}
	if c.NoiseReduction != nil {
		s.noise = *c.NoiseReduction
	}
}

func (s *settings) size(st Stream) Size {
	if st == Lores {
		return s.profile.Lores
	}
	return s.profile.Main
}

// Package cameras owns the set of camera devices of the rig: their
// exposure, gain and focus state, their per-camera enhancement settings, and
// still/preview capture.
package cameras

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/frame"
	"github.com/cjeanneret/coralcam/internal/hw/camera"
	"github.com/cjeanneret/coralcam/internal/logic/enhance"
)

var (
	// ErrNoCameras is returned by New when no requested camera could be opened.
	ErrNoCameras = errors.New("no camera available")
	// ErrInvalidControl reports an out-of-range exposure, gain or lens value.
	ErrInvalidControl = errors.New("invalid camera control")
	// ErrUnknownCamera is returned by capture calls for an id that is not open.
	ErrUnknownCamera = errors.New("unknown camera")
)

// DefaultSettleFactor is the number of extra exposure periods waited before a
// still capture.
const DefaultSettleFactor = 5

// Opener opens the device for one camera id.
type Opener func(id int) (camera.Device, error)

// Config holds the device profile, control bounds and output encoding.
type Config struct {
	Profile camera.Profile

	MinExposure, MaxExposure int // µs
	MinGain, MaxGain         float64
	MinLens, MaxLens         float64

	// SettleFactor scales the shutter-safe delay. Nil or negative selects
	// DefaultSettleFactor; 0 waits a single exposure.
	SettleFactor *int

	Encoder frame.Encoder
}

func (c *Config) setDefaults() {
	if c.MinExposure <= 0 {
		c.MinExposure = 100
	}
	if c.MaxExposure <= 0 {
		c.MaxExposure = 100000
	}
	if c.MinGain <= 0 {
		c.MinGain = 1.0
	}
	if c.MaxGain <= 0 {
		c.MaxGain = 16.0
	}
	if c.MaxLens <= 0 {
		c.MaxLens = 15.0
	}
	if c.SettleFactor == nil || *c.SettleFactor < 0 {
		f := DefaultSettleFactor
		c.SettleFactor = &f
	}
	if c.Profile.Exposure <= 0 {
		c.Profile.Exposure = 20000
	}
	if c.Profile.Gain <= 0 {
		c.Profile.Gain = 1.0
	}
	if c.Encoder.Format == "" {
		c.Encoder.Format = frame.JPEG
	}
}

// State is the control state of one camera.
type State struct {
	ExposureMicroseconds int              `json:"exposure_us"`
	AnalogueGain         float64          `json:"analogue_gain"`
	FocusMode            camera.FocusMode `json:"focus_mode"`
	LensPosition         float64          `json:"lens_position"`
}

// CaptureError is a failed capture of one frame on one camera.
type CaptureError struct {
	CameraID int
	Path     string
	Err      error
}

func (e *CaptureError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("camera %d: capture %s: %v", e.CameraID, e.Path, e.Err)
	}
	return fmt.Sprintf("camera %d: capture: %v", e.CameraID, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// unit is one open device and the lock serialising hardware access to it.
type unit struct {
	mu  sync.Mutex
	dev camera.Device
}

// Controller is the unified camera controller. All methods are safe for
// concurrent use; hardware calls on one camera never overlap.
type Controller struct {
	cfg   Config
	ids   []int
	units map[int]*unit

	mu       sync.RWMutex
	states   map[int]State
	settings map[int]enhance.Settings

	sleep func(time.Duration)
	apply func(*frame.Buffer, enhance.Settings) (*frame.Buffer, error)
}

// New opens and configures every id. Cameras that fail are logged and
// skipped; ErrNoCameras is returned only when none remain.
func New(ids []int, open Opener, cfg Config) (*Controller, error) {
	cfg.setDefaults()
	c := &Controller{
		cfg:      cfg,
		units:    make(map[int]*unit),
		states:   make(map[int]State),
		settings: make(map[int]enhance.Settings),
		sleep:    time.Sleep,
		apply:    enhance.Apply,
	}

	for _, id := range ids {
		if _, dup := c.units[id]; dup {
			continue
		}
		dev, err := open(id)
		if err != nil {
			debug.Warn("Camera %d unavailable: %v", id, err)
			continue
		}
		if err := dev.Configure(cfg.Profile); err != nil {
			debug.Warn("Camera %d unavailable: configure: %v", id, err)
			_ = dev.Close()
			continue
		}
		c.units[id] = &unit{dev: dev}
		c.ids = append(c.ids, id)
		c.states[id] = State{
			ExposureMicroseconds: cfg.Profile.Exposure,
			AnalogueGain:         cfg.Profile.Gain,
			FocusMode:            camera.FocusAuto,
		}
		c.settings[id] = enhance.DefaultSettings()
	}

	if len(c.ids) == 0 {
		return nil, fmt.Errorf("%w (requested %v)", ErrNoCameras, ids)
	}
	slices.Sort(c.ids)
	debug.Info("Cameras ready: %v", c.ids)
	return c, nil
}

// IDs returns the ids of the open cameras, ascending.
func (c *Controller) IDs() []int {
	return slices.Clone(c.ids)
}

// Ext returns the file extension of captured files.
func (c *Controller) Ext() string {
	return c.cfg.Encoder.Format.Ext()
}

// targets resolves a variadic id list: none means every camera, unknown ids
// are dropped.
func (c *Controller) targets(ids []int) []int {
	if len(ids) == 0 {
		return c.ids
	}
	var out []int
	for _, id := range ids {
		if _, ok := c.units[id]; ok && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// each runs fn on every target camera under its hardware lock and joins the
// errors. A failing camera does not stop the others.
func (c *Controller) each(ids []int, fn func(id int, dev camera.Device) error) error {
	var errs []error
	for _, id := range c.targets(ids) {
		u := c.units[id]
		u.mu.Lock()
		err := fn(id, u.dev)
		u.mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("camera %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) updateState(id int, fn func(*State)) {
	c.mu.Lock()
	s := c.states[id]
	fn(&s)
	c.states[id] = s
	c.mu.Unlock()
}

// SetExposure sets the exposure time in µs.
func (c *Controller) SetExposure(us int, ids ...int) error {
	if us < c.cfg.MinExposure || us > c.cfg.MaxExposure {
		return fmt.Errorf("%w: exposure %d µs outside [%d, %d]", ErrInvalidControl, us, c.cfg.MinExposure, c.cfg.MaxExposure)
	}
	return c.each(ids, func(id int, dev camera.Device) error {
		if err := dev.SetControls(camera.Controls{ExposureMicroseconds: &us}); err != nil {
			return err
		}
		c.updateState(id, func(s *State) { s.ExposureMicroseconds = us })
		debug.Verbose("Camera %d: exposure %d µs", id, us)
		return nil
	})
}

// SetGain sets the analogue gain.
func (c *Controller) SetGain(gain float64, ids ...int) error {
	if !(gain >= c.cfg.MinGain && gain <= c.cfg.MaxGain) {
		return fmt.Errorf("%w: gain %g outside [%g, %g]", ErrInvalidControl, gain, c.cfg.MinGain, c.cfg.MaxGain)
	}
	return c.each(ids, func(id int, dev camera.Device) error {
		if err := dev.SetControls(camera.Controls{AnalogueGain: &gain}); err != nil {
			return err
		}
		c.updateState(id, func(s *State) { s.AnalogueGain = gain })
		debug.Verbose("Camera %d: gain %g", id, gain)
		return nil
	})
}

// FocusAuto switches to autofocus and runs one focus cycle.
func (c *Controller) FocusAuto(ids ...int) error {
	mode := camera.FocusAuto
	return c.each(ids, func(id int, dev camera.Device) error {
		if err := dev.SetControls(camera.Controls{FocusMode: &mode}); err != nil {
			return err
		}
		c.updateState(id, func(s *State) { s.FocusMode = mode })
		debug.Verbose("Camera %d: autofocus cycle", id)
		return dev.AutofocusCycle()
	})
}

// FocusManual fixes the lens position.
func (c *Controller) FocusManual(lens float64, ids ...int) error {
	if !(lens >= c.cfg.MinLens && lens <= c.cfg.MaxLens) {
		return fmt.Errorf("%w: lens position %g outside [%g, %g]", ErrInvalidControl, lens, c.cfg.MinLens, c.cfg.MaxLens)
	}
	mode := camera.FocusManual
	return c.each(ids, func(id int, dev camera.Device) error {
		if err := dev.SetControls(camera.Controls{FocusMode: &mode, LensPosition: &lens}); err != nil {
			return err
		}
		c.updateState(id, func(s *State) {
			s.FocusMode = mode
			s.LensPosition = lens
		})
		debug.Verbose("Camera %d: manual focus %g", id, lens)
		return nil
	})
}

// State returns the control state of camera id.
func (c *Controller) State(id int) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[id]
	return s, ok
}

// Enhancement returns the enhancement settings of camera id.
func (c *Controller) Enhancement(id int) (enhance.Settings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.settings[id]
	return s, ok
}

// SetEnhancement merges p into the settings of camera id. An unknown id is
// ignored. Invalid results are rejected and leave the settings unchanged.
func (c *Controller) SetEnhancement(id int, p enhance.Patch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.settings[id]
	if !ok {
		return nil
	}
	next := cur.Merge(p)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("camera %d: %w", id, err)
	}
	c.settings[id] = next
	debug.Verbose("Camera %d: enhancement %+v", id, next)
	return nil
}

// ShutterDelay is the wait before a still capture on camera id:
// exposure * (SettleFactor + 1).
func (c *Controller) ShutterDelay(id int) time.Duration {
	s, ok := c.State(id)
	if !ok {
		return 0
	}
	return time.Duration(s.ExposureMicroseconds) * time.Microsecond * time.Duration(*c.cfg.SettleFactor+1)
}

// Start starts every device.
func (c *Controller) Start() error {
	return c.each(nil, func(id int, dev camera.Device) error { return dev.Start() })
}

// Stop stops every device. Errors are joined.
func (c *Controller) Stop() error {
	return c.each(nil, func(id int, dev camera.Device) error { return dev.Stop() })
}

// Close stops and releases every device.
func (c *Controller) Close() error {
	return c.each(nil, func(id int, dev camera.Device) error {
		return errors.Join(dev.Stop(), dev.Close())
	})
}

// CaptureFrame waits the shutter-safe delay, then takes a full-resolution
// still. With enhanced set and the camera's enhancement enabled, the frame
// is run through the pipeline; a pipeline failure falls back to the raw
// frame.
func (c *Controller) CaptureFrame(id int, enhanced bool) (*frame.Buffer, error) {
	u, ok := c.units[id]
	if !ok {
		return nil, &CaptureError{CameraID: id, Err: ErrUnknownCamera}
	}

	delay := c.ShutterDelay(id)
	debug.Verbose("Camera %d: shutter-safe delay %v", id, delay)
	c.sleep(delay)

	u.mu.Lock()
	img, err := u.dev.CaptureStill(camera.Main)
	u.mu.Unlock()
	if err != nil {
		return nil, &CaptureError{CameraID: id, Err: err}
	}
	if enhanced {
		img = c.enhanced(id, img)
	}
	return img, nil
}

func (c *Controller) enhanced(id int, img *frame.Buffer) *frame.Buffer {
	s, _ := c.Enhancement(id)
	if !s.Enabled {
		return img
	}
	out, err := c.apply(img, s)
	if err != nil {
		debug.Warn("Camera %d: enhancement failed, keeping raw frame: %v", id, err)
		return img
	}
	return out
}

// CaptureToFile captures one frame and writes it to path.
func (c *Controller) CaptureToFile(id int, path string, enhanced bool) error {
	img, err := c.CaptureFrame(id, enhanced)
	if err != nil {
		var ce *CaptureError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return err
	}
	if err := c.cfg.Encoder.WriteFile(path, img); err != nil {
		return &CaptureError{CameraID: id, Path: path, Err: err}
	}
	return nil
}

// Preview grabs a low-resolution frame for display. Enhancement is applied
// when enabled for the camera, so the preview shows what a capture will.
func (c *Controller) Preview(id int) (*frame.Buffer, error) {
	u, ok := c.units[id]
	if !ok {
		return nil, fmt.Errorf("camera %d: %w", id, ErrUnknownCamera)
	}
	u.mu.Lock()
	img, err := u.dev.CaptureArray(camera.Lores)
	u.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("camera %d: preview: %w", id, err)
	}
	return c.enhanced(id, img), nil
}

// SuggestLevels proposes levels limits from the raw preview stream.
func (c *Controller) SuggestLevels(id int) (lower, upper int, err error) {
	u, ok := c.units[id]
	if !ok {
		return 0, 0, fmt.Errorf("camera %d: %w", id, ErrUnknownCamera)
	}
	u.mu.Lock()
	img, err := u.dev.CaptureArray(camera.Lores)
	u.mu.Unlock()
	if err != nil {
		return 0, 0, fmt.Errorf("camera %d: levels: %w", id, err)
	}
	lower, upper = enhance.AutoLevels(img)
	debug.Verbose("Camera %d: suggested levels %d-%d", id, lower, upper)
	return lower, upper, nil
}

// ApplySuggestedLevels stores the suggested limits. The pipeline is only
// switched on when enable is true.
func (c *Controller) ApplySuggestedLevels(id int, enable bool) (enhance.Settings, error) {
	lower, upper, err := c.SuggestLevels(id)
	if err != nil {
		return enhance.Settings{}, err
	}
	p := enhance.Patch{LowerLimit: &lower, UpperLimit: &upper}
	if enable {
		p.Enabled = &enable
	}
	if err := c.SetEnhancement(id, p); err != nil {
		return enhance.Settings{}, err
	}
	s, _ := c.Enhancement(id)
	return s, nil
}

// Package light drives the LED ring light with a hardware PWM signal.
package light

import (
	"sync"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/hw/gpio"
)

// DefaultFrequencyHz is the PWM frequency of the LED driver.
const DefaultFrequencyHz = 333

// Config holds the light wiring and start-up brightness.
type Config struct {
	Pin         int
	FrequencyHz int
	Brightness  float64 // percent, 0-100
}

// Light is a dimmable light. It is safe for concurrent use.
type Light struct {
	gpio gpio.Driver
	cfg  Config

	mu         sync.Mutex
	brightness float64
	on         bool
}

// New returns a light that starts switched off.
func New(g gpio.Driver, cfg Config) *Light {
	if cfg.FrequencyHz <= 0 {
		cfg.FrequencyHz = DefaultFrequencyHz
	}
	return &Light{
		gpio:       g,
		cfg:        cfg,
		brightness: clampPercent(cfg.Brightness),
	}
}

func clampPercent(v float64) float64 {
	return min(max(v, 0), 100)
}

// On switches the light on at the current brightness.
func (l *Light) On() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drive()
}

// Off switches the light off. The brightness is kept for the next On.
func (l *Light) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	debug.Live("Light: off")
	if err := l.gpio.StopPWM(l.cfg.Pin); err != nil {
		return err
	}
	l.on = false
	return nil
}

// SetBrightness stores percent (clamped to 0-100) and switches the light on
// at that level.
func (l *Light) SetBrightness(percent float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.brightness = clampPercent(percent)
	return l.drive()
}

// Brightness returns the stored brightness and whether the light is on.
func (l *Light) Brightness() (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.brightness, l.on
}

func (l *Light) drive() error {
	debug.Live("Light: %.0f%% @ %d Hz", l.brightness, l.cfg.FrequencyHz)
	if err := l.gpio.SetPWM(l.cfg.Pin, l.cfg.FrequencyHz, l.brightness); err != nil {
		return err
	}
	l.on = true
	return nil
}

package stepper

import (
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/hw/gpio"
	"github.com/cjeanneret/coralcam/internal/logic/geometry"
)

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	StepPin       int
	DirPin        int
	EnablePin     int // ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	StepsPerRev   int
	Microstepping int
	InvertDir     bool

	// MaxSpeed is the cruise speed in full steps per second. When set it
	// takes precedence over StepDelay.
	MaxSpeed float64
	// Acceleration in full steps per second squared. 0 = no ramp.
	Acceleration float64
	StepDelay    time.Duration // delay per half-cycle of STEP pulse. Total step = 2*StepDelay.
}

// StatusChecker reports a driver fault after a move. The TMC2209 UART link
// implements it.
type StatusChecker interface {
	CheckStatus() error
}

// Stepper provides a simple API for moving a stepper motor.
type Stepper struct {
	gpio    gpio.Driver
	cfg     Config
	delay   time.Duration // delay between STEP pulse half-cycles at cruise speed
	monitor StatusChecker
	sleep   func(time.Duration)
}

// NewStepper creates a new stepper motor controller.
// cfg.StepDelay: if 0 and cfg.MaxSpeed is 0, defaults to 1ms.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	if cfg.Microstepping <= 0 {
		cfg.Microstepping = 1
	}

	delay := cfg.StepDelay
	if cfg.MaxSpeed > 0 {
		delay = halfCycle(cfg.MaxSpeed * float64(cfg.Microstepping))
	}
	if delay <= 0 {
		delay = 1 * time.Millisecond
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		delay: delay,
		sleep: time.Sleep,
	}

	// ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.Low) // enable by default
	}

	return s
}

// SetMonitor attaches a driver status source that is queried after every
// move.
func (s *Stepper) SetMonitor(m StatusChecker) {
	s.monitor = m
}

func halfCycle(microstepsPerSec float64) time.Duration {
	if microstepsPerSec <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / microstepsPerSec / 2)
}

// MoveRevolutions moves the motor shaft by a relative number of revolutions
// and blocks until the move is done. A driver fault reported after the
// move is returned as an error.
func (s *Stepper) MoveRevolutions(revs float64) error {
	steps := geometry.Microsteps(revs, s.cfg.StepsPerRev, s.cfg.Microstepping)
	debug.Verbose("Stepper: %.2f revolutions = %d microsteps", revs, steps)
	if err := s.MoveSteps(steps); err != nil {
		return err
	}
	if s.monitor != nil {
		if err := s.monitor.CheckStatus(); err != nil {
			return fmt.Errorf("after %d steps: %w", steps, err)
		}
	}
	return nil
}

// MoveSteps moves the motor by a number of microsteps (positive or negative).
func (s *Stepper) MoveSteps(steps int) error {
	if steps == 0 {
		return nil
	}

	forward := steps > 0
	direction := "forward"
	if !forward {
		direction = "backward"
		steps = -steps
	}
	dirLevel := gpio.Level(forward != s.cfg.InvertDir)

	debug.Printf("Stepper: moving %d steps (%s) on pin %d", steps, direction, s.cfg.StepPin)

	if err := s.gpio.WritePin(s.cfg.DirPin, dirLevel); err != nil {
		return err
	}

	for i := 0; i < steps; i++ {
		if err := s.stepPulse(s.stepDelay(i, steps)); err != nil {
			return fmt.Errorf("step %d/%d: %w", i+1, steps, err)
		}
	}
	return nil
}

// stepDelay returns the half-cycle delay for step i of n on a trapezoidal
// speed profile. The speed at distance d (full steps) from the nearer end
// of the move is sqrt(2*a*d), capped at MaxSpeed.
func (s *Stepper) stepDelay(i, n int) time.Duration {
	if s.cfg.Acceleration <= 0 || s.cfg.MaxSpeed <= 0 {
		return s.delay
	}
	nearest := min(i, n-1-i) + 1
	d := float64(nearest) / float64(s.cfg.Microstepping)
	v := math.Min(math.Sqrt(2*s.cfg.Acceleration*d), s.cfg.MaxSpeed)
	return max(halfCycle(v*float64(s.cfg.Microstepping)), s.delay)
}

func (s *Stepper) stepPulse(delay time.Duration) error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	s.sleep(delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	s.sleep(delay)
	return nil
}

// Enable turns on the motor driver (ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (ENABLE=HIGH). Motors freewheel, no holding torque.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}

package gpio

import (
	"fmt"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	pins map[int]rpio.Pin
	pwm  map[int]bool
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
		pwm:  make(map[int]bool),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	state := p.Read()
	if state == rpio.High {
		return High, nil
	}
	return Low, nil
}

// SetPWM switches pin to its hardware PWM function. Only PWM-capable pins
// (BCM 12, 13, 18, 19) produce a signal. The PWM clock runs at
// freqHz*PWMCycle so that one period spans PWMCycle ticks.
func (r *RPiDriver) SetPWM(pin, freqHz int, dutyPercent float64) error {
	if freqHz <= 0 {
		return fmt.Errorf("pwm frequency must be positive, got %d", freqHz)
	}
	ticks := DutyTicks(dutyPercent)
	debug.GPIO("SetPWM", pin, fmt.Sprintf("%dHz %d/%d", freqHz, ticks, PWMCycle))

	p := rpio.Pin(pin)
	if !r.pwm[pin] {
		p.Mode(rpio.Pwm)
		r.pins[pin] = p
		r.pwm[pin] = true
	}
	p.Freq(freqHz * PWMCycle)
	p.DutyCycle(ticks, PWMCycle)
	return nil
}

func (r *RPiDriver) StopPWM(pin int) error {
	debug.GPIO("StopPWM", pin, 0)
	p, ok := r.pins[pin]
	if !ok || !r.pwm[pin] {
		return nil
	}
	p.DutyCycle(0, PWMCycle)
	return nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		if r.pwm[pin] {
			p.DutyCycle(0, PWMCycle)
		}
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}

	return rpio.Close()
}

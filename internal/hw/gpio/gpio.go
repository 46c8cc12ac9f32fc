package gpio

import (
	"fmt"

	"github.com/cjeanneret/coralcam/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// PWMCycle is the number of clock ticks in one PWM period. Duty cycles are
// expressed as a percentage of it.
const PWMCycle = 100

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	// SetPWM drives pin with a hardware PWM signal. dutyPercent is clamped
	// to 0-100.
	SetPWM(pin, freqHz int, dutyPercent float64) error
	// StopPWM sets the duty cycle of pin to zero.
	StopPWM(pin int) error
	Close() error
}

// DutyTicks converts a duty percentage into clock ticks of a PWMCycle period.
func DutyTicks(dutyPercent float64) uint32 {
	switch {
	case dutyPercent <= 0:
		return 0
	case dutyPercent >= 100:
		return PWMCycle
	}
	return uint32(dutyPercent*PWMCycle/100 + 0.5)
}

// MockDriver is a test implementation that simply logs actions.
// Used for development on PC or testing.
type MockDriver struct{}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	return Low, nil
}

func (m *MockDriver) SetPWM(pin, freqHz int, dutyPercent float64) error {
	debug.GPIO("SetPWM", pin, fmt.Sprintf("%dHz %d/%d", freqHz, DutyTicks(dutyPercent), PWMCycle))
	return nil
}

func (m *MockDriver) StopPWM(pin int) error {
	debug.GPIO("StopPWM", pin, 0)
	return nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}

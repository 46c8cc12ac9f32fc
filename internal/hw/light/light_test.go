package light

import (
	"errors"
	"testing"

	"github.com/cjeanneret/coralcam/internal/hw/gpio"
)

type pwmCall struct {
	op   string
	pin  int
	freq int
	duty float64
}

// recordingDriver records PWM calls for verification.
type recordingDriver struct {
	calls []pwmCall
	fail  error
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error { return nil }
func (d *recordingDriver) WritePin(pin int, level gpio.Level) error { return nil }
func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) { return gpio.Low, nil }
func (d *recordingDriver) Close() error { return nil }

func (d *recordingDriver) SetPWM(pin, freqHz int, dutyPercent float64) error {
	if d.fail != nil {
		return d.fail
	}
	d.calls = append(d.calls, pwmCall{"set", pin, freqHz, dutyPercent})
	return nil
}

func (d *recordingDriver) StopPWM(pin int) error {
	d.calls = append(d.calls, pwmCall{op: "stop", pin: pin})
	return nil
}

func TestLight_OnUsesStoredBrightness(t *testing.T) {
	drv := &recordingDriver{}
	l := New(drv, Config{Pin: 18, Brightness: 100})

	if len(drv.calls) != 0 {
		t.Fatalf("New should not touch the hardware, got %v", drv.calls)
	}
	if err := l.On(); err != nil {
		t.Fatalf("On: %v", err)
	}
	want := pwmCall{"set", 18, DefaultFrequencyHz, 100}
	if len(drv.calls) != 1 || drv.calls[0] != want {
		t.Errorf("calls = %v, want [%v]", drv.calls, want)
	}
}

func TestLight_SetBrightnessClampsAndTurnsOn(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{50, 50},
		{-10, 0},
		{140, 100},
	}
	for _, tc := range cases {
		drv := &recordingDriver{}
		l := New(drv, Config{Pin: 18, FrequencyHz: 500})
		if err := l.SetBrightness(tc.in); err != nil {
			t.Fatalf("SetBrightness(%v): %v", tc.in, err)
		}
		got, on := l.Brightness()
		if got != tc.want || !on {
			t.Errorf("SetBrightness(%v): brightness %v on %v, want %v on", tc.in, got, on, tc.want)
		}
		if drv.calls[0].duty != tc.want || drv.calls[0].freq != 500 {
			t.Errorf("SetBrightness(%v): pwm %v", tc.in, drv.calls[0])
		}
	}
}

func TestLight_OffKeepsBrightness(t *testing.T) {
	drv := &recordingDriver{}
	l := New(drv, Config{Pin: 18})
	_ = l.SetBrightness(30)
	if err := l.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}
	if got, on := l.Brightness(); got != 30 || on {
		t.Errorf("after Off: brightness %v on %v, want 30 off", got, on)
	}
	_ = l.On()
	if last := drv.calls[len(drv.calls)-1]; last.op != "set" || last.duty != 30 {
		t.Errorf("On after Off = %v, want duty 30", last)
	}
}

func TestLight_DriverError(t *testing.T) {
	drv := &recordingDriver{fail: errors.New("pwm busy")}
	l := New(drv, Config{Pin: 18})
	if err := l.On(); err == nil {
		t.Fatal("expected driver error")
	}
	if _, on := l.Brightness(); on {
		t.Error("light must not report on after a failed On")
	}
}

package debug

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestInit_OffProducesNoLogger(t *testing.T) {
	Init(LevelOff, FileConfig{})
	if Logger() != nil {
		t.Error("logger should be nil at level 0")
	}
	// Must not panic with no logger.
	Info("ignored %d", 1)
	Error(errors.New("ignored"))
	Trace("ignored")
}

func TestIsEnabled(t *testing.T) {
	Init(LevelLive, FileConfig{})
	defer Init(LevelOff, FileConfig{})

	cases := []struct {
		min  int
		want bool
	}{
		{LevelInfo, true},
		{LevelLive, true},
		{LevelVerbose, false},
		{LevelTrace, false},
	}
	for _, tc := range cases {
		if got := IsEnabled(tc.min); got != tc.want {
			t.Errorf("IsEnabled(%d) = %v, want %v", tc.min, got, tc.want)
		}
	}
}

func TestSetOutput_ReceivesMessages(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, FileConfig{})
	SetOutput(&buf)
	defer func() {
		SetOutput(nil)
		Init(LevelOff, FileConfig{})
	}()

	Info("turntable ready on pin %d", 17)
	if !strings.Contains(buf.String(), "turntable ready on pin 17") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
}

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, FileConfig{})
	SetOutput(&buf)
	defer func() {
		SetOutput(nil)
		Init(LevelOff, FileConfig{})
	}()

	Live("live message")
	Verbose("verbose message")
	if strings.Contains(buf.String(), "live message") || strings.Contains(buf.String(), "verbose message") {
		t.Errorf("messages above level should be dropped, got %q", buf.String())
	}
}

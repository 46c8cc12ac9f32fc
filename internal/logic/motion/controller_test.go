package motion

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/coralcam/internal/hw/gpio"
	"github.com/cjeanneret/coralcam/internal/hw/stepper"
)

// recordingStage records every motor command.
type recordingStage struct {
	moves   []float64
	enabled []bool
	fail    error
}

func (s *recordingStage) MoveRevolutions(revs float64) error {
	s.moves = append(s.moves, revs)
	return s.fail
}

func (s *recordingStage) Enable() error {
	s.enabled = append(s.enabled, true)
	return nil
}

func (s *recordingStage) Disable() error {
	s.enabled = append(s.enabled, false)
	return nil
}

func TestController_RotateIssuesOneMove(t *testing.T) {
	cases := []struct {
		name    string
		gear    float64
		degrees float64
		want    float64
	}{
		{"gear5_36deg", 5, 36, 0.5},
		{"gear5_12deg", 5, 12, 0.17},
		{"gear3_full_turn", 3, 360, 3},
		{"backwards", 5, -90, -1.25},
		{"zero_still_issued", 5, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := &recordingStage{}
			ctrl := NewController(st, tc.gear)
			require.NoError(t, ctrl.Rotate(tc.degrees))
			require.Len(t, st.moves, 1)
			assert.InDelta(t, tc.want, st.moves[0], 1e-9)
		})
	}
}

func TestController_RotateFailureIsMotionError(t *testing.T) {
	st := &recordingStage{fail: stepper.ErrDriverFault}
	ctrl := NewController(st, 5)

	err := ctrl.Rotate(36)
	var me *Error
	require.True(t, errors.As(err, &me), "err = %v, want *motion.Error", err)
	assert.Equal(t, 36.0, me.Degrees)
	assert.Equal(t, 0.5, me.Revolutions)
	assert.ErrorIs(t, err, stepper.ErrDriverFault)
}

func TestController_DriftOverRevolutionIsBounded(t *testing.T) {
	// 7 steps of 51.43° at gear 5 round to 0.71 rev each: 4.97 of 5.
	st := &recordingStage{}
	ctrl := NewController(st, 5)
	step := 360.0 / 7
	for i := 0; i < 7; i++ {
		_ = ctrl.Rotate(step)
	}
	var total float64
	for _, r := range st.moves {
		total += r
	}
	assert.InDelta(t, 5, total, 7*0.005+1e-9)
}

func TestController_EnableDisable(t *testing.T) {
	st := &recordingStage{}
	ctrl := NewController(st, 5)
	require.NoError(t, ctrl.Enable())
	require.NoError(t, ctrl.Disable())
	assert.Equal(t, []bool{true, false}, st.enabled)
}

func TestController_DefaultGearRatio(t *testing.T) {
	assert.Equal(t, 1.0, NewController(&recordingStage{}, 0).GearRatio())
}

func TestController_WithMockStepper(t *testing.T) {
	s := stepper.NewStepper(&gpio.MockDriver{}, stepper.Config{
		StepPin:       6,
		DirPin:        5,
		EnablePin:     21,
		StepsPerRev:   200,
		Microstepping: 8,
		StepDelay:     time.Nanosecond,
	})
	ctrl := NewController(s, 5)
	assert.NoError(t, ctrl.Rotate(3.6))
}

package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRevolutionPlan_StepsCoverFullTurn(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 30, 36, 1000} {
		p, err := NewRevolutionPlan(n)
		require.NoError(t, err, "n=%d", n)
		assert.InDelta(t, 360, p.StepDegrees*float64(n), 1e-6, "n=%d", n)
	}
}

func TestNewRevolutionPlan_RejectsNonPositive(t *testing.T) {
	for _, n := range []int{0, -1, -30} {
		_, err := NewRevolutionPlan(n)
		assert.ErrorIs(t, err, ErrImageCount, "n=%d", n)
	}
}

func TestRevolutionPlan_Positions(t *testing.T) {
	p, err := NewRevolutionPlan(4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 90, 180, 270}, p.Positions())
}

func TestRevolutionPlan_Progress(t *testing.T) {
	p, err := NewRevolutionPlan(3)
	require.NoError(t, err)
	for done, want := range map[int]int{0: 0, 1: 33, 2: 67, 3: 100} {
		assert.Equal(t, want, p.Progress(done), "Progress(%d)", done)
	}
}

func TestMotorRevolutions(t *testing.T) {
	cases := []struct {
		name    string
		gear    float64
		degrees float64
		want    float64
	}{
		{"gear5_36deg", 5, 36, 0.5},
		{"gear5_full_turn", 5, 360, 5},
		{"gear5_12deg", 5, 12, 0.17}, // 0.1666... rounds to 2 decimals
		{"gear1_90deg", 1, 90, 0.25},
		{"zero", 5, 0, 0},
		{"negative", 5, -36, -0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, MotorRevolutions(tc.gear, tc.degrees), 1e-9)
		})
	}
}

func TestMicrosteps(t *testing.T) {
	// 200 full steps * 8 microsteps = 1600 per revolution
	cases := []struct {
		revs float64
		want int
	}{
		{1, 1600},
		{1.8, 2880},
		{0.17, 272},
		{-0.5, -800},
		{0, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Microsteps(tc.revs, 200, 8), "Microsteps(%v)", tc.revs)
	}
}

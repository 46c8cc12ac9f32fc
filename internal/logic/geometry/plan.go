package geometry

import (
	"errors"
	"fmt"
	"math"
)

// FullTurn is one turntable revolution, in degrees.
const FullTurn = 360.0

// ErrImageCount is returned for a plan with no frames.
var ErrImageCount = errors.New("image count must be positive")

// RevolutionPlan splits one full turntable revolution into equal steps,
// one capture position per step.
type RevolutionPlan struct {
	ImageCount  int
	StepDegrees float64
}

// NewRevolutionPlan creates the plan for imageCount positions.
func NewRevolutionPlan(imageCount int) (RevolutionPlan, error) {
	if imageCount <= 0 {
		return RevolutionPlan{}, fmt.Errorf("%w, got %d", ErrImageCount, imageCount)
	}
	return RevolutionPlan{
		ImageCount:  imageCount,
		StepDegrees: FullTurn / float64(imageCount),
	}, nil
}

// Positions returns the cumulative turntable angle at which each frame is
// shot, starting at 0.
func (p RevolutionPlan) Positions() []float64 {
	out := make([]float64, p.ImageCount)
	for i := range out {
		out[i] = float64(i) * p.StepDegrees
	}
	return out
}

// Progress returns the completion percentage after done frames, rounded to
// the nearest integer.
func (p RevolutionPlan) Progress(done int) int {
	if p.ImageCount <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(p.ImageCount)))
}

// MotorRevolutions converts a turntable angle into motor revolutions through
// the gear ratio, rounded to two decimals.
func MotorRevolutions(gearRatio, degrees float64) float64 {
	return math.Round(gearRatio*degrees/FullTurn*100) / 100
}

// Microsteps converts motor revolutions into driver microsteps.
func Microsteps(revolutions float64, stepsPerRev, microstepping int) int {
	return int(math.Round(revolutions * float64(stepsPerRev*microstepping)))
}

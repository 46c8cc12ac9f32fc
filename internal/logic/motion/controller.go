package motion

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/logic/geometry"
)

// Stage is the stepper that turns the turntable. MoveRevolutions is relative
// and blocks until the move is complete.
type Stage interface {
	MoveRevolutions(revs float64) error
	Enable() error
	Disable() error
}

// Error is a turntable move that did not complete.
type Error struct {
	Degrees     float64
	Revolutions float64
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("turntable: rotate %.3f° (%.2f rev): %v", e.Degrees, e.Revolutions, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Controller turns relative angle requests into motor moves through the
// gear ratio. It is an intermediate layer between the capture sequence and
// the stepper hardware. Moves are serialised.
//
// Each request is rounded to 0.01 motor revolutions and positions are
// never tracked, so rounding error accumulates across a revolution. With a
// gear ratio g the drift is at most 0.005*360/g degrees per move.
type Controller struct {
	mu        sync.Mutex
	stage     Stage
	gearRatio float64
}

func NewController(stage Stage, gearRatio float64) *Controller {
	if gearRatio <= 0 {
		gearRatio = 1
	}
	return &Controller{
		stage:     stage,
		gearRatio: gearRatio,
	}
}

// GearRatio returns the motor revolutions per turntable revolution.
func (c *Controller) GearRatio() float64 {
	return c.gearRatio
}

// Rotate turns the turntable by degrees (negative turns backwards) and
// returns once the move has finished. Exactly one motor command is issued.
func (c *Controller) Rotate(degrees float64) error {
	revs := geometry.MotorRevolutions(c.gearRatio, degrees)

	c.mu.Lock()
	defer c.mu.Unlock()

	debug.Move(degrees, revs)
	if err := c.stage.MoveRevolutions(revs); err != nil {
		e := &Error{Degrees: degrees, Revolutions: revs, Err: err}
		debug.Warn("%v", e)
		return e
	}
	return nil
}

// Enable powers the driver so the turntable holds its position.
func (c *Controller) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage.Enable()
}

// Disable releases the motor; the turntable can then be turned by hand.
func (c *Controller) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage.Disable()
}

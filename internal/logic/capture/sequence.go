package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/frame"
	"github.com/cjeanneret/coralcam/internal/logic/geometry"
)

// ErrBusy is returned by Run while a sequence is running.
var ErrBusy = errors.New("capture sequence already running")

// Cameras is the capture side of the camera controller.
type Cameras interface {
	IDs() []int
	CaptureToFile(id int, path string, enhanced bool) error
	Ext() string
}

// Turntable is the rotation side of the turntable controller.
type Turntable interface {
	Rotate(degrees float64) error
	Enable() error
	Disable() error
}

// State is the sequencer state.
type State int

const (
	Idle State = iota
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Request describes one revolution scan.
type Request struct {
	OutputDir         string        `json:"output_dir"`
	BaseName          string        `json:"base_name"`
	ImageCount        int           `json:"image_count"`
	InterCaptureDelay time.Duration `json:"inter_capture_delay"`
	ApplyEnhancement  bool          `json:"apply_enhancement"`
}

// ValidationError rejects a request before any hardware is touched.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Progress is reported after every frame position.
type Progress struct {
	RunID   string `json:"run_id"`
	Frame   int    `json:"frame"` // 0-based index of the position just shot
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Missing int    `json:"missing"`
}

// MissingFrame is a capture that produced no file.
type MissingFrame struct {
	Frame    int    `json:"frame"`
	CameraID int    `json:"camera_id"`
	Path     string `json:"path"`
	Error    string `json:"error"`
}

// MotionFailure is a rotation that reported an error.
type MotionFailure struct {
	Frame int    `json:"frame"`
	Error string `json:"error"`
}

// Result summarises a finished run.
type Result struct {
	RunID           string          `json:"run_id"`
	State           State           `json:"state"`
	Request         Request         `json:"request"`
	Dir             string          `json:"dir"`
	StepDegrees     float64         `json:"step_degrees"`
	FramesCompleted int             `json:"frames_completed"`
	Files           []string        `json:"files"`
	Missing         []MissingFrame  `json:"missing,omitempty"`
	MotionFailures  []MotionFailure `json:"motion_failures,omitempty"`
	Started         time.Time       `json:"started"`
	Finished        time.Time       `json:"finished"`
}

// Options tunes the sequencer.
type Options struct {
	// ReleaseMotor disables the stepper driver while frames are shot, so
	// the holding current does not vibrate the stage.
	ReleaseMotor bool
}

// Sequencer runs one revolution scan at a time on a background goroutine.
type Sequencer struct {
	cams  Cameras
	table Turntable
	opts  Options

	mu     sync.Mutex
	state  State
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
	last   *Result
}

func NewSequencer(cams Cameras, table Turntable, opts Options) *Sequencer {
	return &Sequencer{
		cams:  cams,
		table: table,
		opts:  opts,
	}
}

// validate checks req and creates the output directory.
func validate(req Request) (geometry.RevolutionPlan, string, error) {
	plan, err := geometry.NewRevolutionPlan(req.ImageCount)
	if err != nil {
		return plan, "", &ValidationError{Field: "image_count", Reason: "must be at least 1", Err: err}
	}
	base := strings.TrimSpace(req.BaseName)
	switch {
	case base == "":
		return plan, "", &ValidationError{Field: "base_name", Reason: "empty"}
	case base == "." || base == ".." || strings.ContainsAny(base, `/\`):
		return plan, "", &ValidationError{Field: "base_name", Reason: fmt.Sprintf("%q is not a plain file name", base)}
	}
	if req.InterCaptureDelay < 0 {
		return plan, "", &ValidationError{Field: "inter_capture_delay", Reason: "negative"}
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return plan, "", &ValidationError{Field: "output_dir", Reason: "empty"}
	}
	dir := filepath.Join(req.OutputDir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return plan, "", &ValidationError{Field: "output_dir", Reason: "cannot create " + dir, Err: err}
	}
	return plan, dir, nil
}

// Run validates req and starts the scan in the background, returning its
// run id. Validation errors are returned synchronously as *ValidationError;
// the sequencer is then Aborted and no hardware has been touched. ErrBusy is
// returned while another scan runs.
//
// ctx bounds the whole run. onProgress is called after every position and
// onDone exactly once when a started run ends; either may be nil. Both are
// called from the worker goroutine.
func (s *Sequencer) Run(ctx context.Context, req Request, onProgress func(Progress), onDone func(Result)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		return "", ErrBusy
	}
	plan, dir, err := validate(req)
	if err != nil {
		s.state = Aborted
		debug.Warn("Capture rejected: %v", err)
		return "", err
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	s.state = Running
	s.runID = id
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx, id, req, plan, dir, onProgress, onDone, s.done)
	return id, nil
}

// Stop requests a cooperative stop. The running scan ends at the next frame
// boundary; files already written are kept.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running && s.cancel != nil {
		debug.Info("Capture %s: stop requested", s.runID)
		s.cancel()
	}
}

// Wait blocks until the current or most recent run has ended and returns
// its result. It returns false when no run was ever started.
func (s *Sequencer) Wait() (Result, bool) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return Result{}, false
	}
	<-done
	return s.Last()
}

// State returns the current state and run id.
func (s *Sequencer) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.runID
}

// Last returns the result of the most recent finished run.
func (s *Sequencer) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

func (s *Sequencer) loop(ctx context.Context, id string, req Request, plan geometry.RevolutionPlan, dir string,
	onProgress func(Progress), onDone func(Result), done chan struct{}) {
	defer close(done)

	ids := s.cams.IDs()
	res := Result{
		RunID:       id,
		Request:     req,
		Dir:         dir,
		StepDegrees: plan.StepDegrees,
		Started:     time.Now(),
	}

	debug.Section("Revolution scan " + id)
	debug.Plan(plan.ImageCount, len(ids), plan.StepDegrees)
	if err := s.table.Enable(); err != nil {
		debug.Warn("Turntable enable: %v", err)
	}

	positions := plan.Positions()
	final := Completed
	for i := 0; i < plan.ImageCount; i++ {
		if !s.boundary(ctx, req.InterCaptureDelay) {
			final = Aborted
			break
		}

		debug.Step(i+1, fmt.Sprintf("position %.2f°", positions[i]))
		s.shoot(i, req, dir, ids, &res)
		res.FramesCompleted = i + 1

		if onProgress != nil {
			onProgress(Progress{
				RunID:   id,
				Frame:   i,
				Total:   plan.ImageCount,
				Percent: plan.Progress(i + 1),
				Missing: len(res.Missing),
			})
		}

		if err := s.table.Rotate(plan.StepDegrees); err != nil {
			res.MotionFailures = append(res.MotionFailures, MotionFailure{Frame: i, Error: err.Error()})
		}
	}

	res.State = final
	res.Finished = time.Now()
	debug.Summary("Revolution scan " + final.String())
	debug.Info("Capture %s %s: %d/%d positions, %d files, %d missing, %d motion failures",
		id, final, res.FramesCompleted, plan.ImageCount, len(res.Files), len(res.Missing), len(res.MotionFailures))

	s.mu.Lock()
	s.state = final
	s.last = &res
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if onDone != nil {
		onDone(res)
	}
}

// boundary waits delay at a frame boundary and reports whether the scan may
// go on.
func (s *Sequencer) boundary(ctx context.Context, delay time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if delay <= 0 {
		return true
	}
	debug.Verbose("Waiting %v before capture", delay)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// shoot captures position i on every camera. Failures are recorded and the
// remaining cameras are still shot.
func (s *Sequencer) shoot(i int, req Request, dir string, ids []int, res *Result) {
	if s.opts.ReleaseMotor {
		if err := s.table.Disable(); err != nil {
			debug.Warn("Turntable release before frame %03d: %v", i, err)
		}
		defer func() {
			if err := s.table.Enable(); err != nil {
				debug.Warn("Turntable re-enable after frame %03d: %v", i, err)
			}
		}()
	}
	for _, cam := range ids {
		path := filepath.Join(dir, frame.FileName(strings.TrimSpace(req.BaseName), i, cam, s.cams.Ext()))
		if err := s.cams.CaptureToFile(cam, path, req.ApplyEnhancement); err != nil {
			debug.Warn("Frame %03d camera %d missing: %v", i, cam, err)
			res.Missing = append(res.Missing, MissingFrame{Frame: i, CameraID: cam, Path: path, Error: err.Error()})
			continue
		}
		debug.Shot(i, cam, path)
		res.Files = append(res.Files, path)
	}
}

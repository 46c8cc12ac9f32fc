package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/frame"
)

// DefaultCommand is the libcamera still-capture utility.
const DefaultCommand = "rpicam-still"

// Capture timings passed to the utility, in milliseconds.
const (
	stillTimeoutMs   = 500 // lets AE-free pipelines settle on the fixed controls
	previewTimeoutMs = 1
)

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec. Stderr is included in the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
			msg = msg[i+1:]
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.Bytes(), nil
}

// RPiCam drives a Raspberry Pi camera through the rpicam-still utility.
// Each capture is one subprocess that writes a PNG to stdout; the current
// controls are passed as arguments.
type RPiCam struct {
	id      int
	command string
	run     Runner
	started bool
	set     settings
}

// ListCameras returns the indices reported by "<command> --list-cameras".
func ListCameras(ctx context.Context, command string, run Runner) ([]int, error) {
	out, err := run(ctx, command, "--list-cameras")
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	var ids []int
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		// "0 : imx708 [4608x2592 10-bit RGGB] (/base/...)"
		idx, rest, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok || !strings.Contains(rest, "[") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(idx)); err == nil {
			ids = append(ids, n)
		}
	}
	return ids, sc.Err()
}

// OpenRPiCam probes for camera id and returns a device for it. A camera that
// is not listed yields ErrUnavailable.
func OpenRPiCam(ctx context.Context, id int, command string, run Runner) (*RPiCam, error) {
	if command == "" {
		command = DefaultCommand
	}
	if run == nil {
		run = ExecRunner
	}
	ids, err := ListCameras(ctx, command, run)
	if err != nil {
		return nil, fmt.Errorf("%w: camera %d: %v", ErrUnavailable, id, err)
	}
	for _, n := range ids {
		if n == id {
			debug.Verbose("Camera %d: found via %s", id, command)
			return &RPiCam{id: id, command: command, run: run}, nil
		}
	}
	return nil, fmt.Errorf("%w: camera %d not listed (found %v)", ErrUnavailable, id, ids)
}

func (c *RPiCam) ID() int { return c.id }

func (c *RPiCam) Configure(p Profile) error {
	if p.Main.Width <= 0 || p.Main.Height <= 0 || p.Lores.Width <= 0 || p.Lores.Height <= 0 {
		return fmt.Errorf("camera %d: invalid stream sizes %+v / %+v", c.id, p.Main, p.Lores)
	}
	c.set = newSettings(p)
	debug.PrintStruct(fmt.Sprintf("camera %d profile", c.id), p)
	return nil
}

func (c *RPiCam) Start() error {
	c.started = true
	return nil
}

func (c *RPiCam) Stop() error {
	c.started = false
	return nil
}

func (c *RPiCam) SetControls(ctl Controls) error {
	c.set.apply(ctl)
	return nil
}

// AutofocusCycle runs a throwaway low-resolution capture with an autofocus
// sweep. In auto mode every later still refocuses on capture as well.
func (c *RPiCam) AutofocusCycle() error {
	if !c.started {
		return ErrNotStarted
	}
	args := append(c.args(Lores, previewTimeoutMs), "--autofocus-on-capture")
	if _, err := c.run(context.Background(), c.command, args...); err != nil {
		return fmt.Errorf("camera %d: autofocus: %w", c.id, err)
	}
	return nil
}

func (c *RPiCam) CaptureStill(s Stream) (*frame.Buffer, error) {
	return c.capture(s, stillTimeoutMs)
}

func (c *RPiCam) CaptureArray(s Stream) (*frame.Buffer, error) {
	return c.capture(s, previewTimeoutMs)
}

func (c *RPiCam) Close() error {
	c.started = false
	return nil
}

func (c *RPiCam) capture(s Stream, timeoutMs int) (*frame.Buffer, error) {
	if !c.started {
		return nil, ErrNotStarted
	}
	args := c.args(s, timeoutMs)
	if c.set.focus == FocusAuto && s == Main {
		args = append(args, "--autofocus-on-capture")
	}
	debug.Trace("Camera %d: %s %s", c.id, c.command, strings.Join(args, " "))

	out, err := c.run(context.Background(), c.command, args...)
	if err != nil {
		return nil, fmt.Errorf("camera %d: capture %s: %w", c.id, s, err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("camera %d: decode %s: %w", c.id, s, err)
	}
	return frame.FromImage(img, c.id, time.Now()), nil
}

// args builds the command line for one capture with the current controls.
// White balance gains are pinned to 1,1 to keep AWB off.
func (c *RPiCam) args(s Stream, timeoutMs int) []string {
	size := c.set.size(s)
	args := []string{
		"--camera", strconv.Itoa(c.id),
		"--nopreview",
		"--immediate",
		"--timeout", strconv.Itoa(timeoutMs),
		"--width", strconv.Itoa(size.Width),
		"--height", strconv.Itoa(size.Height),
		"--encoding", "png",
		"--output", "-",
		"--shutter", strconv.Itoa(c.set.exposure),
		"--gain", strconv.FormatFloat(c.set.gain, 'f', -1, 64),
		"--awbgains", "1,1",
		"--denoise", denoiseArg(c.set.noise),
	}
	if c.set.focus == FocusManual {
		args = append(args,
			"--autofocus-mode", "manual",
			"--lens-position", strconv.FormatFloat(c.set.lens, 'f', -1, 64))
	} else {
		args = append(args, "--autofocus-mode", "auto")
	}
	return args
}

func denoiseArg(n NoiseReduction) string {
	switch n {
	case NoiseOff:
		return "cdn_off"
	case NoiseFast:
		return "cdn_fast"
	}
	return "cdn_hq"
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cjeanneret/coralcam/internal/config"
	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/frame"
	"github.com/cjeanneret/coralcam/internal/hw/camera"
	"github.com/cjeanneret/coralcam/internal/hw/gpio"
	"github.com/cjeanneret/coralcam/internal/hw/light"
	"github.com/cjeanneret/coralcam/internal/hw/stepper"
	"github.com/cjeanneret/coralcam/internal/logic/cameras"
	"github.com/cjeanneret/coralcam/internal/logic/capture"
	"github.com/cjeanneret/coralcam/internal/logic/motion"
)

// part selects which rig components a command needs.
type part int

const (
	partCameras part = 1 << iota
	partTurntable
	partLight

	partAll = partCameras | partTurntable | partLight
)

// rig holds the service objects built from the configuration. Close tears
// down whatever was opened, in reverse order.
type rig struct {
	gpio  gpio.Driver
	motor *stepper.Stepper
	uart  io.Closer
	table *motion.Controller
	light *light.Light
	cams  *cameras.Controller
	seq   *capture.Sequencer
}

// cameraOpener picks the device implementation from config.
func cameraOpener(ctx context.Context, cfg *config.Config) cameras.Opener {
	if cfg.Cameras.Driver == "mock" {
		return func(id int) (camera.Device, error) {
			return camera.NewMock(id), nil
		}
	}
	return func(id int) (camera.Device, error) {
		return camera.OpenRPiCam(ctx, id, cfg.Cameras.Command, camera.ExecRunner)
	}
}

// camerasConfig maps the cameras section onto the controller config.
func camerasConfig(cfg *config.Config) (cameras.Config, error) {
	c := cfg.Cameras
	settle := cfg.SettleFactor()
	nr, err := camera.ParseNoiseReduction(c.NoiseReduction)
	if err != nil {
		return cameras.Config{}, fmt.Errorf("cameras.noise_reduction: %w", err)
	}
	format, err := frame.ParseFormat(c.Format)
	if err != nil {
		return cameras.Config{}, fmt.Errorf("cameras.format: %w", err)
	}
	return cameras.Config{
		Profile: camera.Profile{
			Main:           camera.Size{Width: c.MainWidth, Height: c.MainHeight},
			Lores:          camera.Size{Width: c.LoresWidth, Height: c.LoresHeight},
			NoiseReduction: nr,
			Exposure:       c.ExposureUs,
			Gain:           c.Gain,
		},
		MinExposure:  c.MinExposureUs,
		MaxExposure:  c.MaxExposureUs,
		MinGain:      c.MinGain,
		MaxGain:      c.MaxGain,
		MaxLens:      c.MaxLens,
		SettleFactor: &settle,
		Encoder:      frame.Encoder{Format: format, JPEGQuality: c.JPEGQuality},
	}, nil
}

// openRig builds the requested parts. On error everything already opened
// is closed again.
func openRig(ctx context.Context, cfg *config.Config, want part) (r *rig, err error) {
	r = &rig{}
	defer func() {
		if err != nil {
			if cerr := r.Close(); cerr != nil {
				debug.Warn("rig teardown: %v", cerr)
			}
			r = nil
		}
	}()

	debug.Section("Initialization")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	if want&(partTurntable|partLight) != 0 {
		debug.Step(1, "Initializing GPIO driver")
		g, gerr := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if gerr != nil {
			return r, fmt.Errorf("init GPIO: %w", gerr)
		}
		r.gpio = g
	}

	if want&partTurntable != 0 {
		debug.Step(2, "Initializing turntable")
		if err = r.openTurntable(cfg); err != nil {
			return r, err
		}
	}

	if want&partLight != 0 {
		debug.Step(3, "Initializing light")
		r.light = light.New(r.gpio, light.Config{
			Pin:         cfg.Light.Pin,
			FrequencyHz: cfg.Light.FrequencyHz,
			Brightness:  cfg.Light.Brightness,
		})
	}

	if want&partCameras != 0 {
		debug.Step(4, "Initializing cameras")
		ccfg, cerr := camerasConfig(cfg)
		if cerr != nil {
			return r, cerr
		}
		if r.cams, err = cameras.New(cfg.Cameras.IDs, cameraOpener(ctx, cfg), ccfg); err != nil {
			return r, fmt.Errorf("init cameras: %w", err)
		}
		if err = r.cams.Start(); err != nil {
			return r, fmt.Errorf("start cameras: %w", err)
		}
	}

	if want&(partCameras|partTurntable) == partCameras|partTurntable {
		r.seq = capture.NewSequencer(r.cams, r.table, capture.Options{
			ReleaseMotor: cfg.Turntable.ReleaseMotor,
		})
	}
	return r, nil
}

func (r *rig) openTurntable(cfg *config.Config) error {
	tt := cfg.Turntable
	debug.PrintStruct("Turntable config", tt)
	r.motor = stepper.NewStepper(r.gpio, stepper.Config{
		StepPin:       tt.StepPin,
		DirPin:        tt.DirPin,
		EnablePin:     tt.EnablePin,
		StepsPerRev:   tt.StepsPerRev,
		Microstepping: tt.Microstepping,
		InvertDir:     tt.InvertDir,
		MaxSpeed:      tt.MaxSpeed,
		Acceleration:  tt.Acceleration,
	})

	if cfg.UARTEnabled() {
		u := tt.UART
		drv, port, err := stepper.OpenTMC2209(u.Device, u.Baud, u.Address)
		if err != nil {
			return fmt.Errorf("init TMC2209: %w", err)
		}
		r.uart = port
		if err := drv.Configure(stepper.DriverConfig{
			Address:       u.Address,
			RunCurrentMA:  u.RunCurrentMA,
			HoldRatio:     u.HoldRatio,
			Microstepping: tt.Microstepping,
			Interpolation: u.Interpolation,
			SpreadCycle:   u.SpreadCycle,
			RsenseOhms:    u.RsenseOhms,
		}); err != nil {
			return fmt.Errorf("configure TMC2209: %w", err)
		}
		r.motor.SetMonitor(drv)
	}

	r.table = motion.NewController(r.motor, tt.GearRatio)
	return nil
}

// Close releases every opened part. Errors are joined.
func (r *rig) Close() error {
	var errs []error
	if r.seq != nil {
		r.seq.Stop()
		r.seq.Wait()
	}
	if r.cams != nil {
		errs = append(errs, r.cams.Close())
	}
	if r.light != nil {
		errs = append(errs, r.light.Off())
	}
	if r.table != nil {
		errs = append(errs, r.table.Disable())
	}
	if r.uart != nil {
		errs = append(errs, r.uart.Close())
	}
	if r.gpio != nil {
		errs = append(errs, r.gpio.Close())
	}
	return errors.Join(errs...)
}

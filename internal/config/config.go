package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 64 << 10

// CamerasConfig describes the camera devices and their shared profile.
type CamerasConfig struct {
	Driver         string  `yaml:"driver"`  // "rpicam" or "mock"
	Command        string  `yaml:"command"` // rpicam-still binary
	IDs            []int   `yaml:"ids"`     // camera indices, camera 1 optional
	MainWidth      int     `yaml:"main_width"`
	MainHeight     int     `yaml:"main_height"`
	LoresWidth     int     `yaml:"lores_width"`
	LoresHeight    int     `yaml:"lores_height"`
	NoiseReduction string  `yaml:"noise_reduction"` // off, fast, high_quality
	ExposureUs     int     `yaml:"exposure_us"`     // initial exposure
	Gain           float64 `yaml:"gain"`            // initial analogue gain
	MinExposureUs  int     `yaml:"min_exposure_us"`
	MaxExposureUs  int     `yaml:"max_exposure_us"`
	MinGain        float64 `yaml:"min_gain"`
	MaxGain        float64 `yaml:"max_gain"`
	MaxLens        float64 `yaml:"max_lens"`
	SettleFactor   *int    `yaml:"settle_factor"` // shutter-safe delay = exposure*(settle_factor+1)
	Format         string  `yaml:"format"`        // jpg or png
	JPEGQuality    int     `yaml:"jpeg_quality"`
}

// UARTConfig is the TMC2209 single-wire UART link. An empty Device
// disables the link and the driver keeps its OTP defaults.
type UARTConfig struct {
	Device        string  `yaml:"device"` // e.g. /dev/ttyAMA0
	Baud          int     `yaml:"baud"`
	Address       uint8   `yaml:"address"`
	RunCurrentMA  int     `yaml:"run_current_ma"`
	HoldRatio     float64 `yaml:"hold_ratio"`
	Interpolation bool    `yaml:"interpolation"`
	SpreadCycle   bool    `yaml:"spread_cycle"`
	RsenseOhms    float64 `yaml:"rsense_ohms"`
}

// TurntableConfig holds the turntable stepper and its gearing.
type TurntableConfig struct {
	StepPin       int        `yaml:"step_pin"`
	DirPin        int        `yaml:"dir_pin"`
	EnablePin     int        `yaml:"enable_pin"` // BCM, 0 = not used. Active LOW.
	StepsPerRev   int        `yaml:"steps_per_rev"`
	Microstepping int        `yaml:"microstepping"`
	InvertDir     bool       `yaml:"invert_dir"`
	GearRatio     float64    `yaml:"gear_ratio"`   // motor revolutions per turntable revolution
	MaxSpeed      float64    `yaml:"max_speed"`    // full steps/s
	Acceleration  float64    `yaml:"acceleration"` // full steps/s²
	ReleaseMotor  bool       `yaml:"release_motor"`
	UART          UARTConfig `yaml:"uart"`
}

// LightConfig is the PWM ring light.
type LightConfig struct {
	Pin         int     `yaml:"pin"` // BCM, must be a hardware PWM pin
	FrequencyHz int     `yaml:"frequency_hz"`
	Brightness  float64 `yaml:"brightness"` // percent
}

// CaptureConfig holds the scan request defaults.
type CaptureConfig struct {
	OutputDir           string `yaml:"output_dir"`
	BaseName            string `yaml:"base_name"`
	ImageCount          int    `yaml:"image_count"`
	InterCaptureDelayMs int    `yaml:"inter_capture_delay_ms"`
	ApplyEnhancement    bool   `yaml:"apply_enhancement"`
}

// WebConfig is the control panel server.
type WebConfig struct {
	Addr              string `yaml:"addr"`
	PreviewIntervalMs int    `yaml:"preview_interval_ms"`
	MaxBodyBytes      int64  `yaml:"max_body_bytes"`
}

// LoggingConfig is the rotating log file. An empty File logs to stdout only.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Cameras   CamerasConfig   `yaml:"cameras"`
	Turntable TurntableConfig `yaml:"turntable"`
	Light     LightConfig     `yaml:"light"`
	Capture   CaptureConfig   `yaml:"capture"`
	Web       WebConfig       `yaml:"web"`
	Logging   LoggingConfig   `yaml:"logging"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files directly inside a configs/
// directory, with no parent references.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("config file is empty")
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	cam := &c.Cameras
	if cam.Driver == "" {
		cam.Driver = "rpicam"
	}
	if cam.Command == "" {
		cam.Command = "rpicam-still"
	}
	if len(cam.IDs) == 0 {
		cam.IDs = []int{0, 1}
	}
	if cam.MainWidth <= 0 || cam.MainHeight <= 0 {
		cam.MainWidth, cam.MainHeight = 4056, 3040
	}
	if cam.LoresWidth <= 0 || cam.LoresHeight <= 0 {
		cam.LoresWidth, cam.LoresHeight = 640, 480
	}
	if cam.NoiseReduction == "" {
		cam.NoiseReduction = "high_quality"
	}
	if cam.ExposureUs <= 0 {
		cam.ExposureUs = 20000
	}
	if cam.Gain <= 0 {
		cam.Gain = 1.0
	}
	if cam.MinExposureUs <= 0 {
		cam.MinExposureUs = 100
	}
	if cam.MaxExposureUs <= 0 {
		cam.MaxExposureUs = 100000
	}
	if cam.MinGain <= 0 {
		cam.MinGain = 1.0
	}
	if cam.MaxGain <= 0 {
		cam.MaxGain = 16.0
	}
	if cam.MaxLens <= 0 {
		cam.MaxLens = 15.0
	}
	if cam.SettleFactor == nil {
		f := 5
		cam.SettleFactor = &f
	}
	if cam.Format == "" {
		cam.Format = "jpg"
	}
	if cam.JPEGQuality <= 0 {
		cam.JPEGQuality = 95
	}

	tt := &c.Turntable
	if tt.StepsPerRev <= 0 {
		tt.StepsPerRev = 200
	}
	if tt.Microstepping <= 0 {
		tt.Microstepping = 8
	}
	if tt.GearRatio <= 0 {
		tt.GearRatio = 5
	}
	if tt.MaxSpeed <= 0 {
		tt.MaxSpeed = 100
	}
	if tt.Acceleration < 0 {
		tt.Acceleration = 0
	}
	if tt.UART.Baud <= 0 {
		tt.UART.Baud = 115200
	}
	if tt.UART.RunCurrentMA <= 0 {
		tt.UART.RunCurrentMA = 300
	}
	if tt.UART.HoldRatio <= 0 {
		tt.UART.HoldRatio = 0.5
	}
	if tt.UART.RsenseOhms <= 0 {
		tt.UART.RsenseOhms = 0.11
	}

	if c.Light.FrequencyHz <= 0 {
		c.Light.FrequencyHz = 333
	}

	if c.Capture.OutputDir == "" {
		c.Capture.OutputDir = "coral_images"
	}
	if c.Capture.BaseName == "" {
		c.Capture.BaseName = "capture"
	}
	if c.Capture.ImageCount <= 0 {
		c.Capture.ImageCount = 30
	}
	if c.Capture.InterCaptureDelayMs < 0 {
		c.Capture.InterCaptureDelayMs = 0
	}

	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
	if c.Web.PreviewIntervalMs <= 0 {
		c.Web.PreviewIntervalMs = 100
	}
	if c.Web.MaxBodyBytes <= 0 {
		c.Web.MaxBodyBytes = 1 << 20
	}

	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	cam := c.Cameras
	switch cam.Driver {
	case "rpicam", "mock":
	default:
		return fmt.Errorf("cameras.driver must be rpicam or mock, got %q", cam.Driver)
	}
	if len(cam.IDs) > 2 {
		return fmt.Errorf("cameras.ids: at most 2 cameras, got %d", len(cam.IDs))
	}
	for _, id := range cam.IDs {
		if id < 0 {
			return fmt.Errorf("cameras.ids: negative id %d", id)
		}
	}
	if cam.MinExposureUs >= cam.MaxExposureUs {
		return fmt.Errorf("cameras: min_exposure_us %d must be < max_exposure_us %d", cam.MinExposureUs, cam.MaxExposureUs)
	}
	if cam.ExposureUs < cam.MinExposureUs || cam.ExposureUs > cam.MaxExposureUs {
		return fmt.Errorf("cameras.exposure_us %d outside [%d, %d]", cam.ExposureUs, cam.MinExposureUs, cam.MaxExposureUs)
	}
	if cam.MinGain >= cam.MaxGain {
		return fmt.Errorf("cameras: min_gain %.2f must be < max_gain %.2f", cam.MinGain, cam.MaxGain)
	}
	if cam.Gain < cam.MinGain || cam.Gain > cam.MaxGain {
		return fmt.Errorf("cameras.gain %.2f outside [%.2f, %.2f]", cam.Gain, cam.MinGain, cam.MaxGain)
	}
	if *cam.SettleFactor < 0 {
		return fmt.Errorf("cameras.settle_factor must be >= 0, got %d", *cam.SettleFactor)
	}
	if cam.JPEGQuality > 100 {
		return fmt.Errorf("cameras.jpeg_quality must be <= 100, got %d", cam.JPEGQuality)
	}

	tt := c.Turntable
	if !validMicrostepping(tt.Microstepping) {
		return fmt.Errorf("turntable.microstepping must be a power of two up to 256, got %d", tt.Microstepping)
	}
	if tt.UART.Address > 3 {
		return fmt.Errorf("turntable.uart.address must be 0-3, got %d", tt.UART.Address)
	}
	if tt.UART.HoldRatio > 1 {
		return fmt.Errorf("turntable.uart.hold_ratio must be <= 1, got %.2f", tt.UART.HoldRatio)
	}
	if tt.UART.RunCurrentMA > 2000 {
		return fmt.Errorf("turntable.uart.run_current_ma must be <= 2000, got %d", tt.UART.RunCurrentMA)
	}

	if c.Light.Brightness < 0 || c.Light.Brightness > 100 {
		return fmt.Errorf("light.brightness must be between 0 and 100, got %.2f", c.Light.Brightness)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be 0-4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func validMicrostepping(m int) bool {
	return m > 0 && m <= 256 && m&(m-1) == 0
}

// SettleFactor returns the shutter-safe delay multiplier.
func (c *Config) SettleFactor() int {
	if c.Cameras.SettleFactor == nil {
		return 5
	}
	return *c.Cameras.SettleFactor
}

// InterCaptureDelay returns the default wait before each frame.
func (c *Config) InterCaptureDelay() time.Duration {
	return time.Duration(c.Capture.InterCaptureDelayMs) * time.Millisecond
}

// PreviewInterval returns the live preview frame period.
func (c *Config) PreviewInterval() time.Duration {
	return time.Duration(c.Web.PreviewIntervalMs) * time.Millisecond
}

// UARTEnabled reports whether the TMC2209 should be configured over UART.
func (c *Config) UARTEnabled() bool {
	return c.Turntable.UART.Device != ""
}

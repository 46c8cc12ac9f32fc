package debug

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ausocean/utils/logging"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (image count, plan, failures)
	LevelLive    = 2 // Live info (rotations, frames captured)
	LevelVerbose = 3 // Verbose (control changes, delays, calculation details)
	LevelTrace   = 4 // Trace (GPIO, UART, very low level)
)

// FileConfig describes the optional rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu       sync.RWMutex
	level    int
	logger   logging.Logger
	file     io.Writer
	extra    io.Writer
	suppress = true
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (plan, total image count, failures)
// 2 = live info (rotations, frames taken)
// 3 = verbose (control changes, delays, enhancement stages)
// 4 = trace (GPIO, UART, very low level)
//
// Output goes to stdout and, when fc.Path is set, to a size-rotated file.
func Init(debugLevel int, fc FileConfig) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	file = nil
	if fc.Path != "" {
		file = &lumberjack.Logger{
			Filename:   fc.Path,
			MaxSize:    fc.MaxSizeMB,
			MaxBackups: fc.MaxBackups,
			MaxAge:     fc.MaxAgeDays,
		}
	}
	rebuild()
}

// SetOutput adds w as an extra destination next to stdout and the log file.
// Passing nil removes the extra destination.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	extra = w
	rebuild()
}

// rebuild recreates the JSON logger; mu must be held.
func rebuild() {
	if level <= LevelOff {
		logger = nil
		return
	}
	writers := []io.Writer{os.Stdout}
	if file != nil {
		writers = append(writers, file)
	}
	if extra != nil {
		writers = append(writers, extra)
	}
	lvl := logging.Info
	if level >= LevelVerbose {
		lvl = logging.Debug
	}
	logger = logging.New(lvl, io.MultiWriter(writers...), suppress)
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Logger returns the underlying logger, or nil when output is off.
func Logger() logging.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func active(minLevel int) logging.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if level < minLevel || logger == nil {
		return nil
	}
	return logger
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if l := active(LevelInfo); l != nil {
		l.Info(fmt.Sprintf(format, args...))
	}
}

// Warn prints a level 1 warning. Used for degraded but recoverable situations
// (missing camera, failed frame, motion fault).
func Warn(format string, args ...interface{}) {
	if l := active(LevelInfo); l != nil {
		l.Warning(fmt.Sprintf(format, args...))
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if l := active(LevelInfo); l != nil {
		l.Info("═══ " + title + " ═══")
	}
}

// Plan prints the revolution plan (level 1).
func Plan(imageCount, cameras int, stepDegrees float64) {
	if l := active(LevelInfo); l != nil {
		l.Info(fmt.Sprintf("Plan: %d angles x %d cameras = %d images, %.4f° per step",
			imageCount, cameras, imageCount*cameras, stepDegrees))
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if l := active(LevelLive); l != nil {
		l.Info("[LIVE] " + fmt.Sprintf(format, args...))
	}
}

// Move prints a turntable movement (level 2).
func Move(degrees, revolutions float64) {
	if l := active(LevelLive); l != nil {
		l.Info(fmt.Sprintf("[LIVE] Turntable: %.4f° (%.2f motor revolutions)", degrees, revolutions))
	}
}

// Shot prints a frame capture (level 2).
func Shot(frame, camera int, path string) {
	if l := active(LevelLive); l != nil {
		l.Info(fmt.Sprintf("[LIVE] Frame %03d captured on camera %d -> %s", frame, camera, path))
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if l := active(LevelVerbose); l != nil {
		l.Debug(fmt.Sprintf(format, args...))
	}
}

// Printf is an alias for Verbose for compatibility.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if l := active(LevelVerbose); l != nil {
		l.Debug(fmt.Sprintf("%s: %+v", name, v))
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if l := active(LevelVerbose); l != nil {
		l.Debug("━━━ " + name + " ━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if l := active(LevelVerbose); l != nil {
		l.Debug(fmt.Sprintf("Step %d: %s", num, description))
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if l := active(LevelInfo); l != nil {
		l.Info(fmt.Sprintf("  %s = %v", name, value))
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if l := active(LevelTrace); l != nil {
		l.Debug("[TRACE] " + fmt.Sprintf(format, args...))
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if l := active(LevelTrace); l != nil {
		l.Debug(fmt.Sprintf("[GPIO] %s pin=%d value=%v", operation, pin, value))
	}
}

// UART prints a raw UART datagram (level 4).
func UART(direction string, data []byte) {
	if l := active(LevelTrace); l != nil {
		l.Debug(fmt.Sprintf("[UART] %s % x", direction, data))
	}
}

// --- General functions ---

// Error prints an error (level 1+).
func Error(err error) {
	if l := active(LevelInfo); l != nil {
		l.Error(err.Error())
	}
}

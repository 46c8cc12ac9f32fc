package camera

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/frame"
)

// Mock is a synthetic camera for development off the Pi and for tests. It
// produces a colour gradient disc on a black background in BGR order and
// records every call.
type Mock struct {
	id  int
	set settings

	mu      sync.Mutex
	started bool
	calls   []string

	// FailCapture, when set, is returned by every capture.
	FailCapture error
	// FailConfigure, when set, is returned by Configure.
	FailConfigure error
	// FailControls, when set, is returned by SetControls.
	FailControls error
	// CaptureDelay is slept inside each capture, to widen race windows in tests.
	CaptureDelay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// NewMock returns a mock camera with the given id.
func NewMock(id int) *Mock {
	debug.Info("Using MOCK camera %d", id)
	return &Mock{id: id}
}

func (m *Mock) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

// Calls returns the names of the methods called so far, in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MaxConcurrent reports the highest number of captures that ever overlapped.
func (m *Mock) MaxConcurrent() int {
	return int(m.maxInFlight.Load())
}

// Exposure returns the exposure currently applied, in µs.
func (m *Mock) Exposure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.exposure
}

// Gain returns the analogue gain currently applied.
func (m *Mock) Gain() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.gain
}

// Focus returns the focus mode and lens position currently applied.
func (m *Mock) Focus() (FocusMode, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.focus, m.set.lens
}

func (m *Mock) ID() int { return m.id }

func (m *Mock) Configure(p Profile) error {
	m.record("Configure")
	if m.FailConfigure != nil {
		return m.FailConfigure
	}
	m.mu.Lock()
	m.set = newSettings(p)
	m.mu.Unlock()
	return nil
}

func (m *Mock) Start() error {
	m.record("Start")
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) Stop() error {
	m.record("Stop")
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	return nil
}

func (m *Mock) SetControls(c Controls) error {
	m.record("SetControls")
	if m.FailControls != nil {
		return m.FailControls
	}
	m.mu.Lock()
	m.set.apply(c)
	m.mu.Unlock()
	return nil
}

func (m *Mock) AutofocusCycle() error {
	m.record("AutofocusCycle")
	return nil
}

func (m *Mock) CaptureStill(s Stream) (*frame.Buffer, error) {
	m.record("CaptureStill")
	return m.capture(s)
}

func (m *Mock) CaptureArray(s Stream) (*frame.Buffer, error) {
	m.record("CaptureArray")
	return m.capture(s)
}

func (m *Mock) Close() error {
	m.record("Close")
	return nil
}

func (m *Mock) capture(s Stream) (*frame.Buffer, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	started := m.started
	size := m.set.size(s)
	m.mu.Unlock()

	if !started {
		return nil, ErrNotStarted
	}
	if m.CaptureDelay > 0 {
		time.Sleep(m.CaptureDelay)
	}
	if m.FailCapture != nil {
		return nil, m.FailCapture
	}
	if size.Width <= 0 || size.Height <= 0 {
		size = Size{Width: 64, Height: 48}
	}
	return Synthetic(size.Width, size.Height, m.id), nil
}

// Synthetic renders the mock test pattern: a centred disc with a horizontal
// red and vertical green gradient on pure black, stored BGR.
func Synthetic(w, h, cameraID int) *frame.Buffer {
	b := frame.New(w, h, frame.BGR)
	b.CameraID = cameraID
	b.Timestamp = time.Now()

	cx, cy := float64(w)/2, float64(h)/2
	r := min(cx, cy) * 0.8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy > r*r {
				continue
			}
			red := uint8(40 + 200*x/max(w-1, 1))
			green := uint8(40 + 200*y/max(h-1, 1))
			b.SetRGB(x, y, red, green, uint8(60+40*cameraID%200))
		}
	}
	return b
}

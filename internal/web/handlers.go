package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/frame"
	"github.com/cjeanneret/coralcam/internal/logic/cameras"
	"github.com/cjeanneret/coralcam/internal/logic/capture"
	"github.com/cjeanneret/coralcam/internal/logic/enhance"
)

// DefaultRunInterval is the minimum time between two accepted POST /run.
const DefaultRunInterval = 5 * time.Second

// Sequencer is the capture sequencer as seen by the panel.
type Sequencer interface {
	Run(ctx context.Context, req capture.Request, onProgress func(capture.Progress), onDone func(capture.Result)) (string, error)
	Stop()
	State() (capture.State, string)
	Last() (capture.Result, bool)
}

// Cameras is the camera controller as seen by the panel.
type Cameras interface {
	IDs() []int
	SetExposure(us int, ids ...int) error
	SetGain(gain float64, ids ...int) error
	FocusAuto(ids ...int) error
	FocusManual(lens float64, ids ...int) error
	State(id int) (cameras.State, bool)
	Enhancement(id int) (enhance.Settings, bool)
	SetEnhancement(id int, p enhance.Patch) error
	ApplySuggestedLevels(id int, enable bool) (enhance.Settings, error)
	Preview(id int) (*frame.Buffer, error)
}

// Light is the ring light.
type Light interface {
	On() error
	Off() error
	SetBrightness(percent float64) error
	Brightness() (float64, bool)
}

// Turntable accepts manual rotations outside a scan.
type Turntable interface {
	Rotate(degrees float64) error
}

// FormConfig holds default values for the capture form (from config).
type FormConfig struct {
	OutputDir           string `json:"output_dir"`
	BaseName            string `json:"base_name"`
	ImageCount          int    `json:"image_count"`
	InterCaptureDelayMs int    `json:"inter_capture_delay_ms"`
	ApplyEnhancement    bool   `json:"apply_enhancement"`
}

// Request converts the form to a sequencer request.
func (f FormConfig) Request() capture.Request {
	return capture.Request{
		OutputDir:         f.OutputDir,
		BaseName:          f.BaseName,
		ImageCount:        f.ImageCount,
		InterCaptureDelay: time.Duration(f.InterCaptureDelayMs) * time.Millisecond,
		ApplyEnhancement:  f.ApplyEnhancement,
	}
}

// Deps are the rig components behind the panel. Any of them may be nil;
// the matching routes then answer 503.
type Deps struct {
	Sequencer Sequencer
	Cameras   Cameras
	Light     Light
	Turntable Turntable
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster     *StatusBroadcaster
	Deps            Deps
	FormDefaults    FormConfig
	MaxBodyBytes    int64
	RunInterval     time.Duration
	PreviewInterval time.Duration

	ctx      context.Context
	runMu    sync.Mutex
	lastRun  time.Time
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, deps Deps, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:     broadcaster,
		Deps:            deps,
		FormDefaults:    formDefaults,
		MaxBodyBytes:    1 << 20,
		RunInterval:     DefaultRunInterval,
		PreviewInterval: 100 * time.Millisecond,
		ctx:             context.Background(),
		staticFS:        staticFS,
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Warn("web: encode response: %v", err)
	}
}

// decode reads a size-capped JSON body into v.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// controlError maps a component error to a status code.
func controlError(w http.ResponseWriter, err error) {
	var ve *capture.ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, cameras.ErrInvalidControl),
		errors.Is(err, enhance.ErrInvalidSettings):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, capture.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, cameras.ErrUnknownCamera):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func unavailable(w http.ResponseWriter, what string) {
	http.Error(w, what+" not configured", http.StatusServiceUnavailable)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// cameraID parses the {id} path value and checks it is configured.
func (h *Handlers) cameraID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid camera id", http.StatusBadRequest)
		return 0, false
	}
	for _, known := range h.Deps.Cameras.IDs() {
		if known == id {
			return id, true
		}
	}
	http.Error(w, fmt.Sprintf("unknown camera %d", id), http.StatusNotFound)
	return 0, false
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleRun handles POST /run to start a scan. Omitted fields take the
// configured defaults.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	form := h.FormDefaults
	if !h.decode(w, r, &form) {
		return
	}

	seq := h.Deps.Sequencer
	if seq == nil {
		unavailable(w, "capture")
		return
	}

	h.runMu.Lock()
	defer h.runMu.Unlock()
	if st, _ := seq.State(); st == capture.Running {
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	}
	if !h.lastRun.IsZero() && time.Since(h.lastRun) < h.RunInterval {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	id, err := seq.Run(h.ctx, form.Request(), h.onProgress, h.onDone)
	if err != nil {
		controlError(w, err)
		return
	}
	h.lastRun = time.Now()
	h.Broadcaster.Broadcast("info", "Capture "+id+" started")

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "run_id": id})
}

func (h *Handlers) onProgress(p capture.Progress) {
	h.Broadcaster.Publish("progress", fmt.Sprintf("Frame %d/%d", p.Frame+1, p.Total), p)
}

func (h *Handlers) onDone(res capture.Result) {
	h.Broadcaster.Publish("done", "Sequence "+res.State.String(), res)
}

// HandleStop handles POST /stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Sequencer == nil {
		unavailable(w, "capture")
		return
	}
	h.Deps.Sequencer.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// CameraStatus is one camera in GET /status.
type CameraStatus struct {
	ID          int              `json:"id"`
	State       cameras.State    `json:"state"`
	Enhancement enhance.Settings `json:"enhancement"`
}

// LightStatus is the light in GET /status.
type LightStatus struct {
	On         bool    `json:"on"`
	Brightness float64 `json:"brightness"`
}

// Status is the GET /status body.
type Status struct {
	State   capture.State   `json:"state"`
	RunID   string          `json:"run_id,omitempty"`
	Last    *capture.Result `json:"last,omitempty"`
	Cameras []CameraStatus  `json:"cameras"`
	Light   *LightStatus    `json:"light,omitempty"`
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{Cameras: []CameraStatus{}}
	if seq := h.Deps.Sequencer; seq != nil {
		st.State, st.RunID = seq.State()
		if last, ok := seq.Last(); ok {
			st.Last = &last
		}
	}
	if cams := h.Deps.Cameras; cams != nil {
		for _, id := range cams.IDs() {
			cs, _ := cams.State(id)
			es, _ := cams.Enhancement(id)
			st.Cameras = append(st.Cameras, CameraStatus{ID: id, State: cs, Enhancement: es})
		}
	}
	if l := h.Deps.Light; l != nil {
		b, on := l.Brightness()
		st.Light = &LightStatus{On: on, Brightness: b}
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// ExposureRequest is the POST /cameras/exposure body. No ids means every camera.
type ExposureRequest struct {
	ExposureUs int   `json:"exposure_us"`
	IDs        []int `json:"ids"`
}

// HandleExposure handles POST /cameras/exposure.
func (h *Handlers) HandleExposure(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Cameras == nil {
		unavailable(w, "cameras")
		return
	}
	var req ExposureRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Deps.Cameras.SetExposure(req.ExposureUs, req.IDs...); err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GainRequest is the POST /cameras/gain body.
type GainRequest struct {
	Gain float64 `json:"gain"`
	IDs  []int   `json:"ids"`
}

// HandleGain handles POST /cameras/gain.
func (h *Handlers) HandleGain(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Cameras == nil {
		unavailable(w, "cameras")
		return
	}
	var req GainRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Deps.Cameras.SetGain(req.Gain, req.IDs...); err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FocusRequest is the POST /cameras/focus body.
type FocusRequest struct {
	Mode         string  `json:"mode"` // "auto" or "manual"
	LensPosition float64 `json:"lens_position"`
	IDs          []int   `json:"ids"`
}

// HandleFocus handles POST /cameras/focus.
func (h *Handlers) HandleFocus(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Cameras == nil {
		unavailable(w, "cameras")
		return
	}
	var req FocusRequest
	if !h.decode(w, r, &req) {
		return
	}
	var err error
	switch req.Mode {
	case "auto":
		err = h.Deps.Cameras.FocusAuto(req.IDs...)
	case "manual":
		err = h.Deps.Cameras.FocusManual(req.LensPosition, req.IDs...)
	default:
		http.Error(w, `mode must be "auto" or "manual"`, http.StatusBadRequest)
		return
	}
	if err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetEnhancement handles GET /cameras/{id}/enhancement.
func (h *Handlers) HandleGetEnhancement(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Cameras == nil {
		unavailable(w, "cameras")
		return
	}
	id, ok := h.cameraID(w, r)
	if !ok {
		return
	}
	s, _ := h.Deps.Cameras.Enhancement(id)
	writeJSON(w, http.StatusOK, s)
}

// HandlePutEnhancement handles PUT /cameras/{id}/enhancement with a partial
// update and answers with the merged settings.
func (h *Handlers) HandlePutEnhancement(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Cameras == nil {
		unavailable(w, "cameras")
		return
	}
	id, ok := h.cameraID(w, r)
	if !ok {
		return
	}
	var p enhance.Patch
	if !h.decode(w, r, &p) {
		return
	}
	if err := h.Deps.Cameras.SetEnhancement(id, p); err != nil {
		controlError(w, err)
		return
	}
	s, _ := h.Deps.Cameras.Enhancement(id)
	writeJSON(w, http.StatusOK, s)
}

// LevelsRequest is the POST /cameras/{id}/levels body.
type LevelsRequest struct {
	Enable bool `json:"enable"`
}

// HandleLevels handles POST /cameras/{id}/levels: suggest and store levels
// limits from the preview stream.
func (h *Handlers) HandleLevels(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Cameras == nil {
		unavailable(w, "cameras")
		return
	}
	id, ok := h.cameraID(w, r)
	if !ok {
		return
	}
	var req LevelsRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	s, err := h.Deps.Cameras.ApplySuggestedLevels(id, req.Enable)
	if err != nil {
		controlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// LightRequest is the POST /light body. Nil fields are left unchanged.
type LightRequest struct {
	On         *bool    `json:"on"`
	Brightness *float64 `json:"brightness"`
}

// HandleLight handles POST /light.
func (h *Handlers) HandleLight(w http.ResponseWriter, r *http.Request) {
	l := h.Deps.Light
	if l == nil {
		unavailable(w, "light")
		return
	}
	var req LightRequest
	if !h.decode(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.Brightness != nil:
		if !finite(*req.Brightness) || *req.Brightness < 0 || *req.Brightness > 100 {
			http.Error(w, "brightness must be between 0 and 100", http.StatusBadRequest)
			return
		}
		err = l.SetBrightness(*req.Brightness)
		if err == nil && req.On != nil && !*req.On {
			err = l.Off()
		}
	case req.On != nil && *req.On:
		err = l.On()
	case req.On != nil:
		err = l.Off()
	}
	if err != nil {
		controlError(w, err)
		return
	}
	b, on := l.Brightness()
	writeJSON(w, http.StatusOK, LightStatus{On: on, Brightness: b})
}

// RotateRequest is the POST /turntable/rotate body.
type RotateRequest struct {
	Degrees float64 `json:"degrees"`
}

// HandleRotate handles POST /turntable/rotate. The turntable belongs to the
// sequencer while a scan runs.
func (h *Handlers) HandleRotate(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Turntable == nil {
		unavailable(w, "turntable")
		return
	}
	var req RotateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !finite(req.Degrees) || math.Abs(req.Degrees) > 3600 {
		http.Error(w, "degrees must be between -3600 and 3600", http.StatusBadRequest)
		return
	}

	h.runMu.Lock()
	defer h.runMu.Unlock()
	if seq := h.Deps.Sequencer; seq != nil {
		if st, _ := seq.State(); st == capture.Running {
			http.Error(w, "turntable busy: capture in progress", http.StatusConflict)
			return
		}
	}
	if err := h.Deps.Turntable.Rotate(req.Degrees); err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package web

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/frame"
)

const previewQuality = 80

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandlePreview handles GET /preview/{id}: a websocket pushing one JPEG
// binary message per preview interval until the client goes away.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Cameras == nil {
		unavailable(w, "cameras")
		return
	}
	id, ok := h.cameraID(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("web: preview %d: upgrade: %v", id, err)
		return
	}
	defer conn.Close()
	debug.Verbose("web: preview %d opened from %s", id, r.RemoteAddr)

	// The client never sends; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := h.PreviewInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	enc := frame.Encoder{Format: frame.JPEG, JPEGQuality: previewQuality}
	var buf bytes.Buffer
	for {
		select {
		case <-gone:
			debug.Verbose("web: preview %d closed", id)
			return
		case <-r.Context().Done():
			return
		case <-h.ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
		}

		img, err := h.Deps.Cameras.Preview(id)
		if err != nil {
			debug.Trace("web: preview %d: %v", id, err)
			continue
		}
		buf.Reset()
		if err := enc.Encode(&buf, img); err != nil {
			debug.Warn("web: preview %d: encode: %v", id, err)
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(2 * interval))
		if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
			debug.Verbose("web: preview %d: write: %v", id, err)
			return
		}
	}
}

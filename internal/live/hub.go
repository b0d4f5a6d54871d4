// Package live pushes positions, alerts and speech to map clients over
// WebSocket and serves the tracker HTTP API.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/alert"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/voice"
)

// Frame types pushed to clients
const (
	FramePosition = "position"
	FrameAlert    = "alert"
	FrameDismiss  = "dismiss"
	FrameSpeech   = "speech"
	FrameCancel   = "cancel_speech"
	FrameVibrate  = "vibrate"
)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
)

// Frame is the envelope of every message sent to a client
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub fans frames out to connected WebSocket clients. Connected clients act
// as the speech synthesizer, the vibration motor and the alert banner.
type Hub struct {
	clients sync.Map // uint64 -> *client
	count   atomic.Int64
	nextID  atomic.Uint64
	board   *alert.BannerBoard
	origins []string
	logger  *slog.Logger
}

// NewHub creates a hub. origins lists the allowed Origin host patterns
// besides same-origin requests.
func NewHub(origins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if len(origins) == 0 {
		origins = []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*"}
	}
	return &Hub{
		board:   alert.NewBannerBoard(alert.BannerTTL),
		origins: origins,
		logger:  logger,
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Broadcast queues a frame for every client. Slow clients drop frames.
func (h *Hub) Broadcast(frameType string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode frame", "type", frameType, "error", err)
		return
	}
	frame := Frame{Type: frameType, Payload: payload}
	h.clients.Range(func(_, value any) bool {
		c := value.(*client)
		select {
		case c.sendCh <- frame:
		default:
			h.logger.Warn("dropped frame for slow client", "type", frameType)
		}
		return true
	})
}

// PublishPosition is a coords.Listener
func (h *Hub) PublishPosition(pos types.Position) {
	h.Broadcast(FramePosition, pos)
}

// Show implements alert.Banner
func (h *Hub) Show(a types.Alert) {
	h.board.Show(a)
	h.Broadcast(FrameAlert, a)
}

// Dismiss implements alert.Banner
func (h *Hub) Dismiss(tag string) {
	h.board.Dismiss(tag)
	h.Broadcast(FrameDismiss, map[string]string{"tag": tag})
}

// ActiveAlerts returns banners that have not expired yet
func (h *Hub) ActiveAlerts() []types.Alert {
	return h.board.Active()
}

// Speak implements voice.Synth by asking clients to read the text aloud
func (h *Hub) Speak(u voice.Utterance) error {
	h.Broadcast(FrameSpeech, u)
	return nil
}

// Cancel implements voice.Synth
func (h *Hub) Cancel() {
	h.Broadcast(FrameCancel, nil)
}

// Available implements alert.Haptics; vibration needs at least one client
func (h *Hub) Available() bool {
	return h.Clients() > 0
}

// Vibrate implements alert.Haptics
func (h *Hub) Vibrate(pattern []time.Duration) error {
	ms := make([]int64, len(pattern))
	for i, d := range pattern {
		ms[i] = d.Milliseconds()
	}
	h.Broadcast(FrameVibrate, ms)
	return nil
}

// ServeHTTP upgrades the request and streams frames until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	id := h.nextID.Add(1)
	c := &client{
		ws:     ws,
		sendCh: make(chan Frame, sendQueueSize),
		done:   make(chan struct{}),
	}
	h.clients.Store(id, c)
	h.count.Add(1)
	h.logger.Info("live client connected", "conn_id", id)

	for _, a := range h.board.Active() {
		h.enqueue(c, FrameAlert, a)
	}

	go h.writeLoop(c)
	h.readLoop(r.Context(), c)

	c.close()
	h.clients.Delete(id)
	h.count.Add(-1)
	ws.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("live client disconnected", "conn_id", id)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.clients.Range(func(key, value any) bool {
		c := value.(*client)
		c.close()
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		return true
	})
}

func (h *Hub) enqueue(c *client, frameType string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.sendCh <- Frame{Type: frameType, Payload: payload}:
	default:
	}
}

// readLoop drains client frames; clients only listen, so anything they send
// is ignored until the connection closes.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		var frame Frame
		if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, c.ws, frame)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

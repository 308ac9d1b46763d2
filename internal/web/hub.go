package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/twin-monitor/internal/overlay"
	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// Viewer message types. The first group flows to viewers, the second from
// them.
const (
	MsgAsset       = "asset"
	MsgLoad        = "load"
	MsgUnload      = "unload"
	MsgAnnotations = "annotations"
	MsgVisibility  = "visibility"
	MsgClearStale  = "clear_stale"
	MsgShow        = "show"

	MsgModelLoading = "model_loading"
	MsgModelReady   = "model_ready"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueue      = 64
)

// ErrDetached is returned when an unloaded extension instance is used.
var ErrDetached = errors.New("annotation extension is no longer loaded")

// Message is one websocket frame exchanged with a viewer.
type Message struct {
	Type        string               `json:"type"`
	Asset       *telemetry.Asset     `json:"asset,omitempty"`
	Annotations []overlay.Annotation `json:"annotations,omitempty"`
	Visible     *bool                `json:"visible,omitempty"`
}

// Hub is the scene as seen by the engine: it fans annotation lifecycle
// changes out to every connected viewer and turns the viewers' model
// notifications into callbacks. A viewer that connects late is sent the
// current asset and extension state.
type Hub struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	viewers   map[*viewer]bool
	asset     *telemetry.Asset
	ext       *extension
	onLoading []func()
	onReady   []func()
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub with no viewers.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		viewers: make(map[*viewer]bool),
	}
}

// ShowAsset tells viewers to load the asset's model. Annotations of the
// previous model are dropped with it.
func (h *Hub) ShowAsset(a telemetry.Asset) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.asset = &a
	h.ext = nil
	h.broadcastLocked(Message{Type: MsgAsset, Asset: &a})
}

// LoadAnnotationExtension creates a new extension instance and tells viewers
// to render its annotations.
func (h *Hub) LoadAnnotationExtension(_ context.Context, cfg overlay.ExtensionConfig) (overlay.Extension, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := &extension{
		hub:         h,
		annotations: append([]overlay.Annotation(nil), cfg.Annotations...),
		visible:     true,
	}
	h.ext = e
	h.broadcastLocked(e.loadMessage())
	return e, nil
}

// UnloadAnnotationExtension drops the current instance.
func (h *Hub) UnloadAnnotationExtension(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ext == nil {
		return nil
	}
	h.ext = nil
	h.broadcastLocked(Message{Type: MsgUnload})
	return nil
}

// OnModelLoading registers f to run when a viewer starts loading a model.
func (h *Hub) OnModelLoading(f func()) {
	h.mu.Lock()
	h.onLoading = append(h.onLoading, f)
	h.mu.Unlock()
}

// OnModelReady registers f to run when a viewer has finished loading.
func (h *Hub) OnModelReady(f func()) {
	h.mu.Lock()
	h.onReady = append(h.onReady, f)
	h.mu.Unlock()
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		h.removeLocked(v)
	}
}

// ServeWS upgrades the request and serves one viewer until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade: %v", err)
		return
	}
	v := &viewer{conn: conn, send: make(chan []byte, sendQueue)}

	h.mu.Lock()
	h.viewers[v] = true
	if h.asset != nil {
		h.queueLocked(v, Message{Type: MsgAsset, Asset: h.asset})
	}
	if h.ext != nil {
		h.queueLocked(v, h.ext.loadMessage())
	}
	h.mu.Unlock()

	log.Printf("web: viewer connected: %s", conn.RemoteAddr())
	go v.writePump()
	h.readPump(v)
}

func (h *Hub) readPump(v *viewer) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(v)
		h.mu.Unlock()
		v.conn.Close()
		log.Printf("web: viewer disconnected: %s", v.conn.RemoteAddr())
	}()

	v.conn.SetReadLimit(maxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: viewer read: %v", err)
			}
			return
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("web: bad viewer message: %v", err)
			continue
		}
		switch m.Type {
		case MsgModelLoading:
			h.fire(func() []func() { return h.onLoading })
		case MsgModelReady:
			h.fire(func() []func() { return h.onReady })
		default:
			log.Printf("web: unknown viewer message %q", m.Type)
		}
	}
}

// fire runs callbacks without holding the lock; they call back into the
// scene.
func (h *Hub) fire(list func() []func()) {
	h.mu.Lock()
	fs := append([]func(){}, list()...)
	h.mu.Unlock()
	for _, f := range fs {
		f()
	}
}

func (v *viewer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()
	for {
		select {
		case data, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("web: viewer write: %v", err)
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) broadcastLocked(m Message) {
	for v := range h.viewers {
		h.queueLocked(v, m)
	}
}

// queueLocked sends m to one viewer, dropping the viewer if it cannot keep
// up.
func (h *Hub) queueLocked(v *viewer, m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("web: marshal %s message: %v", m.Type, err)
		return
	}
	select {
	case v.send <- data:
	default:
		log.Printf("web: viewer %s too slow, dropping", v.conn.RemoteAddr())
		h.removeLocked(v)
	}
}

func (h *Hub) removeLocked(v *viewer) {
	if !h.viewers[v] {
		return
	}
	delete(h.viewers, v)
	close(v.send)
}

// extension is one annotation extension instance. Its state lives under the
// hub's lock; once replaced or unloaded it no longer reaches viewers.
type extension struct {
	hub         *Hub
	annotations []overlay.Annotation
	visible     bool
}

func (e *extension) loadMessage() Message {
	visible := e.visible
	return Message{Type: MsgLoad, Annotations: e.annotations, Visible: &visible}
}

func (e *extension) SetAnnotations(icons []overlay.Annotation) error {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ext != e {
		return ErrDetached
	}
	e.annotations = append([]overlay.Annotation(nil), icons...)
	h.broadcastLocked(Message{Type: MsgAnnotations, Annotations: e.annotations})
	return nil
}

func (e *extension) Visible() bool {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	return e.visible
}

func (e *extension) SetVisible(visible bool) {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	e.visible = visible
	if h.ext == e {
		h.broadcastLocked(Message{Type: MsgVisibility, Visible: &visible})
	}
}

func (e *extension) ClearStale() { e.signal(MsgClearStale) }

func (e *extension) Show() { e.signal(MsgShow) }

func (e *extension) signal(typ string) {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ext == e {
		h.broadcastLocked(Message{Type: typ})
	}
}

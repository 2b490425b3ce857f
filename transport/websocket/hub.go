// Package websocket connects replicas over websockets: a Hub serves one
// document to any number of peers, and a Provider keeps a local document in
// sync with a remote hub. Frames are protocol-package messages, one per
// websocket binary message.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	crdtkit "github.com/c0deZ3R0/go-crdt-kit"
	"github.com/c0deZ3R0/go-crdt-kit/logging"
	"github.com/c0deZ3R0/go-crdt-kit/protocol"
)

// HubConfig holds configuration options for a Hub.
type HubConfig struct {
	// Logger receives diagnostics. Defaults to logging.Default().
	Logger *logging.Logger

	// ReadLimit caps the size of one incoming frame. Default: 1 MiB.
	ReadLimit int64

	// WriteTimeout bounds one outgoing write. Default: 10s.
	WriteTimeout time.Duration

	// PingInterval is the keepalive ping period. Default: 30s.
	PingInterval time.Duration

	// SendBuffer is the per-connection outgoing queue length. A peer that
	// cannot drain its queue is disconnected. Default: 64.
	SendBuffer int

	// CheckOrigin overrides the upgrader's origin check. Default: allow all,
	// matching a hub that fronts its own auth middleware.
	CheckOrigin func(*http.Request) bool
}

func (c *HubConfig) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 1 << 20
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 64
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// Hub serves one document and its awareness state over websockets. It is an
// http.Handler; mount it on the route peers dial.
type Hub struct {
	doc       *crdtkit.Document
	awareness *crdtkit.Awareness
	logger    *logging.Logger
	config    HubConfig
	upgrader  websocket.Upgrader

	peers  mapset.Set[*peer]
	docSub *crdtkit.Subscription
	awSub  *crdtkit.Subscription
	closed atomic.Bool
}

type peer struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	origin   string
	dropOnce sync.Once
}

// NewHub creates a hub for doc. Awareness may be nil, in which case
// awareness frames are dropped.
func NewHub(doc *crdtkit.Document, awareness *crdtkit.Awareness, config HubConfig) *Hub {
	config.setDefaults()
	h := &Hub{
		doc:       doc,
		awareness: awareness,
		logger:    config.Logger.WithComponent("ws_hub").WithDocument(doc.GUID()),
		config:    config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     config.CheckOrigin,
		},
		peers: mapset.NewSet[*peer](),
	}

	// Every commit fans out to all peers except the one whose merge
	// produced it; that peer already has the operations.
	h.docSub = doc.OnUpdateV1(func(ev crdtkit.UpdateEvent) {
		h.broadcast(protocol.WriteUpdate(ev.Update), ev.Origin)
	})
	if awareness != nil {
		h.awSub = awareness.OnUpdate(func(ev crdtkit.AwarenessEvent) {
			clients := make([]uint64, 0, len(ev.Added)+len(ev.Updated)+len(ev.Removed))
			clients = append(clients, ev.Added...)
			clients = append(clients, ev.Updated...)
			clients = append(clients, ev.Removed...)
			h.broadcast(protocol.WriteAwareness(awareness.EncodeUpdateV1(clients)), ev.Origin)
		})
	}
	return h
}

// ServeHTTP upgrades the request and runs the peer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.Any("error", err))
		return
	}
	p := &peer{
		conn:   conn,
		send:   make(chan []byte, h.config.SendBuffer),
		done:   make(chan struct{}),
		origin: "ws:" + uuid.NewString(),
	}
	h.peers.Add(p)
	h.logger.Info("peer connected", slog.String("origin", p.origin), slog.String("remote", conn.RemoteAddr().String()))

	go h.writePump(p)

	// Open the handshake from our side; the peer answers with the
	// operations we are missing and mirrors the exchange for its own.
	p.enqueue(protocol.WriteSyncStep1(h.doc))
	if h.awareness != nil {
		p.enqueue(protocol.WriteAwareness(h.awareness.EncodeUpdateV1(nil)))
	}

	h.readPump(p)
}

func (h *Hub) readPump(p *peer) {
	defer h.drop(p)
	p.conn.SetReadLimit(h.config.ReadLimit)
	deadline := h.config.PingInterval * 2
	p.conn.SetReadDeadline(time.Now().Add(deadline))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("peer read failed", slog.String("origin", p.origin), slog.Any("error", err))
			}
			return
		}
		replies, err := protocol.HandleMessage(h.doc, h.awareness, frame, p.origin)
		if err != nil {
			// Malformed frames leave the document untouched; the peer is
			// misbehaving or speaking another protocol version.
			h.logger.LogError(context.Background(), err, "dropping peer after bad frame",
				slog.String("origin", p.origin))
			return
		}
		for _, reply := range replies {
			p.enqueue(reply)
		}
	}
}

func (h *Hub) writePump(p *peer) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.config.WriteTimeout))
			return
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue offers a frame to the peer's outgoing queue. It reports false when
// the queue is full or the peer is already dropped. The send channel is never
// closed: a broadcast racing a drop may still hold the peer from its set
// snapshot, and a send on a closed channel would panic inside the commit
// fan-out.
func (p *peer) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) broadcast(frame []byte, skipOrigin string) {
	for p := range h.peers.Iter() {
		if p.origin == skipOrigin {
			continue
		}
		if !p.enqueue(frame) {
			h.logger.Warn("peer send queue full, dropping connection", slog.String("origin", p.origin))
			h.drop(p)
		}
	}
}

func (h *Hub) drop(p *peer) {
	p.dropOnce.Do(func() {
		h.peers.Remove(p)
		close(p.done)
		p.conn.Close()
		h.logger.Info("peer disconnected", slog.String("origin", p.origin))
	})
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	return h.peers.Cardinality()
}

// Close detaches the hub from the document and disconnects all peers.
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.docSub.Cancel()
	if h.awSub != nil {
		h.awSub.Cancel()
	}
	for p := range h.peers.Iter() {
		h.drop(p)
	}
	return nil
}

var _ http.Handler = (*Hub)(nil)

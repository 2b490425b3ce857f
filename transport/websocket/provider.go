package websocket

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	crdtkit "github.com/c0deZ3R0/go-crdt-kit"
	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
	"github.com/c0deZ3R0/go-crdt-kit/logging"
	"github.com/c0deZ3R0/go-crdt-kit/protocol"
)

// ProviderConfig holds configuration options for a Provider.
type ProviderConfig struct {
	// Logger receives diagnostics. Defaults to logging.Default().
	Logger *logging.Logger

	// HandshakeTimeout bounds the websocket dial. Default: 10s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds one outgoing write. Default: 10s.
	WriteTimeout time.Duration

	// SendBuffer is the outgoing queue length. Default: 64.
	SendBuffer int
}

func (c *ProviderConfig) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 64
	}
}

// Provider keeps a local document (and optionally its awareness state) in
// sync with a remote hub over one websocket connection. Local commits are
// pushed to the hub; hub frames are merged locally. Closing the provider
// detaches it without touching the document.
type Provider struct {
	doc       *crdtkit.Document
	awareness *crdtkit.Awareness
	logger    *logging.Logger
	config    ProviderConfig
	conn      *websocket.Conn
	origin    string

	send   chan []byte
	done   chan struct{}
	closed atomic.Bool

	docSub *crdtkit.Subscription
	awSub  *crdtkit.Subscription
}

// Dial connects to a hub, opens the sync handshake and starts pumping
// frames in both directions. Awareness may be nil.
func Dial(ctx context.Context, url string, doc *crdtkit.Document, awareness *crdtkit.Awareness, config ProviderConfig) (*Provider, error) {
	config.setDefaults()
	dialer := websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, kiterrors.NewNetworkError(kiterrors.OpTransport, err)
	}
	p := &Provider{
		doc:       doc,
		awareness: awareness,
		logger:    config.Logger.WithComponent("ws_provider").WithDocument(doc.GUID()),
		config:    config,
		conn:      conn,
		origin:    "ws:" + uuid.NewString(),
		send:      make(chan []byte, config.SendBuffer),
		done:      make(chan struct{}),
	}

	p.docSub = doc.OnUpdateV1(func(ev crdtkit.UpdateEvent) {
		if ev.Origin == p.origin {
			return
		}
		p.enqueue(protocol.WriteUpdate(ev.Update))
	})
	if awareness != nil {
		p.awSub = awareness.OnUpdate(func(ev crdtkit.AwarenessEvent) {
			if ev.Origin == p.origin {
				return
			}
			clients := make([]uint64, 0, len(ev.Added)+len(ev.Updated)+len(ev.Removed))
			clients = append(clients, ev.Added...)
			clients = append(clients, ev.Updated...)
			clients = append(clients, ev.Removed...)
			p.enqueue(protocol.WriteAwareness(awareness.EncodeUpdateV1(clients)))
		})
	}

	go p.writePump()
	go p.readPump()

	p.enqueue(protocol.WriteSyncStep1(doc))
	if awareness != nil {
		p.enqueue(protocol.WriteQueryAwareness())
		if awareness.LocalState() != nil {
			p.enqueue(protocol.WriteAwareness(
				awareness.EncodeUpdateV1([]uint64{awareness.ClientID()})))
		}
	}
	return p, nil
}

func (p *Provider) enqueue(frame []byte) {
	select {
	case p.send <- frame:
	case <-p.done:
	}
}

func (p *Provider) readPump() {
	defer p.Close()
	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			if !p.closed.Load() {
				p.logger.Warn("connection lost", slog.Any("error", err))
			}
			return
		}
		replies, err := protocol.HandleMessage(p.doc, p.awareness, frame, p.origin)
		if err != nil {
			p.logger.LogError(context.Background(), err, "dropping bad frame")
			continue
		}
		for _, reply := range replies {
			p.enqueue(reply)
		}
	}
}

func (p *Provider) writePump() {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				if !p.closed.Load() {
					p.logger.Warn("write failed", slog.Any("error", err))
				}
				return
			}
		}
	}
}

// Origin returns the origin tag the provider stamps on merges it performs.
// Updates carrying this origin in their events came from the remote hub.
func (p *Provider) Origin() string {
	return p.origin
}

// Close detaches the provider from the document and closes the connection.
func (p *Provider) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.docSub.Cancel()
	if p.awSub != nil {
		p.awSub.Cancel()
	}
	close(p.done)
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err := p.conn.Close(); err != nil {
		return kiterrors.NewNetworkError(kiterrors.OpClose, err)
	}
	return nil
}

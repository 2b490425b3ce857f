package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	stdSync "sync"
	"time"

	"github.com/lib/pq"

	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
	"github.com/c0deZ3R0/go-crdt-kit/logging"
)

// Notification announces one appended update row.
type Notification struct {
	DocGUID string
	Seq     int64
}

// notificationText is the wire form of a Notification on the NOTIFY channel.
func notificationText(docGUID string, seq int64) string {
	return fmt.Sprintf("%s:%d", docGUID, seq)
}

func parseNotification(payload string) (Notification, error) {
	i := strings.LastIndexByte(payload, ':')
	if i < 0 {
		return Notification{}, fmt.Errorf("malformed notification payload %q", payload)
	}
	seq, err := strconv.ParseInt(payload[i+1:], 10, 64)
	if err != nil {
		return Notification{}, fmt.Errorf("malformed notification seq in %q: %w", payload, err)
	}
	return Notification{DocGUID: payload[:i], Seq: seq}, nil
}

// NotificationHandler receives append notifications for a subscribed
// document. Handlers run on the listener goroutine and should return
// quickly; typical handlers fetch the new rows with LoadSince and apply
// them to a local document.
type NotificationHandler func(n Notification)

// UpdateListener follows the store's NOTIFY channel and dispatches append
// notifications to per-document handlers. Reconnects are handled by the
// underlying pq listener.
type UpdateListener struct {
	listener *pq.Listener
	logger   *logging.Logger

	mu       stdSync.RWMutex
	handlers map[string][]NotificationHandler
	closed   bool

	done chan struct{}
}

// NewUpdateListener connects to the database and starts listening on
// NotifyChannel. Call Close to release the connection.
func NewUpdateListener(connectionString string, logger *logging.Logger) (*UpdateListener, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("postgres_listener")

	l := &UpdateListener{
		logger:   logger,
		handlers: make(map[string][]NotificationHandler),
		done:     make(chan struct{}),
	}
	l.listener = pq.NewListener(connectionString, 10*time.Second, time.Minute,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("listener connection event",
					slog.Int("event", int(event)),
					slog.Any("error", err),
				)
			}
		})
	if err := l.listener.Listen(NotifyChannel); err != nil {
		l.listener.Close()
		return nil, kiterrors.NewStorageError(kiterrors.OpLoad, fmt.Errorf("listen: %w", err))
	}
	go l.run()
	return l, nil
}

// Subscribe registers a handler for one document's append notifications.
func (l *UpdateListener) Subscribe(docGUID string, handler NotificationHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[docGUID] = append(l.handlers[docGUID], handler)
}

// Unsubscribe drops all handlers for a document.
func (l *UpdateListener) Unsubscribe(docGUID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, docGUID)
}

func (l *UpdateListener) run() {
	for {
		select {
		case <-l.done:
			return
		case pn, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			if pn == nil {
				// Reconnect marker; followers may have missed rows and
				// should resync from their last seq.
				l.logger.Info("listener reconnected")
				continue
			}
			n, err := parseNotification(pn.Extra)
			if err != nil {
				l.logger.Warn("dropping notification", slog.Any("error", err))
				continue
			}
			l.dispatch(n)
		case <-time.After(90 * time.Second):
			if err := l.listener.Ping(); err != nil {
				l.logger.Warn("listener ping failed", slog.Any("error", err))
			}
		}
	}
}

func (l *UpdateListener) dispatch(n Notification) {
	l.mu.RLock()
	handlers := append([]NotificationHandler(nil), l.handlers[n.DocGUID]...)
	l.mu.RUnlock()
	for _, h := range handlers {
		h(n)
	}
}

// WaitReady blocks until the listener connection is usable or ctx expires.
func (l *UpdateListener) WaitReady(ctx context.Context) error {
	for {
		if err := l.listener.Ping(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return kiterrors.NewStorageError(kiterrors.OpLoad, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Close stops the dispatch loop and closes the connection.
func (l *UpdateListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	close(l.done)
	if err := l.listener.Close(); err != nil {
		return kiterrors.NewStorageError(kiterrors.OpClose, err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/logger"
)

const notifyChannel = "eventry_stream_append"

// NotifyingStrategy decorates a Strategy so every successful AppendTo also
// issues a pg_notify on notifyChannel, letting Listener-driven projectors
// wake immediately instead of waiting out their poll interval. It never
// changes AppendTo's return value: a failed notify is logged and swallowed,
// since notifications are advisory wakeup hints only.
type NotifyingStrategy struct {
	*Strategy
	log logger.Logger
}

var _ eventstore.Notifier = (*NotifyingStrategy)(nil)

// Notifying wraps strategy with pg_notify-on-append.
func Notifying(strategy *Strategy, log logger.Logger) *NotifyingStrategy {
	return &NotifyingStrategy{Strategy: strategy, log: logger.OrNop(log)}
}

// AppendTo delegates to the wrapped Strategy, then best-effort notifies.
// A notify failure is logged, never returned: the poll-driven fallback
// still catches the new events on its next pass.
func (n *NotifyingStrategy) AppendTo(ctx context.Context, name string, events []event.Event) error {
	if err := n.Strategy.AppendTo(ctx, name, events); err != nil {
		return err
	}
	if err := n.Notify(ctx, name); err != nil {
		n.log.WithError(err).WithField("stream", name).Warn("postgres notify failed")
	}
	return nil
}

// Notify publishes a pg_notify on notifyChannel carrying streamName as payload.
func (n *NotifyingStrategy) Notify(ctx context.Context, streamName string) error {
	_, err := n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, streamName)
	return errors.Wrap(err, "postgres: notify")
}

// Listener wraps lib/pq's pq.Listener to implement eventstore.Listener,
// the wakeup source consumed by Projector.RunAndListen.
type Listener struct {
	pqListener *pq.Listener
	out        chan string
}

// NewListener opens a LISTEN connection against notifyChannel using dsn.
// minReconnect/maxReconnect tune pq.Listener's reconnect backoff.
func NewListener(dsn string, minReconnect, maxReconnect time.Duration, log logger.Logger) (*Listener, error) {
	log = logger.OrNop(log)
	pqListener := pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.WithError(err).WithField("event", fmt.Sprint(ev)).Warn("postgres listener event")
		}
	})
	if err := pqListener.Listen(notifyChannel); err != nil {
		pqListener.Close()
		return nil, errors.Wrap(err, "postgres: listen")
	}
	return &Listener{pqListener: pqListener, out: make(chan string, 1)}, nil
}

// Listen returns a channel that receives a stream name every time a
// notification arrives. The channel is closed when ctx is done or Close is called.
func (l *Listener) Listen(ctx context.Context) (<-chan string, error) {
	go func() {
		defer close(l.out)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-l.pqListener.Notify:
				if !ok {
					return
				}
				if n == nil {
					continue // reconnect ping, not a real notification
				}
				select {
				case l.out <- n.Extra:
				default:
					// Drop if the consumer hasn't caught up; it will still
					// catch the event on its next poll-driven pass.
				}
			}
		}
	}()
	return l.out, nil
}

// Close releases the underlying LISTEN connection.
func (l *Listener) Close() error {
	return l.pqListener.Close()
}

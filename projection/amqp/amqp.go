// Package amqp implements a cross-process Notifier/Listener pair over a
// fanout exchange, letting projectors in one process wake up immediately
// after an append committed in another.
package amqp

import (
	"context"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/logger"
)

const exchangeName = "eventry.stream.append"

// Notifier publishes a wakeup message to exchangeName each time Notify is
// called. It is not hooked into any PersistenceStrategy: nothing in this
// module calls Notify after an append.
type Notifier struct {
	ch  *amqp.Channel
	log logger.Logger
}

var _ eventstore.Notifier = (*Notifier)(nil)

// NewNotifier opens a channel on conn and declares the fanout exchange.
func NewNotifier(conn *amqp.Connection, log logger.Logger) (*Notifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "amqp: open channel")
	}
	if err := ch.ExchangeDeclare(exchangeName, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "amqp: declare exchange")
	}
	return &Notifier{ch: ch, log: logger.OrNop(log)}, nil
}

// Notify publishes streamName to every bound Listener queue.
func (n *Notifier) Notify(ctx context.Context, streamName string) error {
	return n.ch.Publish(exchangeName, "", false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        []byte(streamName),
	})
}

// Close releases the underlying channel.
func (n *Notifier) Close() error {
	return n.ch.Close()
}

// Listener consumes wakeup messages off an exclusive, auto-deleted queue
// bound to exchangeName, implementing eventstore.Listener for
// Projector.RunAndListen.
type Listener struct {
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	out        chan string
	log        logger.Logger
}

var _ eventstore.Listener = (*Listener)(nil)

// NewListener opens a channel on conn, declares an anonymous queue bound to
// exchangeName, and starts consuming it.
func NewListener(conn *amqp.Connection, log logger.Logger) (*Listener, error) {
	log = logger.OrNop(log)

	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "amqp: open channel")
	}
	if err := ch.ExchangeDeclare(exchangeName, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "amqp: declare exchange")
	}

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "amqp: declare queue")
	}
	if err := ch.QueueBind(queue.Name, "", exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "amqp: bind queue")
	}

	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "amqp: consume")
	}

	return &Listener{ch: ch, deliveries: deliveries, out: make(chan string, 1), log: log}, nil
}

// Listen returns a channel receiving a stream name per wakeup message. The
// channel closes when ctx is done or the underlying connection drops.
func (l *Listener) Listen(ctx context.Context) (<-chan string, error) {
	go func() {
		defer close(l.out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-l.deliveries:
				if !ok {
					return
				}
				select {
				case l.out <- string(d.Body):
				default:
					// Consumer hasn't caught up; the poll-driven fallback
					// still catches this stream on its next pass.
				}
			}
		}
	}()
	return l.out, nil
}

// Close releases the underlying channel.
func (l *Listener) Close() error {
	return l.ch.Close()
}

// Package broker moves pipeline messages between stages. Two drivers are
// provided: RabbitMQ over AMQP 0-9-1 and a durable SQLite-backed queue for
// single-host deployments.
package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yangwenmai/reqscribe/internal/message"
)

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverAMQP   = "amqp"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

// Publisher sends raw message bodies to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Broker is a durable at-least-once queue with per-message acknowledgement.
type Broker interface {
	Publisher
	// Consume delivers messages from queue one at a time. The next message
	// is not delivered until the previous one is acked or rejected. The
	// channel closes when ctx is done or the underlying connection drops.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
	Close() error
}

// Delivery is one received message.
type Delivery struct {
	ID          string
	Queue       string
	Body        []byte
	Redelivered bool

	settle func(ack, requeue bool) error
	once   *sync.Once
}

// Ack removes the message from its queue.
func (d Delivery) Ack() error {
	return d.finish(true, false)
}

// Reject settles the message without success. With requeue it becomes
// eligible for redelivery; otherwise it is dropped.
func (d Delivery) Reject(requeue bool) error {
	return d.finish(false, requeue)
}

func (d Delivery) finish(ack, requeue bool) error {
	if d.settle == nil {
		return nil
	}
	err := errors.New("delivery already settled")
	d.once.Do(func() { err = d.settle(ack, requeue) })
	return err
}

func newDelivery(id, queue string, body []byte, redelivered bool, settle func(ack, requeue bool) error) Delivery {
	return Delivery{
		ID:          id,
		Queue:       queue,
		Body:        body,
		Redelivered: redelivered,
		settle:      settle,
		once:        &sync.Once{},
	}
}

// Publish encodes m and sends it to the queue bound to its kind.
func Publish(ctx context.Context, p Publisher, m message.Message) error {
	body, err := message.Encode(m)
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, m.Queue(), body); err != nil {
		return fmt.Errorf("publish %s: %w", m.Queue(), err)
	}
	return nil
}

// Options selects and configures a driver.
type Options struct {
	Driver       string
	URL          string        // amqp
	Prefetch     int           // amqp
	PollInterval time.Duration // sqlite
	Lease        time.Duration // sqlite
}

// Open returns a connected broker for opts. db is used by the sqlite driver.
func Open(ctx context.Context, opts Options, db *sql.DB) (Broker, error) {
	switch opts.Driver {
	case DriverAMQP:
		c := NewAMQPClient(opts.URL, opts.Prefetch)
		if err := c.Open(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case DriverSQLite, "":
		if db == nil {
			return nil, errors.New("sqlite broker requires a database")
		}
		return NewSQLiteQueue(db, opts.PollInterval, opts.Lease)
	default:
		return nil, fmt.Errorf("unknown broker driver %q", opts.Driver)
	}
}

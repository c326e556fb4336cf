package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var _ Broker = (*AMQPClient)(nil)

// AMQPClient is a RabbitMQ broker. The connection is opened explicitly and
// re-dialed lazily when it has been closed by the server or network.
type AMQPClient struct {
	url      string
	prefetch int

	mu     sync.Mutex
	conn   *amqp.Connection
	pub    *amqp.Channel
	closed bool
}

// NewAMQPClient creates an unconnected client. Call Open before use.
func NewAMQPClient(url string, prefetch int) *AMQPClient {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &AMQPClient{url: url, prefetch: prefetch}
}

// Open dials the broker.
func (c *AMQPClient) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.ensureConnected()
	return err
}

// ensureConnected returns a live connection, dialing if needed.
// Caller must hold c.mu.
func (c *AMQPClient) ensureConnected() (*amqp.Connection, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	c.conn = conn
	c.pub = nil

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err := <-notify; err != nil {
			slog.Warn("amqp connection closed", "error", err)
		}
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.pub = nil
		}
		c.mu.Unlock()
	}()
	slog.Info("amqp connected")
	return conn, nil
}

// Publish declares queue and sends body as a persistent message.
func (c *AMQPClient) Publish(ctx context.Context, queue string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.publishChannel()
	if err != nil {
		return err
	}
	if _, err := declare(ch, queue); err != nil {
		c.pub = nil
		return err
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		c.pub = nil
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func (c *AMQPClient) publishChannel() (*amqp.Channel, error) {
	if c.pub != nil && !c.pub.IsClosed() {
		return c.pub, nil
	}
	conn, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c.pub = ch
	return ch, nil
}

// Consume subscribes to queue with manual acknowledgement and the
// configured prefetch.
func (c *AMQPClient) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	c.mu.Lock()
	conn, err := c.ensureConnected()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	if _, err := declare(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	tag := "reqscribe-" + uuid.NewString()
	msgs, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				settled := make(chan struct{})
				del := newDelivery(d.MessageId, queue, d.Body, d.Redelivered, func(ack, requeue bool) error {
					defer close(settled)
					if ack {
						return d.Ack(false)
					}
					return d.Reject(requeue)
				})
				select {
				case out <- del:
				case <-ctx.Done():
					d.Reject(true)
					return
				}
				select {
				case <-settled:
				case <-ctx.Done():
					<-settled
					return
				}
			}
		}
	}()
	return out, nil
}

// Close shuts the connection. Further calls fail with ErrClosed.
func (c *AMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.pub = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func declare(ch *amqp.Channel, queue string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return q, fmt.Errorf("declare %s: %w", queue, err)
	}
	return q, nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/yangwenmai/reqscribe/internal/broker"
	"github.com/yangwenmai/reqscribe/internal/message"
	"github.com/yangwenmai/reqscribe/internal/model"
)

// Handler processes one decoded message from its queue.
type Handler interface {
	Name() string
	Queue() string
	Handle(ctx context.Context, m message.Message) error
}

// Consumer is the subscribe half of a broker.
type Consumer interface {
	Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error)
}

// Worker consumes a queue and runs a handler for each delivery, one at a
// time.
type Worker struct {
	consumer Consumer
	handler  Handler
	interval time.Duration
}

// New creates a new Worker. interval is the back-off after a subscribe
// failure or a requeued message.
func New(consumer Consumer, handler Handler, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{consumer: consumer, handler: handler, interval: interval}
}

// Start begins the consume loop. It blocks until ctx is cancelled. A
// message already being handled runs to completion after cancellation.
func (w *Worker) Start(ctx context.Context) {
	log := slog.With("stage", w.handler.Name(), "queue", w.handler.Queue())
	log.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		default:
		}

		deliveries, err := w.consumer.Consume(ctx, w.handler.Queue())
		if err != nil {
			log.Error("worker subscribe error", "error", err)
			w.sleep(ctx)
			continue
		}
		for d := range deliveries {
			if requeued := w.process(ctx, d); requeued {
				w.sleep(ctx)
			}
		}
		if ctx.Err() == nil {
			log.Warn("delivery channel closed, resubscribing")
			w.sleep(ctx)
		}
	}
}

// process handles one delivery and settles it. It reports whether the
// delivery was requeued.
func (w *Worker) process(ctx context.Context, d broker.Delivery) bool {
	log := slog.With("stage", w.handler.Name(), "delivery", d.ID)

	m, err := message.Decode(d.Queue, d.Body)
	if err != nil {
		log.Warn("dropping malformed message", "error", err)
		if rerr := d.Reject(false); rerr != nil {
			log.Error("reject failed", "error", rerr)
		}
		return false
	}

	log = log.With("audio_hash", model.ShortHash(m.Hash()))
	if d.Redelivered {
		log.Info("redelivered message")
	}

	if err := w.run(context.WithoutCancel(ctx), m); err != nil {
		log.Error("handler failed, requeueing", "error", err)
		if rerr := d.Reject(true); rerr != nil {
			log.Error("requeue failed", "error", rerr)
		}
		return true
	}
	if err := d.Ack(); err != nil {
		log.Error("ack failed", "error", err)
	}
	return false
}

// run calls the handler, converting a panic into an error.
func (w *Worker) run(ctx context.Context, m message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", errPanic, r, debug.Stack())
		}
	}()
	return w.handler.Handle(ctx, m)
}

var errPanic = errors.New("handler panic")

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.interval):
	}
}

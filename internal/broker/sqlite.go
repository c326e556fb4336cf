package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Broker = (*SQLiteQueue)(nil)

const (
	defaultPollInterval = time.Second
	defaultLease        = 30 * time.Minute
)

// SQLiteQueue is a durable queue stored in a SQLite table. A claimed
// message is leased; if it is neither acked nor rejected before the lease
// expires it becomes visible again and is redelivered.
type SQLiteQueue struct {
	db    *sql.DB
	poll  time.Duration
	lease time.Duration
	now   func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewSQLiteQueue creates the queue table if needed.
func NewSQLiteQueue(db *sql.DB, poll, lease time.Duration) (*SQLiteQueue, error) {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if lease <= 0 {
		lease = defaultLease
	}
	q := &SQLiteQueue{db: db, poll: poll, lease: lease, now: time.Now}
	if err := q.migrate(); err != nil {
		return nil, fmt.Errorf("migrate queue: %w", err)
	}
	return q, nil
}

func (q *SQLiteQueue) migrate() error {
	_, err := q.db.Exec(`
	CREATE TABLE IF NOT EXISTS queue_messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		queue      TEXT NOT NULL,
		body       BLOB NOT NULL,
		state      TEXT NOT NULL DEFAULT 'ready',
		attempts   INTEGER NOT NULL DEFAULT 0,
		visible_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queue_messages_claim ON queue_messages(queue, visible_at, seq);
	`)
	return err
}

// Publish appends body to queue.
func (q *SQLiteQueue) Publish(ctx context.Context, queue string, body []byte) error {
	if q.isClosed() {
		return ErrClosed
	}
	now := q.now().UnixNano()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_messages (id, queue, body, state, attempts, visible_at, created_at)
		VALUES (?, ?, ?, 'ready', 0, ?, ?)`,
		uuid.NewString(), queue, body, now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return nil
}

// Consume polls queue for visible messages.
func (q *SQLiteQueue) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	if q.isClosed() {
		return nil, ErrClosed
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			if q.isClosed() {
				return
			}
			d, ok, err := q.claim(ctx, queue)
			if err != nil && ctx.Err() == nil {
				slog.Warn("queue claim failed", "queue", queue, "error", err)
			}
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(q.poll):
					continue
				}
			}

			settled := make(chan struct{})
			settle := d.settle
			d.settle = func(ack, requeue bool) error {
				defer close(settled)
				return settle(ack, requeue)
			}
			select {
			case out <- d:
			case <-ctx.Done():
				q.release(d.ID)
				return
			}
			select {
			case <-settled:
			case <-ctx.Done():
				<-settled
				return
			}
		}
	}()
	return out, nil
}

// claim leases the oldest visible message on queue.
func (q *SQLiteQueue) claim(ctx context.Context, queue string) (Delivery, bool, error) {
	now := q.now()
	row := q.db.QueryRowContext(ctx, `
		UPDATE queue_messages
		SET state = 'inflight', attempts = attempts + 1, visible_at = ?
		WHERE seq = (
			SELECT seq FROM queue_messages
			WHERE queue = ? AND visible_at <= ?
			ORDER BY seq LIMIT 1
		)
		RETURNING id, body, attempts`,
		now.Add(q.lease).UnixNano(), queue, now.UnixNano(),
	)
	var (
		id       string
		body     []byte
		attempts int
	)
	if err := row.Scan(&id, &body, &attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Delivery{}, false, nil
		}
		return Delivery{}, false, err
	}
	d := newDelivery(id, queue, body, attempts > 1, func(ack, requeue bool) error {
		if ack || !requeue {
			return q.remove(id)
		}
		return q.release(id)
	})
	return d, true, nil
}

func (q *SQLiteQueue) remove(id string) error {
	_, err := q.db.Exec(`DELETE FROM queue_messages WHERE id = ?`, id)
	return err
}

// release makes a leased message visible again immediately.
func (q *SQLiteQueue) release(id string) error {
	_, err := q.db.Exec(`UPDATE queue_messages SET state = 'ready', visible_at = ? WHERE id = ?`, q.now().UnixNano(), id)
	return err
}

// Depth returns the number of messages on queue, leased or not.
func (q *SQLiteQueue) Depth(ctx context.Context, queue string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_messages WHERE queue = ?`, queue).Scan(&n)
	return n, err
}

// Close stops new publishes and consumers. The database handle is owned
// by the caller and left open.
func (q *SQLiteQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

func (q *SQLiteQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

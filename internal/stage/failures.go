package stage

import (
	"context"
	"fmt"

	"github.com/yangwenmai/reqscribe/internal/message"
	"github.com/yangwenmai/reqscribe/internal/model"
)

// Failures drains the failed queue into the log. The ledger was already
// updated by the stage that failed.
type Failures struct {
	base
}

// NewFailures creates the failure sink.
func NewFailures(d Deps) *Failures {
	return &Failures{base: newBase(NameFailures, message.QueueFailed, d)}
}

// Handle logs one Failed message.
func (f *Failures) Handle(_ context.Context, m message.Message) error {
	msg, ok := m.(message.Failed)
	if !ok {
		return fmt.Errorf("failed sink: unexpected message %T", m)
	}
	f.log.Warn("job failed", "audio_hash", model.ShortHash(msg.AudioHash), "reason", msg.Reason, "error", msg.Error)
	return nil
}

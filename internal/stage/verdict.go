package stage

import (
	"fmt"
	"time"

	"github.com/yangwenmai/reqscribe/internal/engine"
)

// Mode is the gatekeeper's sampling policy.
type Mode string

const (
	// ModeFast accepts on the first SOFTWARE vote.
	ModeFast Mode = "fast"
	// ModeVoting runs every attempt and accepts on a strict SOFTWARE majority.
	ModeVoting Mode = "voting"
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFast, ModeVoting:
		return Mode(s), nil
	case "":
		return ModeFast, nil
	}
	return "", fmt.Errorf("unknown gatekeeper mode %q", s)
}

// Attempt is one sampled classification. Topic is empty when the sample
// produced no vote (transcription failed or was empty).
type Attempt struct {
	Start time.Duration
	Topic engine.Topic
	Err   error
}

// Voted reports whether the attempt cast a vote.
func (a Attempt) Voted() bool { return a.Topic != "" }

// Decide folds the attempts into a verdict. Fast mode accepts if any vote
// is SOFTWARE. Voting mode accepts only if SOFTWARE votes outnumber OTHER
// votes; ties and an empty ballot are OTHER.
func Decide(mode Mode, attempts []Attempt) engine.Topic {
	var software, other int
	for _, a := range attempts {
		switch a.Topic {
		case engine.TopicSoftware:
			software++
		case engine.TopicOther:
			other++
		}
	}
	if mode == ModeFast {
		if software > 0 {
			return engine.TopicSoftware
		}
		return engine.TopicOther
	}
	if software > other {
		return engine.TopicSoftware
	}
	return engine.TopicOther
}

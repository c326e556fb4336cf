package model

import (
	"fmt"
	"time"
)

// Status is the pipeline state of one audio artifact.
type Status string

// Processing status constants
const (
	StatusPendingValidation    Status = "PENDING_VALIDATION"
	StatusValidating           Status = "VALIDATING"
	StatusPendingTranscription Status = "PENDING_TRANSCRIPTION"
	StatusTranscribing         Status = "TRANSCRIBING"
	StatusPendingAnalysis      Status = "PENDING_ANALYSIS"
	StatusAnalyzing            Status = "ANALYZING"
	StatusComplete             Status = "COMPLETE"
	StatusFailed               Status = "FAILED"
)

// Rejection and failure reason constants recorded in ProcessingStatus.Details.
const (
	ReasonNoSpeech       = "NO_SPEECH"
	ReasonAudioTooShort  = "AUDIO_TOO_SHORT"
	ReasonInvalidContext = "INVALID_CONTEXT"
	ReasonLLMNoResponse  = "LLM_NO_RESPONSE"
)

// AllStatuses lists every status in pipeline order.
var AllStatuses = []Status{
	StatusPendingValidation,
	StatusValidating,
	StatusPendingTranscription,
	StatusTranscribing,
	StatusPendingAnalysis,
	StatusAnalyzing,
	StatusComplete,
	StatusFailed,
}

// ProcessingStatus is the single current-state row for an audio hash.
type ProcessingStatus struct {
	AudioHash string  `json:"audio_hash"`
	Status    Status  `json:"status"`
	Details   *string `json:"details"`
	UpdatedAt string  `json:"updated_at"`
}

// StatusFilter holds query parameters for listing ledger rows.
type StatusFilter struct {
	Status []Status
	Limit  int
}

// NewProcessingStatus creates a ledger row stamped with the current time.
func NewProcessingStatus(hash string, status Status, details *string) ProcessingStatus {
	return ProcessingStatus{
		AudioHash: hash,
		Status:    status,
		Details:   details,
		UpdatedAt: Now(),
	}
}

// TimeLayout is RFC 3339 with fixed-width nanoseconds so stored timestamps
// sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Now returns the timestamp format used by every persisted row.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is expected from s.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// ValidateTransition checks from -> to against the pipeline state machine.
// Any non-terminal state may fail. A FAILED job may restart at
// PENDING_VALIDATION when the same audio is uploaded again.
func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("unknown status %q", to)
	}
	if to == StatusFailed && !from.IsTerminal() {
		return nil
	}
	allowed := map[Status]Status{
		StatusPendingValidation:    StatusValidating,
		StatusValidating:           StatusPendingTranscription,
		StatusPendingTranscription: StatusTranscribing,
		StatusTranscribing:         StatusPendingAnalysis,
		StatusPendingAnalysis:      StatusAnalyzing,
		StatusAnalyzing:            StatusComplete,
		StatusFailed:               StatusPendingValidation,
	}
	if next, ok := allowed[from]; ok && next == to {
		return nil
	}
	return fmt.Errorf("invalid transition %s -> %s", from, to)
}

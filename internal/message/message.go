// Package message defines the pipeline messages and their wire format.
// Each queue carries exactly one message kind; decoding is driven by the
// queue a delivery arrived on.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yangwenmai/reqscribe/internal/model"
)

// Queue names.
const (
	QueueNewAudio   = "q.audio.new"
	QueueTranscribe = "q.audio.transcribe"
	QueueAnalyze    = "q.transcript.analyze"
	QueueFailed     = "q.audio.failed"
)

// Queues lists every queue the pipeline declares.
var Queues = []string{QueueNewAudio, QueueTranscribe, QueueAnalyze, QueueFailed}

// Message is any pipeline message.
type Message interface {
	Queue() string
	Hash() string
	Validate() error
}

// NewAudio announces a freshly uploaded artifact to the gatekeeper.
type NewAudio struct {
	AudioHash string `json:"audio_hash"`
	FilePath  string `json:"file_path"`
}

// Transcribe asks for a full transcription of an accepted artifact.
type Transcribe struct {
	AudioHash string `json:"audio_hash"`
	FilePath  string `json:"file_path"`
}

// Analyze carries the cleaned transcript to the analyst.
type Analyze struct {
	AudioHash string `json:"audio_hash"`
	FullText  string `json:"full_text"`
}

// Failed records a terminal failure. Reason is set for rejections, Error
// for unexpected failures.
type Failed struct {
	AudioHash string `json:"audio_hash"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (NewAudio) Queue() string   { return QueueNewAudio }
func (Transcribe) Queue() string { return QueueTranscribe }
func (Analyze) Queue() string    { return QueueAnalyze }
func (Failed) Queue() string     { return QueueFailed }

func (m NewAudio) Hash() string   { return m.AudioHash }
func (m Transcribe) Hash() string { return m.AudioHash }
func (m Analyze) Hash() string    { return m.AudioHash }
func (m Failed) Hash() string     { return m.AudioHash }

func (m NewAudio) Validate() error {
	return validatePath(m.AudioHash, m.FilePath)
}

func (m Transcribe) Validate() error {
	return validatePath(m.AudioHash, m.FilePath)
}

func (m Analyze) Validate() error {
	if err := validateHash(m.AudioHash); err != nil {
		return err
	}
	if strings.TrimSpace(m.FullText) == "" {
		return errors.New("full_text is required")
	}
	return nil
}

func (m Failed) Validate() error {
	if err := validateHash(m.AudioHash); err != nil {
		return err
	}
	if m.Reason == "" && m.Error == "" {
		return errors.New("reason or error is required")
	}
	return nil
}

// DecodeError reports a delivery that can never be processed. Such
// deliveries are dropped rather than requeued.
type DecodeError struct {
	Queue string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Queue, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes m for publishing.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Queue(), err)
	}
	return json.Marshal(m)
}

// Decode parses body as the message kind bound to queue.
func Decode(queue string, body []byte) (Message, error) {
	var (
		m   Message
		err error
	)
	switch queue {
	case QueueNewAudio:
		m, err = decodeAs[NewAudio](body)
	case QueueTranscribe:
		m, err = decodeAs[Transcribe](body)
	case QueueAnalyze:
		m, err = decodeAs[Analyze](body)
	case QueueFailed:
		m, err = decodeAs[Failed](body)
	default:
		err = errors.New("unknown queue")
	}
	if err != nil {
		return nil, &DecodeError{Queue: queue, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &DecodeError{Queue: queue, Err: err}
	}
	return m, nil
}

func decodeAs[T Message](body []byte) (Message, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func validatePath(hash, path string) error {
	if err := validateHash(hash); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return errors.New("file_path is required")
	}
	return nil
}

func validateHash(hash string) error {
	if !model.ValidAudioHash(hash) {
		return fmt.Errorf("invalid audio_hash %q", hash)
	}
	return nil
}

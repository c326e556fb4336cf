package store

import (
	"context"

	"github.com/yangwenmai/reqscribe/internal/model"
)

// StatusReader provides read access to the status ledger.
type StatusReader interface {
	GetStatus(ctx context.Context, hash string) (*model.ProcessingStatus, error)
}

// StatusWriter records pipeline transitions.
type StatusWriter interface {
	UpsertStatus(ctx context.Context, hash string, status model.Status, details *string) error
}

// Ledger combines status reads and writes for the pipeline stages.
type Ledger interface {
	StatusReader
	StatusWriter
}

// DocumentStore provides access to final requirement documents.
type DocumentStore interface {
	GetDocument(ctx context.Context, hash string) (*model.RequirementDocument, error)
	SaveDocument(ctx context.Context, doc model.RequirementDocument) (bool, error)
}

// IntakeRepository is what the intake service needs from persistence.
type IntakeRepository interface {
	StatusReader
	StatusWriter
	DocumentStore
	EnsurePending(ctx context.Context, hash string) (bool, error)
}

// StatusCounts holds the number of ledger rows per status.
type StatusCounts map[model.Status]int

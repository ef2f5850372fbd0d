package storage

import (
	"context"
	"errors"
)

// ErrRunNotFound is returned by updates that match no run.
var ErrRunNotFound = errors.New("run not found")

// Storage defines the persistence interface for suite run history.
type Storage interface {
	// SaveSuite stores a finished run and its scenario results atomically.
	SaveSuite(ctx context.Context, run *SuiteRun) error
	// GetRun returns the run with its results, or nil if it does not exist.
	GetRun(ctx context.Context, id string) (*SuiteRun, error)

	// History queries
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)
	DeleteRun(ctx context.Context, id string) error
	UpdateRunMetadata(ctx context.Context, id string, update *RunMetadataUpdate) error

	Close() error
}

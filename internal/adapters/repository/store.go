// Package repository persists the benchmark's result set, one line per competitor.
package repository

import (
	"context"

	"github.com/okian/benchrec/internal/domain/model"
)

// Entry is one stored line. Record is nil when the line has no result yet.
type Entry struct {
	Rank       int
	Line       string
	Competitor model.Competitor
	Record     *model.PerformanceRecord
}

// Store provides read/write access to the result set.
type Store interface {
	// Load reads the persisted lines. A missing file is an empty set.
	Load(ctx context.Context) error

	// Get returns the entry of a competitor, or ErrNotFound.
	Get(ctx context.Context, competitorID string) (Entry, error)

	// All returns every entry in file order.
	All(ctx context.Context) []Entry

	// Upsert replaces the line of rec's competitor, or appends one.
	Upsert(ctx context.Context, rec model.PerformanceRecord) error

	// ReplaceAll discards every line and stores recs in order, one per competitor.
	ReplaceAll(ctx context.Context, recs []model.PerformanceRecord) error

	// Save writes the lines back atomically.
	Save(ctx context.Context) error

	// Standings returns entries with a result, best first for metric.
	Standings(ctx context.Context, metric model.MetricKind, n int) []Entry
}

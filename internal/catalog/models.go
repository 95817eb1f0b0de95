// Package catalog records batch runs and per-document outcomes in a
// relational store for reporting. The progress ledger, not the catalog,
// stays authoritative for resume decisions.
package catalog

import (
	"time"

	"github.com/docmill/docmill/internal/domain"
)

// Run summarizes one batch invocation.
type Run struct {
	ID          string     `json:"id" db:"id"`
	Root        string     `json:"root" db:"root"`
	OutputRoot  *string    `json:"output_root,omitempty" db:"output_root"`
	Backend     string     `json:"backend" db:"backend"`
	Resumed     bool       `json:"resumed" db:"resumed"`
	Interrupted bool       `json:"interrupted" db:"interrupted"`
	Discovered  int        `json:"discovered" db:"discovered"`
	Succeeded   int        `json:"succeeded" db:"succeeded"`
	Failed      int        `json:"failed" db:"failed"`
	Skipped     int        `json:"skipped" db:"skipped"`
	Cached      int        `json:"cached" db:"cached"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// DocumentRecord is the catalog row for one processed file.
type DocumentRecord struct {
	ID         int64             `json:"id" db:"id"`
	RunID      string            `json:"run_id" db:"run_id"`
	Path       string            `json:"path" db:"path"`
	OutputPath *string           `json:"output_path,omitempty" db:"output_path"`
	Status     domain.Status     `json:"status" db:"status"`
	Attempts   int               `json:"attempts" db:"attempts"`
	Error      *string           `json:"error,omitempty" db:"error"`
	SizeBytes  int64             `json:"size_bytes" db:"size_bytes"`
	SHA256     *string           `json:"sha256,omitempty" db:"sha256"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"metadata"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

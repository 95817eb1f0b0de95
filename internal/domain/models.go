package domain

import (
	"path/filepath"
	"time"
)

// Status tracks a document through the batch lifecycle
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is an end state
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Valid reports whether s is one of the known lifecycle states
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Document represents a discovered source file
type Document struct {
	Path         string // absolute path, the identity used by the progress ledger
	RelPath      string // path relative to the discovery root
	Size         int64
	Ext          string // lowercased extension including the leading dot
	DiscoveredAt time.Time
}

// Name returns the file's base name
func (d Document) Name() string {
	return filepath.Base(d.Path)
}

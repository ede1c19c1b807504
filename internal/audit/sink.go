// Package audit records signed, append-only entries for every transfer
// decision and ledger movement.
package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// Sink persists audit entries. Entries are never updated or deleted.
type Sink interface {
	Name() string
	Append(ctx context.Context, entry models.AuditEntry) error
}

// MemorySink keeps entries in memory (development and tests).
type MemorySink struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Append(_ context.Context, entry models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of the stored entries.
func (s *MemorySink) Entries() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Count returns the number of stored entries.
func (s *MemorySink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MultiSink fans entries out to every sink. One failing sink does not stop
// the others; all errors are joined.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink fans out to sinks in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string { return "multi" }

// Append writes entry to every sink and wraps each failure in a SinkError.
func (m *MultiSink) Append(ctx context.Context, entry models.AuditEntry) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, entry); err != nil {
			errs = append(errs, &SinkError{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Sinks returns the wrapped sinks.
func (m *MultiSink) Sinks() []Sink { return m.sinks }

// SinkError identifies which sink failed.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return e.Sink + ": " + e.Err.Error() }
func (e *SinkError) Unwrap() error { return e.Err }

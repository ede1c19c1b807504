package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/metrics"
	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("audit recorder closed")

const writeTimeout = 5 * time.Second

// Recorder stamps, signs and queues entries, and writes them to the sink on
// a background worker. Write failures are logged and counted; they never
// reach the caller.
type Recorder struct {
	sink   Sink
	signer *EntrySigner
	logger *slog.Logger
	now    func() time.Time

	queue chan models.AuditEntry
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts the background writer. A nil signer leaves entries
// unsigned.
func NewRecorder(sink Sink, signer *EntrySigner, logger *slog.Logger, queueSize int) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &Recorder{
		sink:   sink,
		signer: signer,
		logger: logger,
		now:    time.Now,
		queue:  make(chan models.AuditEntry, queueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record assigns an ID, timestamp and signature to entry and queues it.
// It returns the assigned ID even when the entry had to be dropped.
func (r *Recorder) Record(ctx context.Context, entry models.AuditEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if r.signer != nil {
		sig, err := r.signer.Sign(entry)
		if err != nil {
			r.logger.ErrorContext(ctx, "audit_write_failed", logging.AuditID(entry.ID), logging.Error(err))
			metrics.AuditEntries.WithLabelValues(r.sink.Name(), "sign_error").Inc()
			return entry.ID, nil
		}
		entry.Signature = sig
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return entry.ID, ErrClosed
	}

	select {
	case r.queue <- entry:
	default:
		metrics.AuditDropped.Inc()
		r.logger.ErrorContext(ctx, "audit_write_failed",
			logging.AuditID(entry.ID),
			slog.String("reason", "queue full"),
			slog.String("outcome", entry.Outcome))
	}
	return entry.ID, nil
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *Recorder) write(entry models.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.sink.Append(ctx, entry); err != nil {
		metrics.AuditEntries.WithLabelValues(r.sink.Name(), "error").Inc()
		r.logger.Error("audit_write_failed",
			logging.AuditID(entry.ID),
			slog.String("outcome", entry.Outcome),
			logging.Error(err))
		return
	}
	metrics.AuditEntries.WithLabelValues(r.sink.Name(), "ok").Inc()
}

// Close stops accepting entries and waits until the queue is drained.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

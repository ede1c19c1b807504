package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/messaging"
	"github.com/web8kameleon-hub/tokengate/internal/metrics"
)

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(subject string, payload any)
}

// Envelope wraps every published payload.
type Envelope struct {
	Subject string          `json:"subject"`
	Time    time.Time       `json:"time"`
	Data    json.RawMessage `json:"data"`
}

type pending struct {
	subject string
	data    []byte
}

// Queue buffers events in a bounded channel drained by one publisher
// goroutine. When the buffer is full the event is dropped and counted.
type Queue struct {
	pub    messaging.Publisher
	logger *slog.Logger
	ch     chan pending

	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewQueue starts the publishing worker. A non-positive size defaults to 256.
func NewQueue(pub messaging.Publisher, size int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 256
	}
	q := &Queue{pub: pub, logger: logger, ch: make(chan pending, size)}
	q.wg.Add(1)
	go q.run()
	return q
}

// Emit encodes payload and queues it. When the queue is full the event is
// dropped and counted.
func (q *Queue) Emit(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		q.logger.Warn("event encode failed", logging.Subject(subject), logging.Error(err))
		return
	}
	env, err := json.Marshal(Envelope{Subject: subject, Time: time.Now().UTC(), Data: data})
	if err != nil {
		q.logger.Warn("event encode failed", logging.Subject(subject), logging.Error(err))
		return
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- pending{subject: subject, data: env}:
	default:
		q.dropped.Add(1)
		metrics.EventsPublished.WithLabelValues(subject, "dropped").Inc()
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

func (q *Queue) run() {
	defer q.wg.Done()
	for ev := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := q.pub.Publish(ctx, ev.subject, ev.data)
		cancel()
		if err != nil {
			metrics.EventsPublished.WithLabelValues(ev.subject, "error").Inc()
			q.logger.Warn("event publish failed", logging.Subject(ev.subject), logging.Error(err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(ev.subject, "ok").Inc()
	}
}

// Close flushes buffered events and stops the publisher goroutine.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
		q.wg.Wait()
	})
}

// LogPublisher writes events to the logger when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.Logger.Debug("event", logging.Subject(subject), slog.Int("bytes", len(data)))
	return nil
}

func (p LogPublisher) Close() error { return nil }

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(string, any) {}

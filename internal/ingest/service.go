// Package ingest drains inbound telemetry through the node registry and the
// verification state machine, one packet at a time.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/web8kameleon-hub/tokengate/internal/events"
	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/messaging"
	"github.com/web8kameleon-hub/tokengate/internal/metrics"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/registry"
	"github.com/web8kameleon-hub/tokengate/internal/verification"
)

var (
	ErrQueueFull     = errors.New("telemetry queue full")
	ErrStopped       = errors.New("ingest service stopped")
	ErrInvalidPacket = errors.New("invalid telemetry packet")
	ErrMissingSource = fmt.Errorf("%w: source_id is required", ErrInvalidPacket)
	ErrSourceTooLong = fmt.Errorf("%w: source_id too long", ErrInvalidPacket)
)

const maxSourceIDLength = 128

// Packet sources used for metrics and logs.
const (
	SourceHTTP = "http"
	SourceNATS = "nats"
)

// Result of processing one packet.
const (
	ResultToken   = "token_event"
	ResultIgnored = "ignored"
	ResultInvalid = "invalid"
	ResultDropped = "dropped"
)

// Stats are the running intake counters.
type Stats struct {
	Received    int64     `json:"received"`
	Processed   int64     `json:"processed"`
	TokenEvents int64     `json:"token_events"`
	Invalid     int64     `json:"invalid"`
	Dropped     int64     `json:"dropped"`
	LastPacket  time.Time `json:"last_packet,omitempty"`
}

type envelope struct {
	packet models.Packet
	source string
}

// Service owns the telemetry queue. Submit never blocks; a single worker
// processes packets in arrival order.
type Service struct {
	registry *registry.Registry
	machine  *verification.Machine
	events   events.Emitter
	logger   *slog.Logger

	queue    chan envelope
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	statsMutex sync.RWMutex
	stats      Stats
}

// NewService creates a stopped service. A non-positive queueSize defaults
// to 1000.
func NewService(reg *registry.Registry, machine *verification.Machine, emitter events.Emitter, logger *slog.Logger, queueSize int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	s := &Service{
		registry: reg,
		machine:  machine,
		events:   emitter,
		logger:   logger,
		queue:    make(chan envelope, queueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	metrics.IngestQueueCapacity.Set(float64(queueSize))

	go s.processPackets()

	return s
}

// Validate checks the fields every packet needs.
func Validate(p models.Packet) error {
	id := strings.TrimSpace(p.SourceID)
	if id == "" {
		return ErrMissingSource
	}
	if len(id) > maxSourceIDLength {
		return ErrSourceTooLong
	}
	return nil
}

// Submit validates p and queues it for processing.
func (s *Service) Submit(p models.Packet, source string) error {
	if err := Validate(p); err != nil {
		s.count(source, ResultInvalid)
		return err
	}
	select {
	case <-s.stopChan:
		return ErrStopped
	default:
	}

	select {
	case s.queue <- envelope{packet: p, source: source}:
		s.statsMutex.Lock()
		s.stats.Received++
		s.statsMutex.Unlock()
		metrics.IngestQueueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		s.count(source, ResultDropped)
		return ErrQueueFull
	}
}

// Process runs one packet to completion: registry update, classification,
// registration with auto-verification. It returns the token event when the
// packet was a physical-presence event.
func (s *Service) Process(ctx context.Context, p models.Packet) (*models.TokenEvent, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	node := s.registry.RecordTelemetry(p)
	s.events.Emit(events.SubjectNodeUpdated, node)

	ev, err := s.machine.Register(p)
	if errors.Is(err, verification.ErrClassificationAmbiguous) {
		s.logger.DebugContext(ctx, "telemetry is not a presence event", logging.NodeID(p.SourceID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("register token event: %w", err)
	}
	return ev, nil
}

func (s *Service) processPackets() {
	defer close(s.done)
	for {
		select {
		case env := <-s.queue:
			s.handle(env)
		case <-s.stopChan:
			// Drain what was accepted before Stop.
			for {
				select {
				case env := <-s.queue:
					s.handle(env)
				default:
					s.logger.Info("telemetry processor stopped")
					return
				}
			}
		}
	}
}

func (s *Service) handle(env envelope) {
	metrics.IngestQueueDepth.Set(float64(len(s.queue)))

	ev, err := s.Process(context.Background(), env.packet)
	switch {
	case err != nil:
		s.count(env.source, ResultInvalid)
		s.logger.Warn("telemetry processing failed", logging.NodeID(env.packet.SourceID), logging.Error(err))
		return
	case ev != nil:
		s.count(env.source, ResultToken)
	default:
		s.count(env.source, ResultIgnored)
	}

	s.statsMutex.Lock()
	s.stats.Processed++
	if ev != nil {
		s.stats.TokenEvents++
	}
	s.stats.LastPacket = time.Now()
	s.statsMutex.Unlock()
}

func (s *Service) count(source, result string) {
	metrics.PacketsTotal.WithLabelValues(source, result).Inc()
	switch result {
	case ResultInvalid, ResultDropped:
		s.statsMutex.Lock()
		if result == ResultInvalid {
			s.stats.Invalid++
		} else {
			s.stats.Dropped++
		}
		s.statsMutex.Unlock()
	}
}

// Status answers the query interface. tokenID may be empty.
func (s *Service) Status(tokenID string) models.StatusReport {
	report := models.StatusReport{
		ActiveNodes: len(s.registry.ListActive()),
		Pending:     s.machine.PendingCount(),
		Verified:    s.machine.VerifiedCount(),
	}
	if last := s.registry.LastActivity(); !last.IsZero() {
		report.LastActivity = &last
	}
	if tokenID != "" {
		report.Token = s.machine.TokenState(tokenID)
	}
	return report
}

// GetStats returns a copy of the counters.
func (s *Service) GetStats() Stats {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats
}

// QueueDepth returns the number of packets waiting.
func (s *Service) QueueDepth() int { return len(s.queue) }

// Subscribe feeds telemetry published on the broker into the queue. Members
// of the same queue group share the stream.
func (s *Service) Subscribe(sub messaging.Subscriber, queueGroup string) (messaging.Subscription, error) {
	handler := func(ctx context.Context, msg *messaging.Message) error {
		var p models.Packet
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.count(SourceNATS, ResultInvalid)
			s.logger.WarnContext(ctx, "malformed telemetry message", logging.Subject(msg.Subject), logging.Error(err))
			return nil
		}
		if err := s.Submit(p, SourceNATS); err != nil {
			s.logger.WarnContext(ctx, "telemetry rejected", logging.NodeID(p.SourceID), logging.Error(err))
			return err
		}
		return nil
	}
	if queueGroup == "" {
		return sub.Subscribe(events.SubjectTelemetry, handler)
	}
	return sub.QueueSubscribe(events.SubjectTelemetry, queueGroup, handler)
}

// Stop processes packets already queued and stops the worker.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
	})
}

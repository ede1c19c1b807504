// Package registry tracks the radio nodes that report telemetry.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/metrics"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/store"
)

// Defaults applied when the configuration leaves a field unset.
const (
	DefaultRSSIFloor = -80
	DefaultExpiry    = 5 * time.Minute
)

// Config controls node trust and eviction.
type Config struct {
	// RSSIFloor is exclusive: a node at exactly the floor is not trusted.
	RSSIFloor float64
	// Expiry is the inactivity window after which a node is evicted.
	Expiry time.Duration
}

// DefaultConfig returns a -80 dBm floor and a five minute expiry.
func DefaultConfig() Config {
	return Config{RSSIFloor: DefaultRSSIFloor, Expiry: DefaultExpiry}
}

// Registry holds the known nodes keyed by source ID. It is safe for
// concurrent use by the ingest processor and the cleanup task.
type Registry struct {
	cfg    Config
	nodes  store.Store[models.Node]
	now    func() time.Time
	logger *slog.Logger

	mu           sync.RWMutex
	lastActivity time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithStore overrides the node store.
func WithStore(s store.Store[models.Node]) Option {
	return func(r *Registry) { r.nodes = s }
}

// New creates an empty registry. A zero expiry falls back to DefaultExpiry.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Registry {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		cfg:    cfg,
		nodes:  store.NewMemory(func(n models.Node) time.Time { return n.LastSeen }),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordTelemetry creates or refreshes the node identified by the packet's
// source ID and returns a copy of its new state.
func (r *Registry) RecordTelemetry(p models.Packet) *models.Node {
	now := r.now()

	node, _ := r.nodes.Update(p.SourceID, func(cur models.Node, exists bool) (models.Node, bool) {
		if !exists {
			cur = models.Node{ID: p.SourceID}
			r.logger.Info("node registered", logging.NodeID(p.SourceID))
		}
		cur.LastSeen = now
		cur.RSSI = p.RSSI
		cur.SNR = p.SNR
		cur.Battery = p.Battery
		if p.Location != nil {
			loc := *p.Location
			cur.Location = &loc
		}
		cur.PacketCount++
		return cur, true
	})

	r.mu.Lock()
	if now.After(r.lastActivity) {
		r.lastActivity = now
	}
	r.mu.Unlock()

	return &node
}

// Get returns the node with nodeID, expired or not.
func (r *Registry) Get(nodeID string) (models.Node, bool) {
	return r.nodes.Get(nodeID)
}

// ListActive returns nodes seen within the expiry window, ordered by ID.
func (r *Registry) ListActive() []models.Node {
	cutoff := r.now().Add(-r.cfg.Expiry)

	var active []models.Node
	for _, n := range r.nodes.Values() {
		if !n.LastSeen.Before(cutoff) {
			active = append(active, n)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}

// IsTrustworthy reports whether the node is known, not expired and has a
// signal strictly above the RSSI floor.
func (r *Registry) IsTrustworthy(nodeID string) bool {
	n, ok := r.nodes.Get(nodeID)
	if !ok {
		return false
	}
	if r.now().Sub(n.LastSeen) > r.cfg.Expiry {
		return false
	}
	return n.RSSI > r.cfg.RSSIFloor
}

// LastActivity returns the time of the most recent packet, or zero.
func (r *Registry) LastActivity() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity
}

// Cleanup evicts nodes not refreshed within the expiry window and returns
// how many were removed.
func (r *Registry) Cleanup(now time.Time) int {
	evicted := r.nodes.PurgeExpiredBefore(now.Add(-r.cfg.Expiry))
	for _, n := range evicted {
		r.logger.Info("node evicted", logging.NodeID(n.ID), slog.Time("last_seen", n.LastSeen))
	}
	metrics.NodesEvicted.Add(float64(len(evicted)))
	metrics.ActiveNodes.Set(float64(r.nodes.Len()))
	return len(evicted)
}

// Package simulate generates synthetic radio telemetry for development and
// load testing.
package simulate

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// Options shape the generated traffic.
type Options struct {
	// Nodes is the number of distinct sources.
	Nodes int
	// PresenceRate is the fraction of packets that carry a physical token.
	PresenceRate float64
	// WeakRate is the fraction of nodes reporting an RSSI below the default
	// trust floor.
	WeakRate float64
	// CodeRate is the fraction of presence packets carrying a
	// verification code.
	CodeRate float64
}

// DefaultOptions simulates five nodes, one of them weak.
func DefaultOptions() Options {
	return Options{Nodes: 5, PresenceRate: 0.3, WeakRate: 0.2, CodeRate: 0.5}
}

type node struct {
	id       string
	rssi     float64
	battery  float64
	location models.Location
}

// Generator produces packets for a fixed set of nodes.
type Generator struct {
	faker *gofakeit.Faker
	opts  Options
	nodes []node
	now   func() time.Time
}

// NewGenerator builds a generator. A seed of 0 picks a random seed.
func NewGenerator(opts Options, seed int64) *Generator {
	if opts.Nodes <= 0 {
		opts.Nodes = 1
	}
	f := gofakeit.New(seed)
	g := &Generator{faker: f, opts: opts, now: time.Now}

	weak := int(float64(opts.Nodes) * opts.WeakRate)
	for i := 0; i < opts.Nodes; i++ {
		n := node{
			id:      fmt.Sprintf("node-%s-%02d", strings.ToLower(f.LetterN(4)), i),
			rssi:    f.Float64Range(-75, -40),
			battery: f.Float64Range(3.3, 4.2),
			location: models.Location{
				Latitude:  f.Latitude(),
				Longitude: f.Longitude(),
				Accuracy:  f.Float64Range(1, 25),
			},
		}
		if i < weak {
			n.rssi = f.Float64Range(-110, -81)
		}
		g.nodes = append(g.nodes, n)
	}
	return g
}

// NodeIDs returns the simulated node IDs.
func (g *Generator) NodeIDs() []string {
	ids := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		ids[i] = n.id
	}
	return ids
}

// Next returns a packet from a randomly chosen node.
func (g *Generator) Next() models.Packet {
	f := g.faker
	n := &g.nodes[f.Number(0, len(g.nodes)-1)]

	// Radio conditions drift a little on every packet.
	n.rssi = clamp(n.rssi+f.Float64Range(-2, 2), -120, -30)
	n.battery = clamp(n.battery-f.Float64Range(0, 0.001), 3.0, 4.2)
	loc := n.location

	p := models.Packet{
		SourceID:  n.id,
		Timestamp: g.now().UTC(),
		RSSI:      round(n.rssi, 1),
		SNR:       round(f.Float64Range(-5, 12), 1),
		Battery:   round(n.battery, 3),
		Humidity:  round(f.Float64Range(20, 80), 1),
		Location:  &loc,
	}

	if f.Float64Range(0, 1) >= g.opts.PresenceRate {
		// Ambient reading outside the object temperature band.
		p.Temperature = round(f.Float64Range(-10, 12), 1)
		return p
	}

	p.Temperature = round(f.Float64Range(18, 32), 1)
	present := true
	p.PresenceDetected = &present
	weight := round(f.Float64Range(5, 250), 1)
	p.Weight = &weight
	p.Dimensions = &models.Dimensions{
		Width:     round(f.Float64Range(20, 90), 1),
		Height:    round(f.Float64Range(20, 90), 1),
		Thickness: round(f.Float64Range(0.5, 5), 2),
	}
	if f.Float64Range(0, 1) < g.opts.CodeRate {
		p.VerificationCode = strings.ToUpper(f.LetterN(4)) + "-" + fmt.Sprintf("%04d", f.Number(0, 9999))
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

func round(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	if v < 0 {
		return float64(int64(v*scale-0.5)) / scale
	}
	return float64(int64(v*scale+0.5)) / scale
}

package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

var defaultPaths = Paths{
	Price:     "pair.priceUsd",
	Liquidity: "pair.liquidity.usd",
	Verified:  "pair.verified",
	MarketCap: "pair.marketCap",
	Volume:    "pair.volume.h24",
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHTTPProvider_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"pair":{"priceUsd":"0.0125","liquidity":{"usd":2800},"verified":false,"marketCap":125000,"volume":{"h24":410.5}}}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, defaultPaths, time.Second)
	snap, err := p.Fetch(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.0125, snap.PriceUSD, 1e-9)
	assert.InDelta(t, 2800, snap.LiquidityUSD, 1e-9)
	assert.False(t, snap.Verified)
	assert.InDelta(t, 125000, snap.MarketCap, 1e-9)
	assert.InDelta(t, 410.5, snap.Volume24h, 1e-9)
	assert.Equal(t, srv.URL, snap.Source)
}

func TestHTTPProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusBadGateway, `{}`, nil},
		{"invalid json", http.StatusOK, `{"pair":`, nil},
		{"missing price", http.StatusOK, `{"pair":{"liquidity":{"usd":1}}}`, ErrMissingField},
		{"missing liquidity", http.StatusOK, `{"pair":{"priceUsd":1}}`, ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewHTTPProvider(srv.URL, defaultPaths, time.Second).Fetch(context.Background())
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

type flakyProvider struct {
	mu   sync.Mutex
	snap models.MarketSnapshot
	err  error
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Fetch(context.Context) (models.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func TestMonitor_PollAndHealth(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &flakyProvider{snap: models.MarketSnapshot{PriceUSD: 1, LiquidityUSD: 50000, Verified: true}}
	m := NewMonitor(p, time.Minute, discardLogger(), WithClock(func() time.Time { return now }))

	h := m.Health()
	assert.Zero(t, h.Score)
	assert.False(t, h.Active)

	require.NoError(t, m.Poll(context.Background()))
	h = m.Health()
	assert.Equal(t, 100, h.Score)
	assert.Empty(t, h.Alerts)
	assert.True(t, h.Active)
	assert.InDelta(t, 50000, m.Snapshot().LiquidityUSD, 1e-9)

	p.err = errors.New("upstream down")
	require.Error(t, m.Poll(context.Background()))
	require.Error(t, m.Poll(context.Background()))
	h = m.Health()
	assert.Equal(t, 60, h.Score)
	assert.Len(t, h.Alerts, 1)
	// The last good snapshot survives failed polls.
	assert.InDelta(t, 50000, m.Snapshot().LiquidityUSD, 1e-9)

	now = now.Add(10 * time.Minute)
	assert.Equal(t, 30, m.Health().Score)

	p.err = nil
	p.snap = models.MarketSnapshot{PriceUSD: 1, LiquidityUSD: 2800, Verified: false}
	require.NoError(t, m.Poll(context.Background()))
	h = m.Health()
	assert.Equal(t, 60, h.Score)
	assert.Len(t, h.Alerts, 2)
}

func TestLimits(t *testing.T) {
	snap := models.MarketSnapshot{LiquidityUSD: 2800}
	l := Limits(snap, 100, 0.05, 0.02, 10)
	assert.InDelta(t, 100, l.MaxTransferUSD, 1e-9)
	assert.InDelta(t, 56, l.RecommendedMaxUSD, 1e-9)
	assert.InDelta(t, 10, l.MaxSlippagePct, 1e-9)

	snap.LiquidityUSD = 1000
	assert.InDelta(t, 50, Limits(snap, 100, 0.05, 0.02, 10).MaxTransferUSD, 1e-9)
}

func TestStatic(t *testing.T) {
	s := NewStatic(2, 1000, true)
	snap, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static", snap.Source)
	assert.InDelta(t, 2, snap.PriceUSD, 1e-9)
	assert.False(t, snap.UpdatedAt.IsZero())
}

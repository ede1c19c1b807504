// Package market keeps the reference market snapshot used by the risk engine.
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// ErrMissingField is returned when a required JSON path is absent.
var ErrMissingField = errors.New("market response missing field")

const maxResponseBytes = 1 << 20

// Provider fetches the current market state.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) (models.MarketSnapshot, error)
}

// Static serves a fixed snapshot.
type Static struct {
	snap models.MarketSnapshot
}

// NewStatic serves the given values, stamped at fetch time.
func NewStatic(priceUSD, liquidityUSD float64, verified bool) *Static {
	return &Static{snap: models.MarketSnapshot{
		PriceUSD:     priceUSD,
		LiquidityUSD: liquidityUSD,
		Verified:     verified,
		Source:       "static",
	}}
}

func (s *Static) Name() string { return "static" }

func (s *Static) Fetch(_ context.Context) (models.MarketSnapshot, error) {
	snap := s.snap
	snap.UpdatedAt = time.Now().UTC()
	return snap, nil
}

// Paths are gjson paths into the provider response.
type Paths struct {
	Price     string
	Liquidity string
	Verified  string
	MarketCap string
	Volume    string
}

// HTTPProvider polls a JSON endpoint and extracts fields with gjson paths.
// Numeric fields may be encoded as JSON numbers or strings.
type HTTPProvider struct {
	url    string
	paths  Paths
	client *http.Client
}

// NewHTTPProvider fetches url. A non-positive timeout defaults to ten seconds.
func NewHTTPProvider(url string, paths Paths, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{url: url, paths: paths, client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProvider) Name() string { return "http" }

// Fetch requests the endpoint and extracts the snapshot. A missing price
// or liquidity is an error.
func (p *HTTPProvider) Fetch(ctx context.Context) (models.MarketSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("fetch market data: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("read market data: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.MarketSnapshot{}, fmt.Errorf("market data: unexpected status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return models.MarketSnapshot{}, fmt.Errorf("market data: invalid JSON")
	}
	return p.parse(body)
}

func (p *HTTPProvider) parse(body []byte) (models.MarketSnapshot, error) {
	price := gjson.GetBytes(body, p.paths.Price)
	if !price.Exists() {
		return models.MarketSnapshot{}, fmt.Errorf("%w: %s", ErrMissingField, p.paths.Price)
	}
	liquidity := gjson.GetBytes(body, p.paths.Liquidity)
	if !liquidity.Exists() {
		return models.MarketSnapshot{}, fmt.Errorf("%w: %s", ErrMissingField, p.paths.Liquidity)
	}

	snap := models.MarketSnapshot{
		PriceUSD:     price.Float(),
		LiquidityUSD: liquidity.Float(),
		Source:       p.url,
		UpdatedAt:    time.Now().UTC(),
	}
	if p.paths.Verified != "" {
		snap.Verified = gjson.GetBytes(body, p.paths.Verified).Bool()
	}
	if p.paths.MarketCap != "" {
		snap.MarketCap = gjson.GetBytes(body, p.paths.MarketCap).Float()
	}
	if p.paths.Volume != "" {
		snap.Volume24h = gjson.GetBytes(body, p.paths.Volume).Float()
	}
	return snap, nil
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web8kameleon-hub/tokengate/internal/audit"
	"github.com/web8kameleon-hub/tokengate/internal/auth"
	"github.com/web8kameleon-hub/tokengate/internal/gate"
	"github.com/web8kameleon-hub/tokengate/internal/handlers"
	"github.com/web8kameleon-hub/tokengate/internal/ingest"
	"github.com/web8kameleon-hub/tokengate/internal/ledger"
	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/market"
	"github.com/web8kameleon-hub/tokengate/internal/middleware"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/ratelimit"
	"github.com/web8kameleon-hub/tokengate/internal/registry"
	"github.com/web8kameleon-hub/tokengate/internal/signer"
	"github.com/web8kameleon-hub/tokengate/internal/transfer"
	"github.com/web8kameleon-hub/tokengate/internal/verification"
)

type testEnv struct {
	server *httptest.Server
	tokens *auth.TokenManager
	sink   *audit.MemorySink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.New(registry.DefaultConfig(), logger)
	machine := verification.NewMachine(verification.DefaultConfig(), reg, logger)
	svc := ingest.NewService(reg, machine, nil, logger, 16)
	t.Cleanup(svc.Stop)

	l := ledger.NewMemory()
	l.Fund("custody", decimal.NewFromInt(1000))

	mon := market.NewMonitor(market.NewStatic(1, 2800, true), time.Minute, logger)
	require.NoError(t, mon.Poll(context.Background()))

	gcfg := gate.DefaultConfig()
	gcfg.SourceAccount = "custody"
	g := gate.New(gcfg, mon, l, logger)

	sink := audit.NewMemorySink()
	rec := audit.NewRecorder(sink, nil, logger, 16)
	t.Cleanup(func() { _ = rec.Close() })

	ecfg := transfer.DefaultConfig()
	ecfg.SourceAccount = "custody"
	limiter := ratelimit.NewMemoryLimiter(ecfg.DailyCap, ecfg.Window, time.Now)
	exec := transfer.New(ecfg, machine, g, limiter, l, rec, logger)

	payloadSigner, err := signer.NewHMAC("test", bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	h := handlers.New(svc, exec, handlers.NewReporter(mon, l, gcfg, ecfg), handlers.Config{PayloadSigner: payloadSigner},
		logging.NewWithWriter(io.Discard, slog.LevelInfo, "json"))
	tokens := auth.NewTokenManager("secret", time.Hour)

	srv := httptest.NewServer(NewRouter(h, middleware.NewAuthMiddleware(tokens), middleware.NewThrottle(1000, 1000)))
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, tokens: tokens, sink: sink}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func recipient() string {
	key := make([]byte, ledger.AddressLength)
	for i := range key {
		key[i] = byte(40 + i)
	}
	return base58.Encode(key)
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/transfers", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRouter_TransferRequiresOperator(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"to": recipient(), "amount": "10"}

	resp := env.do(t, http.MethodPost, "/api/v1/transfers", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	viewer, err := env.tokens.Issue("viewer", []string{"viewer"})
	require.NoError(t, err)
	resp = env.do(t, http.MethodPost, "/api/v1/transfers", viewer, body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRouter_TelemetryToTransfer(t *testing.T) {
	env := newTestEnv(t)
	operator, err := env.tokens.Issue("alice", []string{auth.RoleOperator})
	require.NoError(t, err)

	present := true
	packet := models.Packet{
		SourceID:         "node-1",
		Temperature:      22,
		Humidity:         55,
		RSSI:             -60,
		Battery:          80,
		PresenceDetected: &present,
		VerificationCode: "TOKEN-1",
	}
	resp := env.do(t, http.MethodPost, "/api/v1/telemetry", "", packet)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Eventually(t, func() bool {
		r := env.do(t, http.MethodGet, "/api/v1/status?token_id=TOKEN-1", "", nil)
		var report models.StatusReport
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			return false
		}
		return report.Token != nil && report.Token.Usable
	}, 2*time.Second, 20*time.Millisecond)

	req := map[string]any{"to": recipient(), "amount": "10", "physical_token_id": "TOKEN-1"}
	resp = env.do(t, http.MethodPost, "/api/v1/transfers", operator, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var outcome models.TransferOutcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.NotEmpty(t, outcome.Reference)
	assert.True(t, outcome.Decision.Approved)

	resp = env.do(t, http.MethodPost, "/api/v1/transfers", operator, req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	assert.Eventually(t, func() bool { return env.sink.Count() == 2 }, time.Second, 10*time.Millisecond)
	entries := env.sink.Entries()
	assert.Equal(t, "alice", entries[0].Operator)
	assert.Equal(t, models.OutcomeExecuted, entries[0].Outcome)
	assert.Equal(t, models.OutcomeRateLimited, entries[1].Outcome)
}

func TestRouter_InfoAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/info", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info handlers.InfoReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, handlers.InfoOperational, info.Status)
	assert.Equal(t, transfer.NetworkDevnet, info.Network)

	resp = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tokengate_http_requests_total")
}

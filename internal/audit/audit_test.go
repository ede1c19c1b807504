package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/signer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSigner(t *testing.T) *EntrySigner {
	t.Helper()
	s, err := signer.NewHMAC("audit", []byte("audit-secret"))
	require.NoError(t, err)
	return NewEntrySigner(s)
}

func sampleEntry() models.AuditEntry {
	return models.AuditEntry{
		Kind:      models.AuditTransfer,
		Outcome:   models.OutcomeExecuted,
		From:      "custody",
		To:        "recipient",
		Amount:    decimal.RequireFromString("12.5"),
		AmountUSD: 12.5,
		RiskTier:  models.RiskLow,
		Reference: "ref-1",
		Findings: []models.CheckResult{
			{Check: "ASSET_TRUST", Passed: true, Severity: models.SeverityInfo, Message: "ok"},
		},
	}
}

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSink) Name() string { return "failing" }

func (f *failingSink) Append(context.Context, models.AuditEntry) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("disk full")
}

func TestEntrySigner(t *testing.T) {
	es := testSigner(t)
	e := sampleEntry()
	e.ID = "id-1"

	sig, err := es.Sign(e)
	require.NoError(t, err)
	e.Signature = sig
	assert.True(t, es.Verify(e))

	e.Amount = decimal.NewFromInt(1000)
	assert.False(t, es.Verify(e))

	e.Signature = "zz"
	assert.False(t, es.Verify(e))
}

func TestRecorder_RecordAndClose(t *testing.T) {
	sink := NewMemorySink()
	es := testSigner(t)
	r := NewRecorder(sink, es, discardLogger(), 16)

	id, err := r.Record(context.Background(), sampleEntry())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "close is idempotent")

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.True(t, es.Verify(entries[0]))

	_, err = r.Record(context.Background(), sampleEntry())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecorder_SinkFailureIsSwallowed(t *testing.T) {
	sink := &failingSink{}
	r := NewRecorder(sink, nil, discardLogger(), 4)

	for i := 0; i < 3; i++ {
		_, err := r.Record(context.Background(), sampleEntry())
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())
	assert.Equal(t, 3, sink.calls)
}

func TestMultiSink(t *testing.T) {
	mem := NewMemorySink()
	failing := &failingSink{}
	m := NewMultiSink(failing, mem)

	err := m.Append(context.Background(), sampleEntry())
	require.Error(t, err)

	var se *SinkError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "failing", se.Sink)
	assert.Equal(t, 1, mem.Count(), "healthy sinks still receive the entry")
}

func TestOpenSearchSink(t *testing.T) {
	var (
		mu      sync.Mutex
		indexed []string
		body    map[string]any
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"},"tagline":"The OpenSearch Project"}`))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		indexed = append(indexed, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer srv.Close()

	sink, err := NewOpenSearchSink(OpenSearchConfig{URL: srv.URL, Index: "tokengate-audit"})
	require.NoError(t, err)

	e := sampleEntry()
	e.ID = "0192f0c4-1111-7000-8000-000000000001"
	e.Timestamp = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Append(context.Background(), e))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, indexed, 1)
	assert.True(t, strings.HasPrefix(indexed[0], "PUT /tokengate-audit-2025.03.01/_doc/"+e.ID) ||
		strings.HasPrefix(indexed[0], "PUT /tokengate-audit-2025.03.01/_create/"+e.ID), indexed[0])
	assert.Equal(t, "executed", body["outcome"])
}

func TestOpenSearchSink_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
			return
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"version_conflict_engine_exception"}`))
	}))
	defer srv.Close()

	sink, err := NewOpenSearchSink(OpenSearchConfig{URL: srv.URL, Index: "audit"})
	require.NoError(t, err)

	e := sampleEntry()
	e.ID = "dup"
	err = sink.Append(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version_conflict")
}

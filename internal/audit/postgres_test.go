package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

func setupPostgres(t *testing.T) *PostgresSink {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("tokengate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	version, err := Migrate(connStr)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	// Re-running is a no-op.
	_, err = Migrate(connStr)
	require.NoError(t, err)

	sink, err := NewPostgresSink(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(sink.Close)
	return sink
}

func TestPostgresSink_AppendAndRecent(t *testing.T) {
	sink := setupPostgres(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e := sampleEntry()
		e.ID = uuid.Must(uuid.NewV7()).String()
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		e.Amount = decimal.NewFromInt(int64(i + 1))
		e.Signature = "sig"
		require.NoError(t, sink.Append(ctx, e))
	}

	entries, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, models.AuditTransfer, entries[0].Kind)
	assert.Equal(t, models.RiskLow, entries[0].RiskTier)
	require.Len(t, entries[0].Findings, 1)
	assert.Equal(t, "ASSET_TRUST", entries[0].Findings[0].Check)
}

func TestPostgresSink_AppendOnly(t *testing.T) {
	sink := setupPostgres(t)
	ctx := context.Background()

	e := sampleEntry()
	e.ID = uuid.Must(uuid.NewV7()).String()
	e.Timestamp = time.Now().UTC()
	e.Signature = "sig"
	require.NoError(t, sink.Append(ctx, e))

	_, err := sink.pool.Exec(ctx, `UPDATE audit_entries SET outcome = 'tampered'`)
	require.NoError(t, err)
	_, err = sink.pool.Exec(ctx, `DELETE FROM audit_entries`)
	require.NoError(t, err)

	entries, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutcomeExecuted, entries[0].Outcome)

	assert.Error(t, sink.Append(ctx, e), "duplicate IDs are rejected")
}

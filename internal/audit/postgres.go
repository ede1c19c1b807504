package audit

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the audit schema to the database at dsn.
func Migrate(dsn string) (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, nil
}

// PostgresSink appends entries to the audit_entries table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink opens a pool and verifies the connection. Run Migrate first.
func NewPostgresSink(ctx context.Context, connString string) (*PostgresSink, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

// Close releases the pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresSink) Append(ctx context.Context, e models.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	findings := e.Findings
	if findings == nil {
		findings = []models.CheckResult{}
	}
	findingsJSON, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}

	query := `
		INSERT INTO audit_entries (
			id, kind, outcome, operator, from_account, to_account, amount, amount_usd,
			risk_tier, warning_count, liquidity_impact_pct, reference,
			physical_token_id, network, error, findings, created_at, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err = s.pool.Exec(ctx, query,
		e.ID, string(e.Kind), e.Outcome, e.Operator, e.From, e.To, e.Amount.String(), e.AmountUSD,
		string(e.RiskTier), e.WarningCount, e.LiquidityImpactPct, e.Reference,
		e.PhysicalTokenID, e.Network, e.Error, findingsJSON, e.Timestamp, e.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id::text, kind, outcome, operator, from_account, to_account, amount::text, amount_usd,
		       risk_tier, warning_count, liquidity_impact_pct, reference,
		       physical_token_id, network, error, findings, created_at, signature
		FROM audit_entries
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e            models.AuditEntry
			kind, tier   string
			amount       string
			findingsJSON []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.Outcome, &e.Operator, &e.From, &e.To, &amount, &e.AmountUSD,
			&tier, &e.WarningCount, &e.LiquidityImpactPct, &e.Reference,
			&e.PhysicalTokenID, &e.Network, &e.Error, &findingsJSON, &e.Timestamp, &e.Signature); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Kind = models.AuditKind(kind)
		e.RiskTier = models.RiskTier(tier)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount: %w", err)
		}
		if err := json.Unmarshal(findingsJSON, &e.Findings); err != nil {
			return nil, fmt.Errorf("failed to decode findings: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

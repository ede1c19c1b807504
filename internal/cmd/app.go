package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web8kameleon-hub/tokengate/internal/audit"
	"github.com/web8kameleon-hub/tokengate/internal/auth"
	"github.com/web8kameleon-hub/tokengate/internal/config"
	"github.com/web8kameleon-hub/tokengate/internal/events"
	"github.com/web8kameleon-hub/tokengate/internal/gate"
	"github.com/web8kameleon-hub/tokengate/internal/handlers"
	"github.com/web8kameleon-hub/tokengate/internal/ingest"
	"github.com/web8kameleon-hub/tokengate/internal/ledger"
	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/market"
	"github.com/web8kameleon-hub/tokengate/internal/messaging"
	natsclient "github.com/web8kameleon-hub/tokengate/internal/messaging/nats"
	"github.com/web8kameleon-hub/tokengate/internal/middleware"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/ratelimit"
	"github.com/web8kameleon-hub/tokengate/internal/registry"
	"github.com/web8kameleon-hub/tokengate/internal/scheduler"
	"github.com/web8kameleon-hub/tokengate/internal/server"
	"github.com/web8kameleon-hub/tokengate/internal/signer"
	"github.com/web8kameleon-hub/tokengate/internal/transfer"
	"github.com/web8kameleon-hub/tokengate/internal/verification"
)

// Task names registered with the scheduler.
const (
	taskCleanup    = "cleanup"
	taskMarketPoll = "market-poll"
)

const (
	defaultSourceAccount = "custody"
	throttleMaxClients   = 10000
)

// app holds the wired service. closers run in reverse order on Close.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	handler   http.Handler
	scheduler *scheduler.Scheduler
	registry  *registry.Registry
	machine   *verification.Machine
	ingest    *ingest.Service
	monitor   *market.Monitor
	executor  *transfer.Executor
	sink      *audit.MemorySink

	closers []func()
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close stops components in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newApp wires every component from cfg. On error, whatever was already
// started is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	log := logger.Logger
	readiness := make(map[string]handlers.ReadinessCheck)

	// Broker and lifecycle events.
	var bus messaging.Client
	var publisher messaging.Publisher = events.LogPublisher{Logger: log}
	if cfg.NATS.Enabled {
		ncfg := natsclient.DefaultConfig()
		ncfg.URL = cfg.NATS.URL
		ncfg.Name = cfg.NATS.Name
		nc, nerr := natsclient.NewClient(ncfg, log)
		if nerr != nil {
			return nil, fmt.Errorf("connect nats: %w", nerr)
		}
		a.onClose(func() {
			if derr := nc.Drain(); derr != nil {
				log.Warn("nats drain failed", logging.Error(derr))
			}
		})
		bus, publisher = nc, nc
		readiness["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	emitter := events.NewQueue(publisher, cfg.NATS.EventQueueSize, log)
	a.onClose(emitter.Close)

	// Node registry and verification state machine.
	a.registry = registry.New(registry.Config{
		RSSIFloor: float64(cfg.Verification.RSSIFloor),
		Expiry:    cfg.Verification.NodeExpiry,
	}, log)
	a.machine = verification.NewMachine(verificationConfig(cfg.Verification), a.registry, log,
		verification.WithListener(func(ev models.TokenEvent) {
			emitter.Emit(events.TokenSubject(ev.Status), ev)
		}))

	a.ingest = ingest.NewService(a.registry, a.machine, emitter, log, cfg.Ingest.QueueSize)
	a.onClose(a.ingest.Stop)
	if bus != nil {
		sub, serr := a.ingest.Subscribe(bus, cfg.NATS.QueueName)
		if serr != nil {
			return nil, fmt.Errorf("subscribe telemetry: %w", serr)
		}
		a.onClose(func() { _ = sub.Unsubscribe() })
		log.Info("subscribed to telemetry",
			logging.Subject(events.SubjectTelemetry),
			slog.String("queue_group", cfg.NATS.QueueName))
	}

	// Ledger.
	sourceAccount := cfg.Transfer.SourceAccount
	var svc ledger.Service
	switch cfg.Ledger.Backend {
	case "http":
		svc = ledger.NewHTTPClient(cfg.Ledger.URL, cfg.Ledger.APIKey, cfg.Ledger.Timeout)
	default:
		mem := ledger.NewMemory()
		if sourceAccount == "" {
			sourceAccount = defaultSourceAccount
		}
		balance, perr := decimal.NewFromString(cfg.Ledger.InitialBalance)
		if perr != nil {
			return nil, fmt.Errorf("%w: ledger.initial_balance: %v", config.ErrInvalid, perr)
		}
		mem.Fund(sourceAccount, balance)
		svc = mem
		log.Warn("using in-memory ledger",
			slog.String("source_account", sourceAccount),
			logging.Amount(balance.String()))
	}

	// Market reference data.
	var provider market.Provider
	switch cfg.Market.Provider {
	case "http":
		provider = market.NewHTTPProvider(cfg.Market.URL, market.Paths{
			Price:     cfg.Market.PricePath,
			Liquidity: cfg.Market.LiquidityPath,
			Verified:  cfg.Market.VerifiedPath,
			MarketCap: cfg.Market.MarketCapPath,
			Volume:    cfg.Market.VolumePath,
		}, cfg.Market.Timeout)
	default:
		provider = market.NewStatic(cfg.Market.StaticPrice, cfg.Market.StaticLiquidity, cfg.Market.StaticVerified)
	}
	a.monitor = market.NewMonitor(provider, cfg.Market.PollInterval, log)
	if perr := a.monitor.Poll(ctx); perr != nil {
		log.Warn("initial market poll failed", slog.String("provider", provider.Name()), logging.Error(perr))
	}

	// Security gate.
	gcfg := gate.Config{
		MaxTransferUSD:               cfg.Gate.MaxTransferUSD,
		MaxLiquidityFraction:         cfg.Gate.MaxLiquidityFraction,
		RecommendedLiquidityFraction: cfg.Gate.RecommendedLiquidityFraction,
		LiquidityWarningFraction:     cfg.Gate.LiquidityWarningFraction,
		SlippageTolerance:            cfg.Gate.SlippageTolerance,
		SlippageWarning:              cfg.Gate.SlippageWarning,
		SourceAccount:                sourceAccount,
		BalanceTimeout:               cfg.Ledger.Timeout,
	}
	g := gate.New(gcfg, a.monitor, svc, log)

	// Per-recipient limiter.
	var limiter ratelimit.Limiter
	var memLimiter *ratelimit.MemoryLimiter
	switch cfg.RateLimit.Backend {
	case "redis":
		rl, rerr := ratelimit.NewRedisLimiter(cfg.Redis.URL, cfg.Transfer.DailyCap, cfg.Transfer.Window)
		if rerr != nil {
			return nil, fmt.Errorf("redis limiter: %w", rerr)
		}
		limiter = rl
		readiness["redis"] = rl.Ping
	case "none":
		limiter = ratelimit.NoOpLimiter{}
		log.Warn("per-recipient rate limiting disabled")
	default:
		memLimiter = ratelimit.NewMemoryLimiter(cfg.Transfer.DailyCap, cfg.Transfer.Window, time.Now)
		limiter = memLimiter
	}
	a.onClose(func() { _ = limiter.Close() })

	// Audit trail.
	recorder, rerr := a.buildAudit(ctx, readiness)
	if rerr != nil {
		return nil, rerr
	}

	// Transfer executor.
	ecfg := transfer.Config{
		Policy: transfer.NetworkPolicy{
			Network:        cfg.Transfer.Network,
			Enabled:        cfg.Transfer.Enabled,
			MainnetEnabled: cfg.Transfer.MainnetEnabled,
			Allowlist:      cfg.Transfer.Allowlist,
		},
		SourceAccount: sourceAccount,
		LedgerTimeout: cfg.Transfer.LedgerTimeout,
		DailyCap:      cfg.Transfer.DailyCap,
		Window:        cfg.Transfer.Window,
	}
	a.executor = transfer.New(ecfg, a.machine, g, limiter, svc, recorder, log, transfer.WithEmitter(emitter))

	// HTTP surface.
	payloadSigner, serr := a.buildSigner(signer.PurposePayload)
	if serr != nil {
		return nil, serr
	}
	h := handlers.New(a.ingest, a.executor, handlers.NewReporter(a.monitor, svc, gcfg, ecfg), handlers.Config{
		PayloadSigner: payloadSigner,
		PayloadTTL:    cfg.Signer.PayloadTTL,
		Readiness:     readiness,
	}, logger)

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; operator endpoints will reject every request")
	}
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	throttle := middleware.NewThrottle(cfg.Server.ThrottleRPS, cfg.Server.ThrottleBurst)
	a.handler = server.NewRouter(h, middleware.NewAuthMiddleware(tokens), throttle)

	// Background maintenance.
	a.scheduler = scheduler.New(log)
	if err := a.scheduler.Add(taskCleanup, cfg.Scheduler.CleanupInterval, func(context.Context) error {
		now := time.Now()
		nodes := a.registry.Cleanup(now)
		stats := a.machine.Cleanup(now)
		if memLimiter != nil {
			memLimiter.Prune()
		}
		throttle.Reset(throttleMaxClients)
		log.Debug("cleanup finished",
			slog.Int("nodes", nodes),
			slog.Int("pending", stats.Pending),
			slog.Int("verified", stats.Verified),
			slog.Int("failed", stats.Failed))
		return nil
	}); err != nil {
		return nil, err
	}
	if err := a.scheduler.Add(taskMarketPoll, cfg.Market.PollInterval, a.monitor.Poll); err != nil {
		return nil, err
	}
	a.onClose(a.scheduler.Stop)

	return a, nil
}

// buildAudit assembles the audit sinks and the recorder that writes to them.
func (a *app) buildAudit(ctx context.Context, readiness map[string]handlers.ReadinessCheck) (*audit.Recorder, error) {
	cfg := a.cfg.Audit
	log := a.logger.Logger

	a.sink = audit.NewMemorySink()
	sinks := []audit.Sink{a.sink}

	if cfg.Postgres.Enabled {
		if cfg.Postgres.Migrate {
			version, err := audit.Migrate(cfg.Postgres.DSN)
			if err != nil {
				return nil, fmt.Errorf("migrate audit store: %w", err)
			}
			log.Info("audit store migrated", slog.Uint64("version", uint64(version)))
		}
		pg, err := audit.NewPostgresSink(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("audit postgres: %w", err)
		}
		a.onClose(pg.Close)
		sinks = append(sinks, pg)
		readiness["postgres"] = pg.Ping
	}
	if cfg.OpenSearch.Enabled {
		searchSink, err := audit.NewOpenSearchSink(audit.OpenSearchConfig{
			URL:           cfg.OpenSearch.URL,
			Username:      cfg.OpenSearch.Username,
			Password:      cfg.OpenSearch.Password,
			TLSSkipVerify: cfg.OpenSearch.TLSSkipVerify,
			Index:         cfg.OpenSearch.Index,
		})
		if err != nil {
			return nil, fmt.Errorf("audit opensearch: %w", err)
		}
		sinks = append(sinks, searchSink)
	}

	var sink audit.Sink = a.sink
	if len(sinks) > 1 {
		sink = audit.NewMultiSink(sinks...)
	}

	entrySigner, err := a.buildSigner(signer.PurposeAudit)
	if err != nil {
		return nil, err
	}
	rec := audit.NewRecorder(sink, audit.NewEntrySigner(entrySigner), log, cfg.QueueSize)
	a.onClose(func() { _ = rec.Close() })
	return rec, nil
}

// buildSigner derives the key for purpose from the configured master secret.
// Without one, a random master is used and signatures do not survive a
// restart.
func (a *app) buildSigner(purpose string) (signer.Signer, error) {
	cfg := a.cfg.Signer
	master := []byte(cfg.MasterSecret)
	if len(master) == 0 {
		random, err := signer.RandomMaster()
		if err != nil {
			return nil, err
		}
		master = random
		a.logger.Warn("signer.master_secret is empty; using an ephemeral key", slog.String("purpose", purpose))
	}
	s, err := signer.New(cfg.Algorithm, cfg.SignerID, master, purpose)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}
	return s, nil
}

func verificationConfig(c config.VerificationConfig) verification.Config {
	return verification.Config{
		Policy: verification.Policy{
			AcceptPresenceFlag:     c.AcceptPresenceFlag,
			AcceptWeight:           c.AcceptWeight,
			AcceptVerificationCode: c.AcceptVerificationCode,
			ClassifyByTemperature:  c.ClassifyByTemperature,
			ObjectTempMin:          c.ObjectTempMin,
			ObjectTempMax:          c.ObjectTempMax,
			PlausibleTempMin:       c.PlausibleTempMin,
			PlausibleTempMax:       c.PlausibleTempMax,
			PlausibleHumidityMin:   c.PlausibleHumidityMin,
			PlausibleHumidityMax:   c.PlausibleHumidityMax,
		},
		AutoVerify:   c.AutoVerify,
		PendingTTL:   c.PendingTTL,
		VerifiedTTL:  c.VerifiedTTL,
		MaxEventAge:  c.MaxEventAge,
		UsableWindow: c.UsableWindow,
	}
}

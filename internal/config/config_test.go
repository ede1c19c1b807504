package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Verification.RSSIFloor != -80 {
		t.Errorf("Verification.RSSIFloor = %d, want -80", cfg.Verification.RSSIFloor)
	}
	if cfg.Verification.NodeExpiry != 5*time.Minute {
		t.Errorf("Verification.NodeExpiry = %v, want 5m", cfg.Verification.NodeExpiry)
	}
	if cfg.Verification.VerifiedTTL != 2*time.Hour {
		t.Errorf("Verification.VerifiedTTL = %v, want 2h", cfg.Verification.VerifiedTTL)
	}
	if !cfg.Verification.AutoVerify {
		t.Error("Verification.AutoVerify should be true by default")
	}
	if cfg.Verification.AcceptVerificationCode {
		t.Error("Verification.AcceptVerificationCode should be false by default")
	}
	if cfg.Gate.MaxTransferUSD != 100 {
		t.Errorf("Gate.MaxTransferUSD = %v, want 100", cfg.Gate.MaxTransferUSD)
	}
	if cfg.Gate.SlippageTolerance != 10 {
		t.Errorf("Gate.SlippageTolerance = %v, want 10", cfg.Gate.SlippageTolerance)
	}
	if cfg.Transfer.DailyCap != 1 {
		t.Errorf("Transfer.DailyCap = %d, want 1", cfg.Transfer.DailyCap)
	}
	if cfg.Transfer.LedgerTimeout != 30*time.Second {
		t.Errorf("Transfer.LedgerTimeout = %v, want 30s", cfg.Transfer.LedgerTimeout)
	}
	if cfg.Transfer.Network != "devnet" {
		t.Errorf("Transfer.Network = %q, want devnet", cfg.Transfer.Network)
	}
	if cfg.Scheduler.CleanupInterval != 30*time.Second {
		t.Errorf("Scheduler.CleanupInterval = %v, want 30s", cfg.Scheduler.CleanupInterval)
	}
	if cfg.Market.PollInterval != time.Minute {
		t.Errorf("Market.PollInterval = %v, want 1m", cfg.Market.PollInterval)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TOKENGATE_TRANSFER_NETWORK", "mainnet")
	t.Setenv("TOKENGATE_VERIFICATION_RSSI_FLOOR", "-70")
	t.Setenv("TOKENGATE_RATELIMIT_BACKEND", "redis")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transfer.Network != "mainnet" {
		t.Errorf("Transfer.Network = %q, want mainnet", cfg.Transfer.Network)
	}
	if cfg.Verification.RSSIFloor != -70 {
		t.Errorf("Verification.RSSIFloor = %d, want -70", cfg.Verification.RSSIFloor)
	}
	if cfg.RateLimit.Backend != "redis" {
		t.Errorf("RateLimit.Backend = %q, want redis", cfg.RateLimit.Backend)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokengate.yaml")
	body := []byte(`
transfer:
  network: mainnet
  mainnet_enabled: true
  allowlist:
    - 4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T
gate:
  max_transfer_usd: 50
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Transfer.MainnetEnabled {
		t.Error("Transfer.MainnetEnabled should be true")
	}
	if len(cfg.Transfer.Allowlist) != 1 {
		t.Errorf("Transfer.Allowlist len = %d, want 1", len(cfg.Transfer.Allowlist))
	}
	if cfg.Gate.MaxTransferUSD != 50 {
		t.Errorf("Gate.MaxTransferUSD = %v, want 50", cfg.Gate.MaxTransferUSD)
	}
}

func TestLoad_InvalidNetwork(t *testing.T) {
	t.Setenv("TOKENGATE_TRANSFER_NETWORK", "testnet")

	_, err := Load("")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() error = %v, want ErrInvalid", err)
	}
}

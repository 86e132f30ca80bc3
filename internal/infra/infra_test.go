package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},
		{100, 60 * time.Second},
	}

	for _, tt := range tests {
		if delay := CalculateBackoff(tt.retryCount); delay != tt.want {
			t.Errorf("CalculateBackoff(%d) = %s, want %s", tt.retryCount, delay, tt.want)
		}
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cfg := CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
	}
	cb := NewCircuitBreaker(cfg)

	if !cb.Allow() {
		t.Error("Expected Allow() to return true in CLOSED state")
	}

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Error("Should still be CLOSED after 2 failures")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Errorf("Expected OPEN after 3 failures, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Error("Expected Allow() to return false in OPEN state")
	}
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cfg := CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	}
	cb := NewCircuitBreaker(cfg)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("Expected OPEN state")
	}

	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Error("Expected Allow() to return true after timeout (half-open)")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected HALF_OPEN, got %s", cb.GetState())
	}

	cb.RecordSuccess()
	if cb.GetState() != StateHalfOpen {
		t.Error("Should still be HALF_OPEN after 1 success")
	}
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected CLOSED after 2 successes, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if cb.GetState() != StateOpen {
		t.Fatal("Expected OPEN state")
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected CLOSED after Reset, got %s", cb.GetState())
	}
}

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(3, 10)

	for i := 0; i < 3; i++ {
		if !rl.TryAcquire() {
			t.Fatalf("token %d should be available in burst", i)
		}
	}
	if rl.TryAcquire() {
		t.Error("4th token should not be available immediately")
	}

	// Tokens refill at 10/s; 150ms is at least one token.
	time.Sleep(150 * time.Millisecond)
	if !rl.TryAcquire() {
		t.Error("token should be available after refill")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  name: marketcore
  version: "0.1.0"
feed:
  ws_url: wss://stream.example.com/ws
  instruments: ["BTCUSDT-PERP", "ETHUSDT-PERP"]
  ping_interval_sec: 15
  inbox_size: 4096
catalog:
  path: catalog.db
account:
  id: SIM-001
  type: MARGIN
  default_leverage: 10
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Feed.WSURL != "wss://stream.example.com/ws" {
		t.Errorf("ws_url = %q", cfg.Feed.WSURL)
	}
	if len(cfg.Feed.Instruments) != 2 {
		t.Errorf("instruments = %v", cfg.Feed.Instruments)
	}
	if cfg.Account.Type != "MARGIN" || cfg.Account.DefaultLeverage != 10 {
		t.Errorf("account = %+v", cfg.Account)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
feed:
  ws_url: wss://stream.example.com/ws
  instruments: ["BTCUSDT-PERP"]
  ping_interval_sec: 15
  inbox_size: 1024
account:
  id: SIM-001
  type: CASH
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MARKETCORE_ACCOUNT_ID", "LIVE-042")
	t.Setenv("MARKETCORE_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Account.ID != "LIVE-042" {
		t.Errorf("account id = %q, want env override LIVE-042", cfg.Account.ID)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q, want warn", cfg.Logging.Level)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		var c Config
		c.Feed.WSURL = "wss://x"
		c.Feed.Instruments = []string{"BTCUSDT-PERP"}
		c.Feed.PingIntervalSec = 15
		c.Feed.InboxSize = 1024
		c.Account.ID = "SIM-001"
		c.Account.Type = "CASH"
		return &c
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	c := valid()
	c.Feed.WSURL = "http://x"
	if err := c.Validate(); err == nil {
		t.Error("non-websocket URL should be rejected")
	}

	c = valid()
	c.Feed.Instruments = nil
	if err := c.Validate(); err == nil {
		t.Error("empty instruments should be rejected")
	}

	c = valid()
	c.Account.Type = "SPOT"
	if err := c.Validate(); err == nil {
		t.Error("unknown account type should be rejected")
	}

	c = valid()
	c.Account.Type = "MARGIN"
	c.Account.DefaultLeverage = 0.5
	if err := c.Validate(); err == nil {
		t.Error("sub-1 leverage should be rejected")
	}

	c = valid()
	c.Logging.Level = "verbose"
	if err := c.Validate(); err == nil {
		t.Error("unknown log level should be rejected")
	}
}

package router

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.AckTimeoutMS != 120000 {
		t.Errorf("expected ack_timeout_ms 120000, got %d", cfg.AckTimeoutMS)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected max_retries 5, got %d", cfg.MaxRetries)
	}
	if len(cfg.RetryBackoffMS) != 5 {
		t.Errorf("expected 5 backoff entries, got %d", len(cfg.RetryBackoffMS))
	}
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := Config{}.withDefaults()
	want := DefaultConfig()
	if cfg.AckTimeoutMS != want.AckTimeoutMS {
		t.Errorf("expected ack_timeout_ms %d, got %d", want.AckTimeoutMS, cfg.AckTimeoutMS)
	}
	if cfg.MaxRetries != want.MaxRetries {
		t.Errorf("expected max_retries %d, got %d", want.MaxRetries, cfg.MaxRetries)
	}
	if len(cfg.RetryBackoffMS) != len(want.RetryBackoffMS) {
		t.Errorf("expected backoff list filled in, got %v", cfg.RetryBackoffMS)
	}
}

func TestWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{AckTimeoutMS: 5000, MaxRetries: 9}.withDefaults()
	if cfg.AckTimeoutMS != 5000 {
		t.Errorf("expected explicit ack_timeout_ms preserved at 5000, got %d", cfg.AckTimeoutMS)
	}
	if cfg.MaxRetries != 9 {
		t.Errorf("expected explicit max_retries preserved at 9, got %d", cfg.MaxRetries)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfigFile(t *testing.T) {
	cfg, err := Load("../../config")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Queue.SQSQueueURL != "https://sqs.us-east-1.amazonaws.com/000000000000/ses-inbound" {
		t.Errorf("unexpected queue URL: %s", cfg.Queue.SQSQueueURL)
	}
	if cfg.Queue.MaxMessages != 10 {
		t.Errorf("expected max messages 10, got %d", cfg.Queue.MaxMessages)
	}
	if cfg.Queue.WaitTimeSeconds != 20 {
		t.Errorf("expected wait time 20, got %d", cfg.Queue.WaitTimeSeconds)
	}
	if cfg.Queue.VisibilityTimeout != 5*time.Minute {
		t.Errorf("expected visibility timeout 5m, got %v", cfg.Queue.VisibilityTimeout)
	}

	if cfg.Transport.Type != "smtp" || cfg.Transport.Port != 587 || cfg.Transport.TLS != "starttls" {
		t.Errorf("unexpected transport config: %+v", cfg.Transport)
	}
	if !cfg.Transport.Breaker.Enabled || cfg.Transport.Breaker.FailureRatio != 0.6 {
		t.Errorf("unexpected transport breaker config: %+v", cfg.Transport.Breaker)
	}

	if cfg.Dedupe.Type != "redis" {
		t.Errorf("expected dedupe type redis, got %s", cfg.Dedupe.Type)
	}
	if cfg.Dedupe.TTL != time.Hour {
		t.Errorf("expected dedupe ttl 1h, got %v", cfg.Dedupe.TTL)
	}

	if cfg.Admin.Addr() != "0.0.0.0:9090" {
		t.Errorf("expected admin addr 0.0.0.0:9090, got %s", cfg.Admin.Addr())
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("sample config should validate, got %v", err)
	}
}

func TestLoad_EnvironmentVariableOverride(t *testing.T) {
	overrideURL := "https://sqs.eu-west-1.amazonaws.com/111111111111/other"
	t.Setenv("SES_RELAY_QUEUE_SQS_QUEUE_URL", overrideURL)
	t.Setenv("SES_RELAY_TRANSPORT_PORT", "2525")

	cfg, err := Load("../../config")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Queue.SQSQueueURL != overrideURL {
		t.Errorf("expected queue URL override %s, got %s", overrideURL, cfg.Queue.SQSQueueURL)
	}
	if cfg.Transport.Port != 2525 {
		t.Errorf("expected transport port 2525 from env override, got %d", cfg.Transport.Port)
	}

	// Other values should still be from config file
	if cfg.Dedupe.RedisAddr != "localhost:6379" {
		t.Errorf("expected redis addr localhost:6379, got %s", cfg.Dedupe.RedisAddr)
	}
}

func TestLoad_PartialConfigUsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	partialConfig := `
queue:
  sqs_queue_url: "https://sqs.example.com/q"
logging:
  level: debug
`
	err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(partialConfig), 0o644)
	if err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Queue.MaxMessages != 10 || cfg.Queue.WaitTimeSeconds != 20 {
		t.Errorf("expected receive defaults 10/20, got %d/%d", cfg.Queue.MaxMessages, cfg.Queue.WaitTimeSeconds)
	}
	if cfg.Dedupe.TTL != time.Hour {
		t.Errorf("expected default dedupe ttl 1h, got %v", cfg.Dedupe.TTL)
	}
	if cfg.Dedupe.PurgeInterval != 10*time.Minute {
		t.Errorf("expected default purge interval 10m, got %v", cfg.Dedupe.PurgeInterval)
	}
	if cfg.Relay.BackoffInitial != 5*time.Second {
		t.Errorf("expected default backoff 5s, got %v", cfg.Relay.BackoffInitial)
	}
	if cfg.Transport.Type != "" {
		t.Errorf("expected no transport by default, got %q", cfg.Transport.Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected partial config to validate, got %v", err)
	}
}

func TestLoad_MissingConfigFileUsesEnvironment(t *testing.T) {
	t.Setenv("SES_RELAY_QUEUE_SQS_QUEUE_URL", "https://sqs.example.com/q")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Queue.SQSQueueURL != "https://sqs.example.com/q" {
		t.Errorf("expected queue URL from env, got %q", cfg.Queue.SQSQueueURL)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("queue: [unclosed"), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	if _, err := Load(tmpDir); err == nil {
		t.Error("expected error for invalid yaml, got nil")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(t.TempDir())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		cfg.Queue.SQSQueueURL = "https://sqs.example.com/q"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing queue url", func(c *Config) { c.Queue.SQSQueueURL = "" }, "sqs_queue_url"},
		{"max messages too large", func(c *Config) { c.Queue.MaxMessages = 11 }, "max_messages"},
		{"wait too long", func(c *Config) { c.Queue.WaitTimeSeconds = 30 }, "wait_time_seconds"},
		{"dead letter without url", func(c *Config) { c.Queue.DeadLetterPermanent = true }, "dlq_url"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "gcs" }, "storage.type"},
		{"local storage without path", func(c *Config) { c.Storage.Type = "local"; c.Storage.Path = "" }, "storage.path"},
		{"unknown transport", func(c *Config) { c.Transport.Type = "ses" }, "transport.type"},
		{"empty transport is allowed", func(c *Config) { c.Transport.Type = "" }, ""},
		{"unknown dedupe", func(c *Config) { c.Dedupe.Type = "memcached" }, "dedupe.type"},
		{"postgres without url", func(c *Config) { c.Dedupe.Type = "postgres" }, "database_url"},
		{"zero ttl", func(c *Config) { c.Dedupe.TTL = 0 }, "dedupe.ttl"},
		{"zero concurrency", func(c *Config) { c.Relay.Concurrency = 0 }, "concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

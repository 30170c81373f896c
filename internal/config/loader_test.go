package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// withSender appends a valid sender binding so validate() passes.
func withSender(cfg *Config) {
	cfg.Senders = []Sender{{
		SenderMSISDN: "96179374241",
		TenantID:     1,
		ChatbotID:    10,
		AgentID:      "ecla",
		BSPAPIKey:    "test-key",
	}}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Pipeline.DebounceWindow != 3*time.Second {
		t.Errorf("expected debounce 3s, got %v", cfg.Pipeline.DebounceWindow)
	}
	if cfg.Pipeline.MaxWorkers != 5 {
		t.Errorf("expected 5 workers, got %d", cfg.Pipeline.MaxWorkers)
	}
	if cfg.Pipeline.QueueCapacity != 1024 {
		t.Errorf("expected queue capacity 1024, got %d", cfg.Pipeline.QueueCapacity)
	}
	if cfg.BSP.Timeout != 30*time.Second {
		t.Errorf("expected transport timeout 30s, got %v", cfg.BSP.Timeout)
	}
	if cfg.Pipeline.AgentDeadline != 60*time.Second {
		t.Errorf("expected agent deadline 60s, got %v", cfg.Pipeline.AgentDeadline)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
pipeline:
  max_workers: 3
logging:
  level: "debug"
senders:
  - sender_msisdn: "96179374241"
    tenant_id: 1
    chatbot_id: 10
    agent_id: "ecla"
    bsp_api_key: "key-a"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Pipeline.MaxWorkers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Pipeline.MaxWorkers)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if len(cfg.Senders) != 1 || cfg.Senders[0].AgentID != "ecla" {
		t.Errorf("expected one sender with agent ecla, got %+v", cfg.Senders)
	}
	// Unchanged fields keep defaults
	if cfg.Pipeline.DebounceWindow != 3*time.Second {
		t.Errorf("expected default debounce, got %v", cfg.Pipeline.DebounceWindow)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("REPLYGRID_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("DEBOUNCE_SECONDS", "0.5")
	t.Setenv("MAX_WORKERS", "8")
	t.Setenv("TRANSPORT_TIMEOUT_SECONDS", "10")
	t.Setenv("SHOPIFY_WEBHOOK_SECRET", "shh")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Pipeline.DebounceWindow != 500*time.Millisecond {
		t.Errorf("expected debounce 500ms, got %v", cfg.Pipeline.DebounceWindow)
	}
	if cfg.Pipeline.MaxWorkers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Pipeline.MaxWorkers)
	}
	if cfg.BSP.Timeout != 10*time.Second {
		t.Errorf("expected transport timeout 10s, got %v", cfg.BSP.Timeout)
	}
	if cfg.Shopify.WebhookSecret != "shh" {
		t.Errorf("expected shopify secret set, got %q", cfg.Shopify.WebhookSecret)
	}
}

func TestSenderEnvBinding(t *testing.T) {
	cfg := Defaults()

	t.Setenv("SENDER_MSISDN", "9613451652")
	t.Setenv("TENANT_ID", "2")
	t.Setenv("CHATBOT_ID", "20")
	t.Setenv("AGENT_ID", "astro")
	t.Setenv("TENANT_BSP_API_KEY", "key-b")

	loadEnv(&cfg)

	if len(cfg.Senders) != 1 {
		t.Fatalf("expected 1 sender, got %d", len(cfg.Senders))
	}
	s := cfg.Senders[0]
	if s.SenderMSISDN != "9613451652" || s.TenantID != 2 || s.ChatbotID != 20 || s.AgentID != "astro" {
		t.Errorf("unexpected binding %+v", s)
	}
	if s.BSPAPIKey != "key-b" {
		t.Errorf("expected per-tenant key override, got %q", s.BSPAPIKey)
	}
}

func TestSenderEnvOverridesYAML(t *testing.T) {
	cfg := Defaults()
	cfg.Senders = []Sender{{
		SenderMSISDN: "9613451652",
		TenantID:     1,
		ChatbotID:    10,
		AgentID:      "ecla",
	}}

	t.Setenv("SENDER_MSISDN", "9613451652")
	t.Setenv("TENANT_ID", "2")
	t.Setenv("CHATBOT_ID", "20")
	t.Setenv("AGENT_ID", "astro")

	loadEnv(&cfg)

	if len(cfg.Senders) != 1 {
		t.Fatalf("expected env to replace the YAML binding, got %d senders", len(cfg.Senders))
	}
	if cfg.Senders[0].TenantID != 2 {
		t.Errorf("expected tenant 2 from env, got %d", cfg.Senders[0].TenantID)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "zero workers",
			modify: func(c *Config) { c.Pipeline.MaxWorkers = 0 },
			errMsg: "pipeline.max_workers must be >= 1",
		},
		{
			name:   "zero queue capacity",
			modify: func(c *Config) { c.Pipeline.QueueCapacity = 0 },
			errMsg: "pipeline.queue_capacity must be >= 1",
		},
		{
			name:   "coalesce span below window",
			modify: func(c *Config) { c.Pipeline.MaxCoalesceSpan = time.Second },
			errMsg: "pipeline.max_coalesce_span must be >= debounce_window",
		},
		{
			name:   "no senders",
			modify: func(c *Config) { c.Senders = nil },
			errMsg: "at least one sender binding is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			withSender(&cfg)
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDuplicateSender(t *testing.T) {
	cfg := Defaults()
	withSender(&cfg)
	cfg.Senders = append(cfg.Senders, cfg.Senders[0])
	err := validate(&cfg)
	if err == nil || !strings.Contains(err.Error(), "duplicate sender_msisdn") {
		t.Errorf("expected duplicate sender error, got %v", err)
	}
}

func TestValidateWorkersVsPool(t *testing.T) {
	cfg := Defaults()
	withSender(&cfg)
	cfg.Pipeline.MaxWorkers = 20
	cfg.Postgres.MaxConns = 15
	err := validate(&cfg)
	if err == nil || !strings.Contains(err.Error(), "postgres connections") {
		t.Errorf("expected worker/pool reservation error, got %v", err)
	}
}

func TestValidateWithSender(t *testing.T) {
	cfg := Defaults()
	withSender(&cfg)
	if err := validate(&cfg); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	// Unset flags remain nil
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	_, err := ParseFlags([]string{"--unknown-flag"})
	if err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	// CLI flags must win over ENV.
	t.Setenv("REPLYGRID_PORT", "7070")
	t.Setenv("SENDER_MSISDN", "96179374241")
	t.Setenv("TENANT_ID", "1")
	t.Setenv("CHATBOT_ID", "10")
	t.Setenv("AGENT_ID", "ecla")
	t.Setenv("BSP_API_KEY", "key-a")

	flags, err := ParseFlags([]string{"--port", "3333"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
}

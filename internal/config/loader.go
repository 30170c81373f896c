package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "replygrid.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "REPLYGRID_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "REPLYGRID_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "REPLYGRID_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "REPLYGRID_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "REPLYGRID_PG_MAX_CONN_IDLE_TIME")

	setString(&cfg.BSP.BaseURL, "BSP_BASE_URL")
	setString(&cfg.BSP.APIKey, "BSP_API_KEY")
	setSeconds(&cfg.BSP.Timeout, "TRANSPORT_TIMEOUT_SECONDS")
	setInt(&cfg.BSP.MaxRetries, "TRANSPORT_MAX_RETRIES")

	setSeconds(&cfg.Pipeline.DebounceWindow, "DEBOUNCE_SECONDS")
	setSeconds(&cfg.Pipeline.MaxCoalesceSpan, "MAX_COALESCE_SPAN_SECONDS")
	setInt(&cfg.Pipeline.MaxWorkers, "MAX_WORKERS")
	setInt(&cfg.Pipeline.QueueCapacity, "QUEUE_CAPACITY")
	setSeconds(&cfg.Pipeline.AgentDeadline, "AGENT_DEADLINE_SECONDS")
	setSeconds(&cfg.Pipeline.ShutdownBudget, "SHUTDOWN_BUDGET_SECONDS")

	setString(&cfg.Shopify.WebhookSecret, "SHOPIFY_WEBHOOK_SECRET")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Idempotency.Bucket, "REPLYGRID_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "REPLYGRID_IDEMPOTENCY_TTL")

	setString(&cfg.Logging.Level, "REPLYGRID_LOG_LEVEL")
	setString(&cfg.Logging.Service, "REPLYGRID_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "REPLYGRID_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "REPLYGRID_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "REPLYGRID_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "REPLYGRID_RATE_RPS")
	setInt(&cfg.Rate.Burst, "REPLYGRID_RATE_BURST")

	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	setBool(&cfg.Features.MultiTenant, "ENABLE_MULTI_TENANT")
	setBool(&cfg.Features.UsageTracking, "ENABLE_USAGE_TRACKING")
	setBool(&cfg.Features.ActionsCenter, "ENABLE_ACTIONS_CENTER")
	setBool(&cfg.Features.RouteByDestination, "ROUTE_BY_DESTINATION")

	loadSenderEnv(cfg)
}

// loadSenderEnv appends a single sender binding described by flat env
// variables. Multi-tenant deployments declare bindings in YAML; the flat
// form covers one-tenant setups and container overrides.
func loadSenderEnv(cfg *Config) {
	msisdn := os.Getenv("SENDER_MSISDN")
	if msisdn == "" {
		return
	}
	s := Sender{SenderMSISDN: msisdn}
	if v := os.Getenv("TENANT_ID"); v != "" {
		s.TenantID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := os.Getenv("CHATBOT_ID"); v != "" {
		s.ChatbotID, _ = strconv.ParseInt(v, 10, 64)
	}
	s.AgentID = os.Getenv("AGENT_ID")
	s.BSPBaseURL = os.Getenv("TENANT_BSP_BASE_URL")
	s.BSPAPIKey = os.Getenv("TENANT_BSP_API_KEY")

	// Env overrides a YAML binding for the same number.
	for i := range cfg.Senders {
		if cfg.Senders[i].SenderMSISDN == msisdn {
			cfg.Senders[i] = s
			return
		}
	}
	cfg.Senders = append(cfg.Senders, s)
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Pipeline.MaxWorkers < 1 {
		return errors.New("pipeline.max_workers must be >= 1")
	}
	if cfg.Pipeline.QueueCapacity < 1 {
		return errors.New("pipeline.queue_capacity must be >= 1")
	}
	if cfg.Pipeline.MaxCoalesceSpan < cfg.Pipeline.DebounceWindow {
		return errors.New("pipeline.max_coalesce_span must be >= debounce_window")
	}
	// Workers share the pool with ingress handlers; keep a reservation.
	if int32(cfg.Pipeline.MaxWorkers) > cfg.Postgres.MaxConns-2 {
		return fmt.Errorf("pipeline.max_workers (%d) must leave at least 2 of %d postgres connections for ingress",
			cfg.Pipeline.MaxWorkers, cfg.Postgres.MaxConns)
	}
	if len(cfg.Senders) == 0 {
		return errors.New("at least one sender binding is required")
	}
	seen := make(map[string]bool, len(cfg.Senders))
	for i, s := range cfg.Senders {
		if s.SenderMSISDN == "" {
			return fmt.Errorf("senders[%d]: sender_msisdn is required", i)
		}
		if seen[s.SenderMSISDN] {
			return fmt.Errorf("senders[%d]: duplicate sender_msisdn %s", i, s.SenderMSISDN)
		}
		seen[s.SenderMSISDN] = true
		if s.TenantID == 0 || s.ChatbotID == 0 {
			return fmt.Errorf("senders[%d]: tenant_id and chatbot_id are required", i)
		}
		if s.AgentID == "" {
			return fmt.Errorf("senders[%d]: agent_id is required", i)
		}
		if s.BSPAPIKey == "" && cfg.BSP.APIKey == "" {
			return fmt.Errorf("senders[%d]: no bsp_api_key and no default BSP_API_KEY", i)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// setSeconds parses a bare number of seconds. Fractions are allowed so the
// debounce window can be set below one second in tests.
func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			*dst = time.Duration(f * float64(time.Second))
		}
	}
}

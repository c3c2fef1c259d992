package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "STOREFRONT_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		Env      string `koanf:"env"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		RequestTimeout  time.Duration `koanf:"request_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
		CORSOrigins     []string      `koanf:"cors_origins"`
		AdminKeys       []string      `koanf:"admin_keys"`
	} `koanf:"http"`

	Mongo struct {
		URI      string `koanf:"uri"`
		Database string `koanf:"database"`
	} `koanf:"mongo"`

	Catalog struct {
		Driver string `koanf:"driver"`
		DSN    string `koanf:"dsn"`
		Seed   bool   `koanf:"seed"`
	} `koanf:"catalog"`

	Coupons struct {
		Seed bool `koanf:"seed"`
	} `koanf:"coupons"`

	Redis struct {
		Addr           string        `koanf:"addr"`
		Password       string        `koanf:"password"`
		DB             int           `koanf:"db"`
		CartTTL        time.Duration `koanf:"cart_ttl"`
		IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
	} `koanf:"redis"`

	Kafka struct {
		Enabled             bool     `koanf:"enabled"`
		Brokers             []string `koanf:"brokers"`
		NotificationsTopic  string   `koanf:"notifications_topic"`
		PaymentResultsTopic string   `koanf:"payment_results_topic"`
		GroupID             string   `koanf:"group_id"`
	} `koanf:"kafka"`

	Payment struct {
		SuccessRate int           `koanf:"success_rate"`
		Latency     time.Duration `koanf:"latency"`
		Timeout     time.Duration `koanf:"timeout"`
		Breaker     struct {
			MaxFailures      uint32        `koanf:"max_failures"`
			OpenTimeout      time.Duration `koanf:"open_timeout"`
			HalfOpenRequests uint32        `koanf:"half_open_requests"`
		} `koanf:"breaker"`
	} `koanf:"payment"`

	Checkout struct {
		Currency string `koanf:"currency"`
	} `koanf:"checkout"`
}

// Load reads <pathDir>/base.yaml, then the optional <pathDir>/<envName>.yaml,
// then STOREFRONT_ environment variables with "__" separating nested keys,
// e.g. STOREFRONT_REDIS__ADDR or STOREFRONT_PAYMENT__BREAKER__MAX_FAILURES.
func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	if envName != "" {
		// missing overlays are fine for local runs
		_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if cfg.App.Env == "" {
		cfg.App.Env = envName
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	if c.Mongo.URI == "" || c.Mongo.Database == "" {
		return fmt.Errorf("mongo.uri and mongo.database required")
	}
	switch c.Catalog.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog.dsn required for driver %q", c.Catalog.Driver)
		}
	default:
		return fmt.Errorf("catalog.driver must be memory, sqlite or postgres, got %q", c.Catalog.Driver)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers required when kafka.enabled")
		}
		if c.Kafka.NotificationsTopic == "" {
			return fmt.Errorf("kafka.notifications_topic required when kafka.enabled")
		}
	}
	if c.Payment.SuccessRate < 0 || c.Payment.SuccessRate > 100 {
		return fmt.Errorf("payment.success_rate must be within [0, 100]")
	}
	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("payment.timeout must be positive")
	}
	if len(c.Checkout.Currency) != 3 {
		return fmt.Errorf("checkout.currency must be an ISO 4217 code")
	}
	return nil
}

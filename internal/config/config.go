package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/PratikDhanave/record-ingestion-service/internal/validate"
)

// Backend names.
const (
	BackendFS       = "fs"
	BackendGCS      = "gcs"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendLog      = "log"
	BackendPubSub   = "pubsub"
)

// Config contains runtime configuration required by the service.
type Config struct {
	HTTPAddr string            `yaml:"http_addr"`
	APIKeys  map[string]string `yaml:"api_keys"` // apiKey -> caller identity
	LogLevel string            `yaml:"log_level"`

	StoreBackend string `yaml:"store_backend"`
	StoreDir     string `yaml:"store_dir"`
	GCSBucket    string `yaml:"gcs_raw_bucket"`
	GCPProjectID string `yaml:"gcp_project_id"`

	LedgerBackend  string        `yaml:"ledger_backend"`
	DBURL          string        `yaml:"db_url"`
	SQLitePath     string        `yaml:"sqlite_path"`
	ReservationTTL time.Duration `yaml:"reservation_ttl"`

	PublisherBackend string        `yaml:"publisher_backend"`
	PubSubTopic      string        `yaml:"pubsub_topic"`
	PublishTimeout   time.Duration `yaml:"publish_timeout"`

	MaxTransactions int           `yaml:"max_transactions"`
	MaxApplications int           `yaml:"max_applications"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	MaxAmount       string        `yaml:"max_amount"`
	MaxFutureSkew   time.Duration `yaml:"max_future_skew"`
	Workers         int           `yaml:"workers"`

	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileBatch    int           `yaml:"reconcile_batch"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_backend", BackendFS)
	v.SetDefault("store_dir", "./data/raw")
	v.SetDefault("ledger_backend", BackendSQLite)
	v.SetDefault("sqlite_path", "./data/ledger.db")
	v.SetDefault("reservation_ttl", "2m")
	v.SetDefault("publisher_backend", BackendLog)
	v.SetDefault("publish_timeout", "10s")
	v.SetDefault("max_transactions", 10000)
	v.SetDefault("max_applications", 1000)
	v.SetDefault("max_body_bytes", 32<<20)
	v.SetDefault("max_amount", "1000000000")
	v.SetDefault("max_future_skew", "24h")
	v.SetDefault("workers", 8)
	v.SetDefault("reconcile_interval", "0s")
	v.SetDefault("reconcile_batch", 500)
}

// Load reads configuration from environment variables and, when path or
// CONFIG_FILE is set, a YAML file. Environment variables win.
// API_KEYS format: "caller1:key1,caller2:key2". A YAML file may instead
// give api_keys as a mapping of caller to one key or a list of keys.
func Load(path string) (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	apiKeys, err := loadAPIKeys(v.Get("api_keys"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPAddr:          v.GetString("http_addr"),
		APIKeys:           apiKeys,
		LogLevel:          v.GetString("log_level"),
		StoreBackend:      strings.ToLower(v.GetString("store_backend")),
		StoreDir:          v.GetString("store_dir"),
		GCSBucket:         v.GetString("gcs_raw_bucket"),
		GCPProjectID:      v.GetString("gcp_project_id"),
		LedgerBackend:     strings.ToLower(v.GetString("ledger_backend")),
		DBURL:             strings.TrimSpace(v.GetString("db_url")),
		SQLitePath:        v.GetString("sqlite_path"),
		ReservationTTL:    v.GetDuration("reservation_ttl"),
		PublisherBackend:  strings.ToLower(v.GetString("publisher_backend")),
		PubSubTopic:       v.GetString("pubsub_topic"),
		PublishTimeout:    v.GetDuration("publish_timeout"),
		MaxTransactions:   v.GetInt("max_transactions"),
		MaxApplications:   v.GetInt("max_applications"),
		MaxBodyBytes:      v.GetInt64("max_body_bytes"),
		MaxAmount:         v.GetString("max_amount"),
		MaxFutureSkew:     v.GetDuration("max_future_skew"),
		Workers:           v.GetInt("workers"),
		ReconcileInterval: v.GetDuration("reconcile_interval"),
		ReconcileBatch:    v.GetInt("reconcile_batch"),
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) check() error {
	switch c.StoreBackend {
	case BackendFS, BackendMemory:
	case BackendGCS:
		if c.GCSBucket == "" {
			return errors.New("GCS_RAW_BUCKET required for gcs store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.LedgerBackend {
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.DBURL == "" {
			return errors.New("DB_URL required")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}

	switch c.PublisherBackend {
	case BackendLog, BackendMemory:
	case BackendPubSub:
		if c.PubSubTopic == "" {
			return errors.New("PUBSUB_TOPIC required for pubsub publisher")
		}
	default:
		return fmt.Errorf("unknown PUBLISHER_BACKEND %q", c.PublisherBackend)
	}

	if c.MaxTransactions <= 0 || c.MaxApplications <= 0 {
		return errors.New("MAX_TRANSACTIONS and MAX_APPLICATIONS must be positive")
	}
	if _, err := decimal.NewFromString(c.MaxAmount); err != nil {
		return fmt.Errorf("MAX_AMOUNT: %w", err)
	}
	return nil
}

// Limits converts the validation settings.
func (c Config) Limits() validate.Limits {
	l := validate.DefaultLimits()
	l.MaxTransactions = c.MaxTransactions
	l.MaxApplications = c.MaxApplications
	if d, err := decimal.NewFromString(c.MaxAmount); err == nil {
		l.MaxAmount = d
	}
	if c.MaxFutureSkew > 0 {
		l.MaxFutureSkew = c.MaxFutureSkew
	}
	return l
}

// Redacted returns a copy safe to print. Its APIKeys map each caller to
// its masked keys.
func (c Config) Redacted() Config {
	out := c
	byCaller := map[string][]string{}
	for key, caller := range c.APIKeys {
		masked := "****"
		if len(key) > 4 {
			masked += key[len(key)-4:]
		}
		byCaller[caller] = append(byCaller[caller], masked)
	}
	out.APIKeys = make(map[string]string, len(byCaller))
	for caller, masked := range byCaller {
		sort.Strings(masked)
		out.APIKeys[caller] = strings.Join(masked, ", ")
	}
	if c.DBURL != "" {
		out.DBURL = "****"
	}
	return out
}

func loadAPIKeys(raw any) (map[string]string, error) {
	switch val := raw.(type) {
	case nil:
		return map[string]string{}, nil
	case string:
		return parseAPIKeys(strings.TrimSpace(val))
	case map[string]any:
		apiKeys := make(map[string]string, len(val))
		for caller, keys := range val {
			caller = strings.TrimSpace(caller)
			if caller == "" {
				return nil, errors.New("api_keys: empty caller")
			}
			var list []any
			switch k := keys.(type) {
			case string:
				list = []any{k}
			case []any:
				list = k
			default:
				return nil, fmt.Errorf("api_keys.%s: want a key or a list of keys", caller)
			}
			for _, item := range list {
				key, ok := item.(string)
				if key = strings.TrimSpace(key); !ok || key == "" {
					return nil, fmt.Errorf("api_keys.%s: keys must be non-empty strings", caller)
				}
				apiKeys[key] = caller
			}
		}
		return apiKeys, nil
	default:
		return nil, fmt.Errorf("api_keys: unsupported type %T", raw)
	}
}

func parseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}
	if raw == "" {
		return apiKeys, nil
	}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "caller:key,caller:key"`)
		}
		caller := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if caller == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "caller:key,caller:key"`)
		}
		apiKeys[key] = caller
	}
	return apiKeys, nil
}

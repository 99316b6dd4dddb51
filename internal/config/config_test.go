package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"CONFIG_FILE", "HTTP_ADDR", "API_KEYS", "LOG_LEVEL",
	"STORE_BACKEND", "STORE_DIR", "GCS_RAW_BUCKET", "GCP_PROJECT_ID",
	"LEDGER_BACKEND", "DB_URL", "SQLITE_PATH", "RESERVATION_TTL",
	"PUBLISHER_BACKEND", "PUBSUB_TOPIC", "PUBLISH_TIMEOUT",
	"MAX_TRANSACTIONS", "MAX_APPLICATIONS", "MAX_BODY_BYTES", "MAX_AMOUNT", "MAX_FUTURE_SKEW",
	"WORKERS", "RECONCILE_INTERVAL", "RECONCILE_BATCH",
}

// clearEnv blanks every variable Load reads; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.StoreBackend != BackendFS || cfg.LedgerBackend != BackendSQLite || cfg.PublisherBackend != BackendLog {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ReservationTTL != 2*time.Minute || cfg.PublishTimeout != 10*time.Second {
		t.Fatalf("durations %v %v", cfg.ReservationTTL, cfg.PublishTimeout)
	}
	if cfg.MaxTransactions != 10000 || cfg.MaxApplications != 1000 || cfg.Workers != 8 {
		t.Fatalf("limits %+v", cfg)
	}
	if len(cfg.APIKeys) != 0 {
		t.Fatalf("api keys %v", cfg.APIKeys)
	}
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEYS", "svc-a:key-1, svc-b:key-2")
	t.Setenv("LEDGER_BACKEND", "Postgres")
	t.Setenv("DB_URL", "postgres://u:p@localhost/db")
	t.Setenv("MAX_TRANSACTIONS", "50")
	t.Setenv("RESERVATION_TTL", "45s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKeys["key-1"] != "svc-a" || cfg.APIKeys["key-2"] != "svc-b" {
		t.Fatalf("api keys %v", cfg.APIKeys)
	}
	if cfg.LedgerBackend != BackendPostgres || cfg.MaxTransactions != 50 || cfg.ReservationTTL != 45*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Limits().MaxTransactions != 50 {
		t.Fatalf("limits not carried over: %+v", cfg.Limits())
	}
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ingest.yaml")
	yaml := "store_backend: memory\nworkers: 3\nmax_amount: \"5000\"\nreconcile_interval: 30s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WORKERS", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreBackend != BackendMemory || cfg.ReconcileInterval != 30*time.Second {
		t.Fatalf("file values not read: %+v", cfg)
	}
	if cfg.Workers != 5 {
		t.Fatalf("env did not override file: workers=%d", cfg.Workers)
	}
	if got := cfg.Limits().MaxAmount.String(); got != "5000" {
		t.Fatalf("max amount %s", got)
	}
}

func TestLoad_ConfigFileFromEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ingest.yaml")
	if err := os.WriteFile(path, []byte("publisher_backend: memory\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PublisherBackend != BackendMemory {
		t.Fatalf("CONFIG_FILE not read: %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"postgres without url", map[string]string{"LEDGER_BACKEND": "postgres"}, "DB_URL"},
		{"gcs without bucket", map[string]string{"STORE_BACKEND": "gcs"}, "GCS_RAW_BUCKET"},
		{"pubsub without topic", map[string]string{"PUBLISHER_BACKEND": "pubsub"}, "PUBSUB_TOPIC"},
		{"unknown store", map[string]string{"STORE_BACKEND": "s3"}, "STORE_BACKEND"},
		{"unknown ledger", map[string]string{"LEDGER_BACKEND": "redis"}, "LEDGER_BACKEND"},
		{"bad api keys", map[string]string{"API_KEYS": "just-a-key"}, "API_KEYS"},
		{"bad max amount", map[string]string{"MAX_AMOUNT": "lots"}, "MAX_AMOUNT"},
		{"zero batch size", map[string]string{"MAX_APPLICATIONS": "-1"}, "MAX_APPLICATIONS"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing config file accepted")
	}
}

func TestLoad_APIKeysMappingInFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ingest.yaml")
	yaml := "api_keys:\n  core-banking: key-core-123\n  card-processor:\n    - key-cards-456\n    - key-cards-789\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := map[string]string{
		"key-core-123":  "core-banking",
		"key-cards-456": "card-processor",
		"key-cards-789": "card-processor",
	}
	if len(cfg.APIKeys) != len(want) {
		t.Fatalf("api keys %v", cfg.APIKeys)
	}
	for key, caller := range want {
		if cfg.APIKeys[key] != caller {
			t.Fatalf("key %s: got caller %q, want %q", key, cfg.APIKeys[key], caller)
		}
	}
}

func TestLoad_APIKeysInvalidShapeInFile(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"list", "api_keys:\n  - key-1\n"},
		{"number value", "api_keys:\n  svc-a: 42\n"},
		{"empty key in list", "api_keys:\n  svc-a:\n    - \"\"\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "ingest.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "api_keys") {
				t.Fatalf("expected api_keys error, got %v", err)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{
		APIKeys: map[string]string{
			"secret-key-9876": "svc-a",
			"other-key-9876":  "svc-c",
			"abc":             "svc-b",
			"xyz":             "svc-d",
			"rotated-1111":    "svc-a",
		},
		DBURL: "postgres://u:p@host/db",
	}

	out := cfg.Redacted()

	if out.DBURL != "****" {
		t.Fatalf("db url leaked: %q", out.DBURL)
	}
	want := map[string]string{
		"svc-a": "****1111, ****9876",
		"svc-b": "****",
		"svc-c": "****9876",
		"svc-d": "****",
	}
	if len(out.APIKeys) != len(want) {
		t.Fatalf("callers hidden: %v", out.APIKeys)
	}
	for caller, masked := range want {
		if out.APIKeys[caller] != masked {
			t.Fatalf("caller %s: got %q, want %q", caller, out.APIKeys[caller], masked)
		}
	}
	if cfg.APIKeys["secret-key-9876"] != "svc-a" {
		t.Fatal("redaction mutated the original")
	}
}

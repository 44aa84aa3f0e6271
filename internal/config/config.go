package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/developingchet/http-sink/internal/sink"
	"github.com/developingchet/http-sink/internal/statuscode"
)

// HeaderPrefix scopes custom request headers in the flattened property map.
const HeaderPrefix = "sink_header."

// Config holds all runtime configuration.
type Config struct {
	// Endpoint and submission
	URL          string  `koanf:"sink_url"`
	InsertMethod string  `koanf:"sink_insert_method"`
	Mode         string  `koanf:"sink_mode"`
	BatchSize    int     `koanf:"sink_batch_size"`
	TimeoutSecs  int     `koanf:"sink_timeout_seconds"`
	WorkerCount  int     `koanf:"sink_worker_count"`
	WorkerBuffer int     `koanf:"sink_worker_buffer"`
	RateLimit    float64 `koanf:"sink_rate_limit"`
	RateBurst    int     `koanf:"sink_rate_burst"`
	Callback     string  `koanf:"sink_callback"`

	// Outcome classification
	ErrorCodes         string `koanf:"sink_error_codes"`
	ErrorCodeWhitelist string `koanf:"sink_error_code_whitelist"`

	// Body encryption
	EncryptionMode      string `koanf:"sink_encryption_mode"`
	EncryptionPublicKey string `koanf:"sink_encryption_public_key"`
	EncryptionAppID     string `koanf:"sink_encryption_app_id"`

	// TLS
	AllowSelfSigned    bool   `koanf:"tls_allow_self_signed"`
	ServerTrustedCerts string `koanf:"tls_server_trusted_certs"`
	ClientCert         string `koanf:"tls_client_cert"`
	ClientPrivateKey   string `koanf:"tls_client_private_key"`
	KeyStorePath       string `koanf:"tls_keystore_path"`
	KeyStorePassword   string `koanf:"tls_keystore_password"`

	// Operational
	FlushMaxRecords int           `koanf:"flush_max_records"`
	FlushInterval   time.Duration `koanf:"flush_interval"`
	DataDir         string        `koanf:"data_dir"` // "" = no spool
	JanitorInterval time.Duration `koanf:"janitor_interval"`
	MetricsAddr     string        `koanf:"metrics_addr"` // "" = disabled
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`

	// Properties is every loaded key flattened with "." and stringified.
	Properties map[string]string `koanf:"-"`
}

// defaults is the lowest-priority layer.
var defaults = map[string]any{
	"sink_url":                  "",
	"sink_insert_method":        "POST",
	"sink_mode":                 "batch",
	"sink_batch_size":           500,
	"sink_timeout_seconds":      30,
	"sink_worker_count":         1,
	"sink_worker_buffer":        1024,
	"sink_rate_limit":           0,
	"sink_rate_burst":           1,
	"sink_callback":             "log",
	"sink_error_codes":          "",
	"sink_error_code_whitelist": "",
	"sink_encryption_mode":      "plain",
	"sink_encryption_app_id":    "CG001",
	"tls_allow_self_signed":     false,
	"flush_max_records":         500,
	"flush_interval":            time.Second,
	"data_dir":                  "",
	"janitor_interval":          time.Minute,
	"metrics_addr":              ":9090",
	"log_level":                 "info",
	"log_format":                "json",
}

// secretKeys may also be supplied through <KEY>_FILE.
var secretKeys = []string{
	"SINK_ENCRYPTION_PUBLIC_KEY",
	"TLS_KEYSTORE_PASSWORD",
}

// Load reads configuration from (lowest → highest priority):
//  1. Built-in defaults
//  2. YAML file at CONFIG_FILE env var path (if set)
//  3. Environment variables (always highest priority)
//
// Every failure is a *sink.ConfigurationError.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults.
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, configErr(fmt.Errorf("load defaults: %w", err))
	}

	// Layer 2: optional YAML file.
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, configErr(fmt.Errorf("load file %s: %w", cfgFile, err))
		}
	}

	// Layer 3: environment variables.
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, configErr(fmt.Errorf("load env: %w", err))
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, configErr(fmt.Errorf("unmarshal: %w", err))
	}

	// Normalise string fields.
	cfg.InsertMethod = strings.ToUpper(strings.TrimSpace(cfg.InsertMethod))
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Callback = strings.ToLower(strings.TrimSpace(cfg.Callback))
	cfg.EncryptionMode = strings.ToLower(strings.TrimSpace(cfg.EncryptionMode))
	cfg.LogLevel = strings.TrimSpace(strings.ToLower(cfg.LogLevel))
	cfg.LogFormat = strings.TrimSpace(strings.ToLower(cfg.LogFormat))

	// Docker-secrets style: <KEY>_FILE is read only when <KEY> is unset.
	if v, ok := readSecretFile("SINK_ENCRYPTION_PUBLIC_KEY"); ok {
		cfg.EncryptionPublicKey = v
	}
	if v, ok := readSecretFile("TLS_KEYSTORE_PASSWORD"); ok {
		cfg.KeyStorePassword = v
	}

	cfg.Properties = make(map[string]string, len(k.Keys()))
	for _, key := range k.Keys() {
		cfg.Properties[key] = k.String(key)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envKey maps an environment variable name to a config key:
// "SINK_BATCH_SIZE" → "sink_batch_size" and
// "SINK_HEADER_X_API_KEY" → "sink_header.x-api-key".
func envKey(s string) string {
	for _, secret := range secretKeys {
		if s == secret+"_FILE" {
			return ""
		}
	}
	lower := strings.ToLower(s)
	envHeaderPrefix := strings.ReplaceAll(HeaderPrefix, ".", "_")
	if lower+"_" == envHeaderPrefix {
		return ""
	}
	if strings.HasPrefix(lower, envHeaderPrefix) {
		name := lower[len(envHeaderPrefix):]
		if name == "" {
			return ""
		}
		return HeaderPrefix + strings.ReplaceAll(name, "_", "-")
	}
	if strings.Contains(lower, ".") {
		return ""
	}
	return lower
}

func readSecretFile(key string) (string, bool) {
	if os.Getenv(key) != "" {
		return "", false
	}
	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", false
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

// Timeout returns the per-call timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// TrustedCerts splits tls_server_trusted_certs on commas.
func (c *Config) TrustedCerts() []string {
	var out []string
	for _, p := range strings.Split(c.ServerTrustedCerts, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	var errs []string

	if c.URL == "" {
		errs = append(errs, "SINK_URL is required (e.g., https://collector.example.com/ingest)")
	} else if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "SINK_URL must be an absolute http or https URL")
	}
	if c.InsertMethod != "POST" && c.InsertMethod != "PUT" {
		errs = append(errs, "SINK_INSERT_METHOD must be POST or PUT")
	}
	if c.Mode != "batch" && c.Mode != "single" {
		errs = append(errs, "SINK_MODE must be batch or single")
	}
	if c.BatchSize < 1 {
		errs = append(errs, "SINK_BATCH_SIZE must be greater than 0")
	}
	if c.TimeoutSecs < 1 {
		errs = append(errs, "SINK_TIMEOUT_SECONDS must be at least 1")
	}
	if c.WorkerCount < 1 || c.WorkerCount > 256 {
		errs = append(errs, "SINK_WORKER_COUNT must be between 1 and 256")
	}
	if c.WorkerBuffer < 1 {
		errs = append(errs, "SINK_WORKER_BUFFER must be at least 1")
	}
	if c.RateLimit < 0 {
		errs = append(errs, "SINK_RATE_LIMIT must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, "SINK_RATE_BURST must be at least 1 when SINK_RATE_LIMIT is set")
	}
	if c.Callback != "log" && c.Callback != "none" {
		errs = append(errs, "SINK_CALLBACK must be log or none")
	}
	if _, err := statuscode.ParseList(c.ErrorCodes); err != nil {
		errs = append(errs, "SINK_ERROR_CODES: "+err.Error())
	}
	if _, err := statuscode.ParseList(c.ErrorCodeWhitelist); err != nil {
		errs = append(errs, "SINK_ERROR_CODE_WHITELIST: "+err.Error())
	}

	switch c.EncryptionMode {
	case "plain":
	case "xsyk":
		if strings.TrimSpace(c.EncryptionPublicKey) == "" {
			errs = append(errs, "SINK_ENCRYPTION_PUBLIC_KEY is required when SINK_ENCRYPTION_MODE=xsyk")
		}
	default:
		errs = append(errs, "SINK_ENCRYPTION_MODE must be plain or xsyk")
	}

	if c.KeyStorePath != "" && c.KeyStorePassword == "" {
		errs = append(errs, "TLS_KEYSTORE_PASSWORD is required when TLS_KEYSTORE_PATH is set")
	}
	if (c.ClientCert == "") != (c.ClientPrivateKey == "") {
		errs = append(errs, "TLS_CLIENT_CERT and TLS_CLIENT_PRIVATE_KEY must be set together")
	}

	if c.FlushMaxRecords < 1 {
		errs = append(errs, "FLUSH_MAX_RECORDS must be at least 1")
	}
	if c.FlushInterval < 10*time.Millisecond {
		errs = append(errs, "FLUSH_INTERVAL must be at least 10ms")
	}
	if c.JanitorInterval < time.Second {
		errs = append(errs, "JANITOR_INTERVAL must be at least 1s")
	}

	// DataDir path sanitisation: reject traversal sequences and null bytes.
	if strings.Contains(c.DataDir, "..") {
		errs = append(errs, `DATA_DIR must not contain ".." (directory traversal)`)
	}
	if strings.ContainsRune(c.DataDir, 0) {
		errs = append(errs, "DATA_DIR must not contain null bytes")
	}

	if len(errs) > 0 {
		return configErr(fmt.Errorf("%d configuration error(s):\n  - %s", len(errs), strings.Join(errs, "\n  - ")))
	}
	return nil
}

func configErr(err error) error {
	var cfgErr *sink.ConfigurationError
	if errors.As(err, &cfgErr) {
		return err
	}
	return &sink.ConfigurationError{Err: err}
}

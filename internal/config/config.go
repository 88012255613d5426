package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ingestd/internal/fetch"
)

type StreamMode string

const (
	StreamModeNone      StreamMode = ""
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	HardcodedVersion    string     = "0.3.0"
)

type StorageBackend string

const (
	BackendLocal    StorageBackend = "local"
	BackendExternal StorageBackend = "external"
)

type Config struct {
	InstanceID              string
	Hostname                string
	HTTPAddr                string
	Version                 string
	LogJSON                 bool
	LogLevel                string
	JobsDir                 string
	StorageBackend          StorageBackend
	SQLitePath              string
	CacheTTL                time.Duration
	CacheMaxEntries         int
	RetentionDays           int
	CleanupInterval         time.Duration
	MetadataRefreshInterval time.Duration
	DispatchBuffer          int
	ShutdownTimeout         time.Duration
	ReconnectInterval       time.Duration
	MaxReconnectJitter      time.Duration
	TimescaleURL            string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	StateDefaultTTL         time.Duration
	HTTP                    fetch.Config

	ForwardMode           StreamMode
	ForwardGRPCAddr       string
	ForwardWSURL          string
	ForwardToken          string
	ForwardQueueSize      int
	ForwardTimeout        time.Duration
	GRPCMetricsMethod     string
	GRPCStateMethod       string
	WebSocketWriteTimeout time.Duration
	WebSocketPingInterval time.Duration
	TLSEnabled            bool
	TLSSkipVerify         bool
	TLSCAPath             string
	TLSCertPath           string
	TLSKeyPath            string
}

func Load() (Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		InstanceID:              env("INGESTD_INSTANCE_ID", hostname),
		Hostname:                hostname,
		HTTPAddr:                env("INGESTD_HTTP_ADDR", "127.0.0.1:8080"),
		Version:                 HardcodedVersion,
		LogJSON:                 envBool("INGESTD_LOG_JSON", false),
		LogLevel:                strings.ToLower(env("INGESTD_LOG_LEVEL", "info")),
		JobsDir:                 env("INGESTD_JOBS_DIR", ""),
		StorageBackend:          StorageBackend(strings.ToLower(env("INGESTD_STORAGE_BACKEND", string(BackendLocal)))),
		SQLitePath:              env("INGESTD_SQLITE_PATH", "data/metrics.db"),
		CacheTTL:                envDuration("INGESTD_CACHE_TTL", 15*time.Minute),
		CacheMaxEntries:         envInt("INGESTD_CACHE_MAX_ENTRIES", 100_000),
		RetentionDays:           envInt("INGESTD_RETENTION_DAYS", 365),
		CleanupInterval:         envDuration("INGESTD_CLEANUP_INTERVAL", time.Hour),
		MetadataRefreshInterval: envDuration("INGESTD_METADATA_REFRESH_INTERVAL", 5*time.Minute),
		DispatchBuffer:          envInt("INGESTD_DISPATCH_BUFFER", 1024),
		ShutdownTimeout:         envDuration("INGESTD_SHUTDOWN_TIMEOUT", 20*time.Second),
		ReconnectInterval:       envDuration("INGESTD_RECONNECT_INTERVAL", 4*time.Second),
		MaxReconnectJitter:      envDuration("INGESTD_RECONNECT_MAX_JITTER", 900*time.Millisecond),
		TimescaleURL:            env("INGESTD_TIMESCALE_URL", ""),
		RedisAddr:               env("INGESTD_REDIS_ADDR", ""),
		RedisPassword:           env("INGESTD_REDIS_PASSWORD", ""),
		RedisDB:                 envInt("INGESTD_REDIS_DB", 0),
		StateDefaultTTL:         envDuration("INGESTD_STATE_DEFAULT_TTL", 15*time.Minute),
		HTTP:                    httpConfig("INGESTD_HTTP_", defaultHTTP()),

		ForwardMode:           StreamMode(strings.ToLower(env("INGESTD_FORWARD_MODE", ""))),
		ForwardGRPCAddr:       env("INGESTD_FORWARD_GRPC_ADDR", ""),
		ForwardWSURL:          env("INGESTD_FORWARD_WS_URL", ""),
		ForwardToken:          env("INGESTD_FORWARD_TOKEN", ""),
		ForwardQueueSize:      envInt("INGESTD_FORWARD_QUEUE_SIZE", 256),
		ForwardTimeout:        envDuration("INGESTD_FORWARD_TIMEOUT", 10*time.Second),
		GRPCMetricsMethod:     env("INGESTD_FORWARD_GRPC_METRICS_METHOD", "/ingestd.v1.Ingest/StreamMetrics"),
		GRPCStateMethod:       env("INGESTD_FORWARD_GRPC_STATE_METHOD", "/ingestd.v1.Ingest/StreamState"),
		WebSocketWriteTimeout: envDuration("INGESTD_FORWARD_WS_WRITE_TIMEOUT", 5*time.Second),
		WebSocketPingInterval: envDuration("INGESTD_FORWARD_WS_PING_INTERVAL", 10*time.Second),
		TLSEnabled:            envBool("INGESTD_FORWARD_TLS_ENABLED", false),
		TLSSkipVerify:         envBool("INGESTD_FORWARD_TLS_SKIP_VERIFY", false),
		TLSCAPath:             env("INGESTD_FORWARD_TLS_CA_PATH", ""),
		TLSCertPath:           env("INGESTD_FORWARD_TLS_CERT_PATH", ""),
		TLSKeyPath:            env("INGESTD_FORWARD_TLS_KEY_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.InstanceID == "" {
		return errors.New("INGESTD_INSTANCE_ID is required")
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("INGESTD_HTTP_ADDR is required")
	}
	switch c.StorageBackend {
	case BackendLocal:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("INGESTD_SQLITE_PATH is required for local storage")
		}
	case BackendExternal:
		if c.TimescaleURL == "" {
			return errors.New("INGESTD_TIMESCALE_URL is required for external storage")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.StorageBackend)
	}
	if c.CacheTTL <= 0 || c.CacheMaxEntries <= 0 {
		return errors.New("cache ttl and max entries must be > 0")
	}
	if c.RetentionDays <= 0 {
		return errors.New("INGESTD_RETENTION_DAYS must be > 0")
	}
	if c.CleanupInterval <= 0 || c.MetadataRefreshInterval <= 0 {
		return errors.New("maintenance intervals must be > 0")
	}
	if c.DispatchBuffer <= 0 {
		return errors.New("INGESTD_DISPATCH_BUFFER must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("INGESTD_SHUTDOWN_TIMEOUT must be > 0")
	}
	switch c.ForwardMode {
	case StreamModeNone:
	case StreamModeGRPC:
		if c.ForwardGRPCAddr == "" {
			return errors.New("INGESTD_FORWARD_GRPC_ADDR is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCMetricsMethod) == "" || strings.TrimSpace(c.GRPCStateMethod) == "" {
			return errors.New("grpc stream methods are required for grpc mode")
		}
	case StreamModeWebSocket:
		if c.ForwardWSURL == "" {
			return errors.New("INGESTD_FORWARD_WS_URL is required for websocket mode")
		}
	default:
		return fmt.Errorf("unsupported forward mode %q", c.ForwardMode)
	}
	if c.ForwardMode != StreamModeNone && (c.ForwardQueueSize <= 0 || c.ForwardTimeout <= 0) {
		return errors.New("INGESTD_FORWARD_QUEUE_SIZE and INGESTD_FORWARD_TIMEOUT must be > 0")
	}
	return nil
}

// HTTPClient returns the fetch settings for one data source, with INGESTD_<SOURCE>_HTTP_* overrides
// applied over the global defaults.
func (c Config) HTTPClient(source string) fetch.Config {
	return httpConfig("INGESTD_"+envName(source)+"_HTTP_", c.HTTP)
}

// BaseURL returns the INGESTD_<SOURCE>_BASE_URL override, or "" to use the source default.
func (c Config) BaseURL(source string) string {
	return env("INGESTD_"+envName(source)+"_BASE_URL", "")
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func defaultHTTP() fetch.Config {
	d := fetch.DefaultConfig()
	d.UserAgent = "ingestd/" + HardcodedVersion
	return d
}

func httpConfig(prefix string, base fetch.Config) fetch.Config {
	return fetch.Config{
		Timeout:             envDuration(prefix+"TIMEOUT", base.Timeout),
		ConnectTimeout:      envDuration(prefix+"CONNECT_TIMEOUT", base.ConnectTimeout),
		MaxRetries:          envInt(prefix+"MAX_RETRIES", base.MaxRetries),
		MinRetryInterval:    envDuration(prefix+"MIN_RETRY_INTERVAL", base.MinRetryInterval),
		MaxRetryInterval:    envDuration(prefix+"MAX_RETRY_INTERVAL", base.MaxRetryInterval),
		MaxIdleConnsPerHost: envInt(prefix+"MAX_IDLE_PER_HOST", base.MaxIdleConnsPerHost),
		IdleConnTimeout:     base.IdleConnTimeout,
		UserAgent:           env(prefix+"USER_AGENT", base.UserAgent),
	}
}

func envName(source string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(source))
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

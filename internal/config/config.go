package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port        string
	BridgePort  string
	ReadTimeout time.Duration
	// WriteTimeout also bounds slow clients on the landing path.
	WriteTimeout   time.Duration
	RequestTimeout time.Duration

	DatabaseURL   string
	RedisURL      string
	ClickHouseDSN string

	IPDBPathV4  string
	IPDBPathV6  string
	IPCacheSize int
	IPCacheTTL  time.Duration

	TemplatePath string
	SiteName     string

	AllowCountries []string
	DatacenterISPs []string

	ClickQueueSize    int
	ClickWorkers      int
	ClickDrainTimeout time.Duration

	TrustProxyHeaders bool
	TrustedProxies    []string

	RateLimitEnabled   bool
	RateLimitPerMinute int

	ServiceName string
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// defaultDatacenterISPs are substrings matched case-insensitively against the
// ISP string returned by the range database. A hit marks traffic as
// non-human for counting purposes.
var defaultDatacenterISPs = []string{
	"google", "amazon", "aws", "microsoft", "azure", "cloudflare",
	"ovh", "digitalocean", "linode", "hetzner", "vultr", "oracle",
	"alibaba", "tencent", "leaseweb", "choopa", "m247", "datacamp",
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "3001")
	cfg.BridgePort = getenv("BRIDGE_PORT", "3002")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.RequestTimeout = envDuration("REQUEST_TIMEOUT", 2*time.Second)

	// MONGO_URI is accepted as a DSN alias so manifests written for the
	// previous deployment keep working.
	cfg.DatabaseURL = getenv("DATABASE_URL", os.Getenv("MONGO_URI"))
	cfg.RedisURL = getenv("REDIS_URL", "")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")

	cfg.IPDBPathV4 = getenv("IP_DB_PATH_V4", "data/ip-ranges-v4.mmdb")
	cfg.IPDBPathV6 = getenv("IP_DB_PATH_V6", "data/ip-ranges-v6.mmdb")
	cfg.IPCacheSize = envInt("IP_CACHE_SIZE", 65536)
	cfg.IPCacheTTL = envDuration("IP_CACHE_TTL", 5*time.Minute)

	cfg.TemplatePath = getenv("TEMPLATE_PATH", "static/landing.html")
	cfg.SiteName = getenv("SITE_NAME", "affbridge")

	cfg.AllowCountries = envList("ALLOW_COUNTRIES", []string{"VN"})
	cfg.DatacenterISPs = envList("DATACENTER_ISPS", defaultDatacenterISPs)

	cfg.ClickQueueSize = envInt("CLICK_QUEUE_SIZE", 10000)
	cfg.ClickWorkers = envInt("CLICK_WORKERS", 4)
	cfg.ClickDrainTimeout = envDuration("CLICK_DRAIN_TIMEOUT", 10*time.Second)

	cfg.TrustProxyHeaders = envBool("TRUST_PROXY_HEADERS", false)
	cfg.TrustedProxies = envList("TRUSTED_PROXIES", nil)

	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", false)
	cfg.RateLimitPerMinute = envInt("RATE_LIMIT_PER_MINUTE", 10)

	cfg.ServiceName = getenv("SERVICE_NAME", "affbridge")

	// Database connection pooling configuration
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.OTLPEndpoint = getenv("OTLP_ENDPOINT", "localhost:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

// envList parses a comma-separated environment variable into a slice,
// trimming whitespace and dropping empty entries. When unset, def is returned.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisPrefix       string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string
	InstanceID        string
	// NodeAPIToken, when set, is required as a bearer token on agent endpoints.
	NodeAPIToken string

	// Cache lifetimes.
	TokenTTL          time.Duration
	RuntimeTTL        time.Duration
	CounterTTL        time.Duration
	StrikeTTL         time.Duration
	RoundRobinTTL     time.Duration
	DeviceTTL         time.Duration
	PrincipalCacheTTL time.Duration
	BandwidthWindow   time.Duration
	PresenceOffline   time.Duration
	RawReportsMax     int

	// Agent cadence returned at registration.
	ConfigPollInterval    time.Duration
	UsersPollInterval     time.Duration
	TrafficReportInterval time.Duration
	StatusReportInterval  time.Duration
	AlivePollInterval     time.Duration

	// Scheduled jobs.
	HealthInterval      time.Duration
	AggregationInterval time.Duration
	RetentionInterval   time.Duration
	BucketSize          time.Duration
	BucketRetention     time.Duration
	HistoryRetention    time.Duration
	DefaultNodeTimeout  time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getInt("REDIS_DB", 0),
		RedisPrefix:       getEnv("REDIS_PREFIX", "relayfleet"),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9100"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", "fleet-api"),
		InstanceID:        getEnv("INSTANCE_ID", hostname()),
		NodeAPIToken:      getEnv("NODE_API_TOKEN", ""),

		TokenTTL:          getDuration("TOKEN_TTL", 5*time.Minute),
		RuntimeTTL:        getDuration("RUNTIME_TTL", 5*time.Minute),
		CounterTTL:        getDuration("COUNTER_TTL", time.Hour),
		StrikeTTL:         getDuration("STRIKE_TTL", 10*time.Minute),
		RoundRobinTTL:     getDuration("ROUND_ROBIN_TTL", 24*time.Hour),
		DeviceTTL:         getDuration("DEVICE_TTL", 5*time.Minute),
		PrincipalCacheTTL: getDuration("PRINCIPAL_CACHE_TTL", 30*time.Second),
		BandwidthWindow:   getDuration("BANDWIDTH_WINDOW", 5*time.Minute),
		PresenceOffline:   getDuration("PRESENCE_OFFLINE_THRESHOLD", 3*time.Minute),
		RawReportsMax:     getInt("RAW_REPORTS_MAX", 500),

		ConfigPollInterval:    getDuration("CONFIG_POLL_INTERVAL", 60*time.Second),
		UsersPollInterval:     getDuration("USERS_POLL_INTERVAL", 60*time.Second),
		TrafficReportInterval: getDuration("TRAFFIC_REPORT_INTERVAL", 60*time.Second),
		StatusReportInterval:  getDuration("STATUS_REPORT_INTERVAL", 30*time.Second),
		AlivePollInterval:     getDuration("ALIVE_POLL_INTERVAL", 60*time.Second),

		HealthInterval:      getDuration("HEALTH_INTERVAL", 30*time.Second),
		AggregationInterval: getDuration("AGGREGATION_INTERVAL", 60*time.Second),
		RetentionInterval:   getDuration("RETENTION_INTERVAL", time.Hour),
		BucketSize:          getDuration("BUCKET_SIZE", time.Minute),
		BucketRetention:     getDuration("BUCKET_RETENTION", 7*24*time.Hour),
		HistoryRetention:    getDuration("HISTORY_RETENTION", 90*24*time.Hour),
		DefaultNodeTimeout:  getDuration("DEFAULT_NODE_TIMEOUT", 90*time.Second),
	}

	return cfg, nil
}

// Validate checks the fields the named service needs at startup.
func (c *Config) Validate(service string) error {
	var missing []string
	switch service {
	case "fleet-api":
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if c.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
		if c.HTTPListenAddr == "" {
			missing = append(missing, "HTTP_LISTEN_ADDR")
		}
	case "migrate":
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown service %q", service)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if c.AggregationInterval >= c.CounterTTL {
		return fmt.Errorf("AGGREGATION_INTERVAL (%s) must be shorter than COUNTER_TTL (%s)", c.AggregationInterval, c.CounterTTL)
	}
	if c.BucketSize <= 0 {
		return fmt.Errorf("BUCKET_SIZE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
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

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

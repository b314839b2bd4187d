package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/joho/godotenv"
)

const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
	DriverScylla = "scylla"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env                string
	HTTPAddr           string
	StoreDriver        string
	ChatStore          string
	MongoURI           string
	MongoDB            string
	MongoTransactions  bool
	Scylla             ScyllaConfig
	KafkaBrokers       []string
	KafkaTopicPrefix   string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration
	RedisURL           string
	JWTSecret          string
	JWTTTL             time.Duration
	AllowedOrigins     []string
	AllowedEmailDomain string
	RequireProfile     bool
	DevLogin           bool
	MessageRate        RateRule
	ListingRate        RateRule
	WSAuthTimeout      time.Duration
	ListingFixtures    string
}

type ScyllaConfig struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Consistency       gocql.Consistency
	Timeout           time.Duration
	ReplicationFactor int
}

type RateRule struct {
	Limit  int
	Window time.Duration
}

// IsDev reports whether the process runs in a developer environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}

// LoadDotEnv preloads variables from files such as .env. Missing files are ignored and
// variables already set in the environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:                getEnv("APP_ENV", "dev"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":4000"),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		MongoURI:           os.Getenv("MONGO_URI"),
		MongoDB:            getEnv("MONGO_DB", "findit"),
		KafkaBrokers:       splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicPrefix:   getEnv("KAFKA_TOPIC_PREFIX", ""),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AllowedOrigins:     splitAndTrim(getEnv("API_ORIGIN", "http://localhost:5173")),
		AllowedEmailDomain: strings.TrimSpace(os.Getenv("ALLOWED_EMAIL_DOMAIN")),
		ListingFixtures:    strings.TrimSpace(os.Getenv("LISTING_FIXTURES")),
		Scylla: ScyllaConfig{
			Hosts:    splitAndTrim(getEnv("SCYLLA_HOSTS", "localhost")),
			Keyspace: strings.TrimSpace(getEnv("SCYLLA_KEYSPACE", "findit_chat")),
			Username: strings.TrimSpace(os.Getenv("SCYLLA_USERNAME")),
			Password: strings.TrimSpace(os.Getenv("SCYLLA_PASSWORD")),
		},
	}
	cfg.ChatStore = strings.ToLower(getEnv("CHAT_STORE", cfg.StoreDriver))

	var err error
	if cfg.MongoTransactions, err = parseBoolEnv("MONGO_TRANSACTIONS", false); err != nil {
		return Config{}, err
	}
	if cfg.RequireProfile, err = parseBoolEnv("REQUIRE_PROFILE_COMPLETE", true); err != nil {
		return Config{}, err
	}
	if cfg.DevLogin, err = parseBoolEnv("DEV_LOGIN", cfg.IsDev()); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.JWTTTL, err = parseDurationEnv("JWT_TTL", 168*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.WSAuthTimeout, err = parseDurationEnv("WS_AUTH_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MessageRate, err = parseRule("MESSAGE_RATE", 3, time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ListingRate, err = parseRule("LISTING_RATE", 1, 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RetryBackoff, err = parseBackoff(getEnv("RETRY_BACKOFF", "1s,5s,30s")); err != nil {
		return Config{}, err
	}
	if cfg.Scylla.Timeout, err = parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Scylla.Consistency, err = parseConsistency(getEnv("SCYLLA_CONSISTENCY", "quorum")); err != nil {
		return Config{}, err
	}
	if cfg.Scylla.ReplicationFactor, err = parseIntEnv("SCYLLA_REPLICATION_FACTOR", 1); err != nil {
		return Config{}, err
	}
	if cfg.Scylla.ReplicationFactor < 1 {
		cfg.Scylla.ReplicationFactor = 1
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverMongo:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	switch c.ChatStore {
	case DriverMemory, DriverMongo, DriverScylla:
	default:
		return fmt.Errorf("unsupported CHAT_STORE: %s", c.ChatStore)
	}
	if (c.StoreDriver == DriverMongo || c.ChatStore == DriverMongo) && c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.ChatStore == DriverScylla {
		if c.Scylla.Keyspace == "" {
			return fmt.Errorf("SCYLLA_KEYSPACE is required")
		}
		if len(c.Scylla.Hosts) == 0 {
			return fmt.Errorf("SCYLLA_HOSTS is required")
		}
	}
	if strings.TrimSpace(c.JWTSecret) == "" && !c.IsDev() {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.DevLogin && strings.EqualFold(c.Env, "production") {
		return fmt.Errorf("DEV_LOGIN cannot be enabled in production")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return v, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}

// parseRule reads <prefix>_LIMIT and <prefix>_WINDOW. A zero limit disables the rule.
func parseRule(prefix string, limit int, window time.Duration) (RateRule, error) {
	l, err := parseIntEnv(prefix+"_LIMIT", limit)
	if err != nil {
		return RateRule{}, err
	}
	if l < 0 {
		return RateRule{}, fmt.Errorf("invalid %s_LIMIT: must not be negative", prefix)
	}
	w, err := parseDurationEnv(prefix+"_WINDOW", window)
	if err != nil {
		return RateRule{}, err
	}
	return RateRule{Limit: l, Window: w}, nil
}

func parseBackoff(raw string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", part, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseConsistency(raw string) (gocql.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "quorum":
		return gocql.Quorum, nil
	case "one":
		return gocql.One, nil
	case "local_quorum", "localquorum":
		return gocql.LocalQuorum, nil
	case "local_one":
		return gocql.LocalOne, nil
	case "all":
		return gocql.All, nil
	default:
		return gocql.Quorum, fmt.Errorf("unsupported SCYLLA_CONSISTENCY: %s", raw)
	}
}

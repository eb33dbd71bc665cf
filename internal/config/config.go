package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// NATS configuration
	NatsEnabled        bool
	NatsURL            string
	NatsRequestSubject string
	NatsOpenSubject    string
	NatsQueueGroup     string
	NatsTimeout        time.Duration

	// HTTP configuration
	HTTPEnabled    bool
	HTTPAddr       string
	PublicBaseURL  string
	TransferNumber string

	// Session storage
	RedisURL        string
	SessionTTL      time.Duration
	SessionCapacity int

	// Script configuration
	ScriptPath    string
	ScriptVariant string
	LoopThreshold int
	LoopAllow     []string
	SilenceLimit  int

	// Call log
	CallLogPath string

	// Service configuration
	ServiceName string
	LogLevel    string
	LogFormat   string
}

// Load reads configuration from the environment. Malformed numbers and
// durations are errors rather than silently defaulted.
func Load() (*Config, error) {
	l := &loader{}
	cfg := &Config{
		// NATS settings
		NatsEnabled:        l.boolean("NATS_ENABLED", true),
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NatsRequestSubject: getEnv("NATS_REQUEST_SUBJECT", "dialogue.turn"),
		NatsOpenSubject:    getEnv("NATS_OPEN_SUBJECT", "dialogue.open"),
		NatsQueueGroup:     getEnv("NATS_QUEUE_GROUP", "taxline"),
		NatsTimeout:        l.duration("NATS_TIMEOUT", 30*time.Second),

		// HTTP settings
		HTTPEnabled:    l.boolean("HTTP_ENABLED", true),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		TransferNumber: getEnv("TRANSFER_NUMBER", ""),

		// Session settings
		RedisURL:        getEnv("REDIS_URL", ""),
		SessionTTL:      l.duration("SESSION_TTL", 30*time.Minute),
		SessionCapacity: l.integer("SESSION_CAPACITY", 10000),

		// Script settings
		ScriptPath:    getEnv("SCRIPT_PATH", ""),
		ScriptVariant: getEnv("SCRIPT_VARIANT", "qualify_transfer"),
		LoopThreshold: l.integer("LOOP_THRESHOLD", 0),
		LoopAllow:     getListEnv("LOOP_ALLOW"),
		SilenceLimit:  l.integer("SILENCE_LIMIT", 0),

		CallLogPath: getEnv("CALL_LOG_PATH", ""),

		// Service settings
		ServiceName: getEnv("SERVICE_NAME", "taxline-intent"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
	}
	if l.err != nil {
		return nil, l.err
	}
	if cfg.SessionCapacity < 1 {
		return nil, fmt.Errorf("SESSION_CAPACITY must be positive, got %d", cfg.SessionCapacity)
	}
	if cfg.LoopThreshold < 0 || cfg.SilenceLimit < 0 {
		return nil, fmt.Errorf("LOOP_THRESHOLD and SILENCE_LIMIT must not be negative")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getListEnv splits a comma separated variable, dropping empty items.
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// loader keeps the first parse error so Load can report it once.
type loader struct {
	err error
}

func (l *loader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		l.fail(fmt.Errorf("invalid %s %q: %w", key, value, err))
		return defaultValue
	}
	return d
}

func (l *loader) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		l.fail(fmt.Errorf("invalid %s %q: %w", key, value, err))
		return defaultValue
	}
	return n
}

// boolean accepts true/1/yes/on and false/0/no/off.
func (l *loader) boolean(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	l.fail(fmt.Errorf("invalid %s %q: want a boolean", key, value))
	return defaultValue
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

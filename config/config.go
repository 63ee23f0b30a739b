package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultBlockedPatterns is the global denylist applied to every language.
var DefaultBlockedPatterns = []string{
	`require\s*\(\s*["']child_process["']`,
	`require\s*\(\s*["']fs["']`,
	`require\s*\(\s*["']net["']`,
	`require\s*\(\s*["']http["']`,
	`import\s+subprocess`,
	`import\s+os`,
	`import\s+sys`,
	`__import__`,
	`eval\s*\(`,
	`exec\s*\(`,
}

type Config struct {
	Port        string
	Environment string

	LogLevel  string
	LogFormat string
	LogFile   string

	NatsURL string
	// NatsMaxInFlight caps concurrent executions started from NATS requests.
	NatsMaxInFlight int

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	AllowedOrigins       []string

	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	// MaxMemoryBytes is reported in status output only. It is not enforced.
	MaxMemoryBytes int64
	MaxOutputSize  int

	MaxQueueSize    int
	QueueJobMaxAge  time.Duration
	CleanupInterval time.Duration
	InterJobDelay   time.Duration

	BlockedPatterns []string
	PythonCommand   string
	NodeCommand     string

	AuditDBPath string

	BetterStackUploadURL   string
	BetterStackSourceToken string
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := Config{
		Port:        getEnv("PORT", "5000"),
		Environment: getEnv("ENVIRONMENT", "production"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   getEnv("LOG_FILE", ""),

		NatsURL:         getEnv("NATSURL", ""),
		NatsMaxInFlight: intVar("NATS_MAX_INFLIGHT", 4),

		RateLimitWindow:      time.Duration(intVar("RATE_LIMIT_WINDOW_MS", 60000)) * time.Millisecond,
		RateLimitMaxRequests: intVar("RATE_LIMIT_MAX_REQUESTS", 10),
		AllowedOrigins:       splitList(getEnv("ALLOWED_ORIGINS", "*"), ","),

		DefaultTimeout: time.Duration(intVar("DEFAULT_TIMEOUT", 5000)) * time.Millisecond,
		MaxTimeout:     time.Duration(intVar("MAX_TIMEOUT", 10000)) * time.Millisecond,
		MaxMemoryBytes: int64(intVar("MAX_MEMORY_USAGE", 128*1024*1024)),
		MaxOutputSize:  intVar("MAX_OUTPUT_SIZE", 1024*1024),

		MaxQueueSize:    intVar("MAX_QUEUE_SIZE", 100),
		QueueJobMaxAge:  time.Duration(intVar("QUEUE_JOB_MAX_AGE_MS", 300000)) * time.Millisecond,
		CleanupInterval: time.Duration(intVar("QUEUE_CLEANUP_INTERVAL_MS", 60000)) * time.Millisecond,
		InterJobDelay:   100 * time.Millisecond,

		BlockedPatterns: DefaultBlockedPatterns,
		PythonCommand:   getEnv("PYTHON_BIN", "python3"),
		NodeCommand:     getEnv("NODE_BIN", "node"),

		AuditDBPath: getEnv("AUDIT_DB_PATH", ""),

		BetterStackUploadURL:   getEnv("BETTERSTACKUPLOADURL", ""),
		BetterStackSourceToken: getEnv("BETTERSTACKSOURCETOKEN", ""),
	}

	if raw := getEnv("BLOCKED_PATTERNS", ""); raw != "" {
		cfg.BlockedPatterns = splitList(raw, ";;")
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.DefaultTimeout <= 0:
		return fmt.Errorf("config: DEFAULT_TIMEOUT must be positive")
	case c.MaxTimeout < c.DefaultTimeout:
		return fmt.Errorf("config: MAX_TIMEOUT (%v) is below DEFAULT_TIMEOUT (%v)", c.MaxTimeout, c.DefaultTimeout)
	case c.MaxOutputSize <= 0:
		return fmt.Errorf("config: MAX_OUTPUT_SIZE must be positive")
	case c.MaxQueueSize <= 0:
		return fmt.Errorf("config: MAX_QUEUE_SIZE must be positive")
	case c.NatsMaxInFlight <= 0:
		return fmt.Errorf("config: NATS_MAX_INFLIGHT must be positive")
	case c.RateLimitMaxRequests <= 0 || c.RateLimitWindow <= 0:
		return fmt.Errorf("config: rate limit window and max requests must be positive")
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue, fmt.Errorf("%s: %q is not an integer", key, value)
		}
		return intVal, nil
	}
	return defaultValue, nil
}

func splitList(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the engine.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Calendar   CalendarConfig
	SLA        SLAConfig
	Escalation EscalationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	EventChannel string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token verification parameters.
type AuthConfig struct {
	JWTSecret string
}

// CalendarConfig describes the business calendar used for all working-time
// arithmetic. Hours are local wall-clock hours; weekdays use time.Weekday
// numbering (Sunday=0).
type CalendarConfig struct {
	StartHour   int
	EndHour     int
	WorkingDays []time.Weekday
	Holidays    []string // YYYY-MM-DD
}

// SLAConfig holds per-priority escalation thresholds and the priority
// ladder, all in working hours.
type SLAConfig struct {
	CriticalThresholdHours float64
	HighThresholdHours     float64
	MediumThresholdHours   float64
	LowThresholdHours      float64
	AtRiskFactor           float64

	// Priority ladder breakpoints: an issue's age promotes it to the
	// named priority once the breakpoint is reached.
	MediumAfterHours   float64
	HighAfterHours     float64
	CriticalAfterHours float64

	ReopenWindowHours float64
}

// EscalationConfig drives the reconciliation sweep and escalation routing.
type EscalationConfig struct {
	SweepInterval    time.Duration
	InitialDelay     time.Duration
	WorkerCount      int
	RuleCacheTTL     time.Duration
	DefaultRecipient string
	// Role-mapped targets per priority, used by the automatic sweep.
	TargetCritical string
	TargetHigh     string
	TargetMedium   string
	TargetLow      string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	workingDays, err := parseWeekdays(getEnv("CALENDAR_WORKING_DAYS", "1,2,3,4,5,6"))
	if err != nil {
		return nil, fmt.Errorf("invalid CALENDAR_WORKING_DAYS: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "grievance-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           redisDB,
			EventChannel: getEnv("REDIS_EVENT_CHANNEL", "grievance.events"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
		},
		Calendar: CalendarConfig{
			StartHour:   getEnvAsInt("CALENDAR_START_HOUR", 9),
			EndHour:     getEnvAsInt("CALENDAR_END_HOUR", 17),
			WorkingDays: workingDays,
			Holidays:    splitCSV(os.Getenv("CALENDAR_HOLIDAYS")),
		},
		SLA: SLAConfig{
			CriticalThresholdHours: getEnvAsFloat("SLA_CRITICAL_HOURS", 4),
			HighThresholdHours:     getEnvAsFloat("SLA_HIGH_HOURS", 24),
			MediumThresholdHours:   getEnvAsFloat("SLA_MEDIUM_HOURS", 48),
			LowThresholdHours:      getEnvAsFloat("SLA_LOW_HOURS", 72),
			AtRiskFactor:           getEnvAsFloat("SLA_AT_RISK_FACTOR", 0.8),
			MediumAfterHours:       getEnvAsFloat("PRIORITY_MEDIUM_AFTER_HOURS", 4),
			HighAfterHours:         getEnvAsFloat("PRIORITY_HIGH_AFTER_HOURS", 8),
			CriticalAfterHours:     getEnvAsFloat("PRIORITY_CRITICAL_AFTER_HOURS", 16),
			ReopenWindowHours:      getEnvAsFloat("REOPEN_WINDOW_HOURS", 24),
		},
		Escalation: EscalationConfig{
			SweepInterval:    getEnvAsDuration("SWEEP_INTERVAL", 15*time.Minute),
			InitialDelay:     getEnvAsDuration("SWEEP_INITIAL_DELAY", 5*time.Second),
			WorkerCount:      getEnvAsInt("SWEEP_WORKER_COUNT", 4),
			RuleCacheTTL:     getEnvAsDuration("ESCALATION_RULE_CACHE_TTL", 5*time.Minute),
			DefaultRecipient: getEnv("ESCALATION_DEFAULT_RECIPIENT", "role:hr_manager"),
			TargetCritical:   getEnv("ESCALATION_TARGET_CRITICAL", "role:hr_head"),
			TargetHigh:       getEnv("ESCALATION_TARGET_HIGH", "role:hr_manager"),
			TargetMedium:     getEnv("ESCALATION_TARGET_MEDIUM", "role:hr_manager"),
			TargetLow:        getEnv("ESCALATION_TARGET_LOW", ""),
		},
	}

	if cfg.Calendar.StartHour < 0 || cfg.Calendar.EndHour > 24 || cfg.Calendar.StartHour >= cfg.Calendar.EndHour {
		return nil, fmt.Errorf("invalid calendar window: %d-%d", cfg.Calendar.StartHour, cfg.Calendar.EndHour)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(val string) []string {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseWeekdays(val string) ([]time.Weekday, error) {
	parts := splitCSV(val)
	days := make([]time.Weekday, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > 6 {
			return nil, fmt.Errorf("weekday out of range: %d", n)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

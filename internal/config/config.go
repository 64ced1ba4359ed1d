package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "outletwatch.db"
	defaultOutletsFile    = "outlets.csv"
	defaultChecker        = "browser"
	defaultConcurrency    = 5
	defaultMaxAttempts    = 3
	defaultRetryDelay     = 5 * time.Second
	defaultMaxRuntime     = 25 * time.Minute
	defaultSafetyMargin   = 0.1
	defaultAttemptTimeout = 20 * time.Second
	defaultReportDir      = "."
	defaultSMTPPort       = 587

	envListenAddr     = "OUTLETWATCH_LISTEN_ADDR"
	envDBPath         = "OUTLETWATCH_DB_PATH"
	envLogLevel       = "OUTLETWATCH_LOG_LEVEL"
	envLogFormat      = "OUTLETWATCH_LOG_FORMAT"
	envLogFile        = "OUTLETWATCH_LOG_FILE"
	envOutletsFile    = "OUTLETWATCH_OUTLETS_FILE"
	envChecker        = "OUTLETWATCH_CHECKER"
	envConcurrency    = "OUTLETWATCH_CONCURRENCY"
	envMaxAttempts    = "OUTLETWATCH_MAX_ATTEMPTS"
	envRetryDelay     = "OUTLETWATCH_RETRY_DELAY"
	envMaxRuntime     = "OUTLETWATCH_MAX_RUNTIME"
	envSafetyMargin   = "OUTLETWATCH_SAFETY_MARGIN"
	envAttemptTimeout = "OUTLETWATCH_ATTEMPT_TIMEOUT"
	envSchedule       = "OUTLETWATCH_SCHEDULE"
	envReportDir      = "OUTLETWATCH_REPORT_DIR"
	envReportFormats  = "OUTLETWATCH_REPORT_FORMATS"
	envSMTPHost       = "OUTLETWATCH_SMTP_HOST"
	envSMTPPort       = "OUTLETWATCH_SMTP_PORT"
	envSMTPUser       = "OUTLETWATCH_SMTP_USER"
	envSMTPPassword   = "OUTLETWATCH_SMTP_PASSWORD"
	envEmailFrom      = "OUTLETWATCH_EMAIL_FROM"
	envEmailTo        = "OUTLETWATCH_EMAIL_TO"
	envWebhookURL     = "OUTLETWATCH_WEBHOOK_URL"
	envAPISecret      = "OUTLETWATCH_API_SECRET"
)

// Scheduling holds the orchestration limits for one batch.
type Scheduling struct {
	Concurrency    int
	MaxAttempts    int
	RetryDelay     time.Duration
	MaxRuntime     time.Duration
	SafetyMargin   float64
	AttemptTimeout time.Duration
}

// SMTP holds the email transport settings. Host empty disables email.
type SMTP struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
}

// Report holds report rendering and delivery settings.
type Report struct {
	Dir        string
	Formats    []string
	SMTP       SMTP
	WebhookURL string
}

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr  string
	DBPath      string
	LogLevel    slog.Level
	LogFormat   string
	LogFile     string
	OutletsFile string
	Checker     string
	Schedule    string
	APISecret   string
	Scheduling  Scheduling
	Report      Report
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first; variables already set
// in the environment take precedence over it.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:  defaultListenAddr,
		DBPath:      defaultDBPath,
		LogLevel:    slog.LevelInfo,
		LogFormat:   "json",
		OutletsFile: defaultOutletsFile,
		Checker:     defaultChecker,
		Scheduling: Scheduling{
			Concurrency:    defaultConcurrency,
			MaxAttempts:    defaultMaxAttempts,
			RetryDelay:     defaultRetryDelay,
			MaxRuntime:     defaultMaxRuntime,
			SafetyMargin:   defaultSafetyMargin,
			AttemptTimeout: defaultAttemptTimeout,
		},
		Report: Report{
			Dir:     defaultReportDir,
			Formats: []string{"xlsx"},
			SMTP:    SMTP{Port: defaultSMTPPort},
		},
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = ParseLogLevel(v)
	}
	if v := os.Getenv(envLogFormat); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	cfg.LogFile = os.Getenv(envLogFile)
	if v := os.Getenv(envOutletsFile); v != "" {
		cfg.OutletsFile = v
	}
	if v := os.Getenv(envChecker); v != "" {
		cfg.Checker = v
	}
	cfg.Schedule = os.Getenv(envSchedule)
	cfg.APISecret = os.Getenv(envAPISecret)

	var err error
	s := &cfg.Scheduling
	if s.Concurrency, err = intEnv(envConcurrency, s.Concurrency); err != nil {
		return Config{}, err
	}
	if s.MaxAttempts, err = intEnv(envMaxAttempts, s.MaxAttempts); err != nil {
		return Config{}, err
	}
	if s.RetryDelay, err = durationEnv(envRetryDelay, s.RetryDelay); err != nil {
		return Config{}, err
	}
	if s.MaxRuntime, err = durationEnv(envMaxRuntime, s.MaxRuntime); err != nil {
		return Config{}, err
	}
	if s.AttemptTimeout, err = durationEnv(envAttemptTimeout, s.AttemptTimeout); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(envSafetyMargin); v != "" {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil || f < 0 || f >= 1 {
			return Config{}, fmt.Errorf("%s: must be a fraction in [0, 1), got %q", envSafetyMargin, v)
		}
		s.SafetyMargin = f
	}

	r := &cfg.Report
	if v := os.Getenv(envReportDir); v != "" {
		r.Dir = v
	}
	if v := os.Getenv(envReportFormats); v != "" {
		r.Formats = splitList(v)
	}
	r.WebhookURL = os.Getenv(envWebhookURL)
	r.SMTP.Host = os.Getenv(envSMTPHost)
	if r.SMTP.Port, err = intEnv(envSMTPPort, r.SMTP.Port); err != nil {
		return Config{}, err
	}
	r.SMTP.User = os.Getenv(envSMTPUser)
	r.SMTP.Password = os.Getenv(envSMTPPassword)
	r.SMTP.From = os.Getenv(envEmailFrom)
	if v := os.Getenv(envEmailTo); v != "" {
		r.SMTP.To = splitList(v)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the scheduling limits.
func (c Config) Validate() error {
	s := c.Scheduling
	if s.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", s.Concurrency)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", s.MaxAttempts)
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s", s.RetryDelay)
	}
	if s.MaxRuntime <= 0 {
		return fmt.Errorf("max runtime must be positive, got %s", s.MaxRuntime)
	}
	if s.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive, got %s", s.AttemptTimeout)
	}
	for _, f := range c.Report.Formats {
		if f != "xlsx" && f != "csv" {
			return fmt.Errorf("unsupported report format %q", f)
		}
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

// durationEnv accepts Go durations ("90s", "25m") or a bare number of seconds.
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseLogLevel maps a level name to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger writing to w at the configured level.
// format "text" selects the text handler; anything else produces JSON.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// LogWriter returns stdout, or stdout teed into a rotated log file when
// LogFile is set. The returned closer releases the file.
func (c Config) LogWriter() (io.Writer, io.Closer) {
	if c.LogFile == "" {
		return os.Stdout, nopCloser{}
	}
	rotated := &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
	}
	return io.MultiWriter(os.Stdout, rotated), rotated
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

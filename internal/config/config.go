package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Mode      string
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// LaunchConfig holds activation and trigger loop timing.
type LaunchConfig struct {
	PollInterval         time.Duration
	StepTimeout          time.Duration
	ScheduledStepTimeout time.Duration
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Launch       LaunchConfig
	Notification NotificationConfig

	StateDir      string
	ProfilesPath  string
	HistoryKeep   int
	UseUTC        bool
	ShutdownGrace time.Duration
}

const (
	defaultMode          = "http"
	defaultAddr          = "127.0.0.1:7171"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultHistoryKeep   = 50
	defaultPollInterval  = 30 * time.Second
	defaultStepTimeout   = 15 * time.Second
	defaultShutdownGrace = 5 * time.Second
)

var validModes = []string{"http", "mcp", "both"}

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse reads configuration for the daemon from os.Args.
func Parse() (*Config, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs builds a Config from args, the environment and optional .env files.
// Priority: flags > environment > .env file > defaults.
func ParseArgs(args []string) (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "workswitch", ".env"))
	}
	for _, f := range envFiles {
		// godotenv.Load stops at the first missing file.
		_ = godotenv.Load(f)
	}

	cfg := &Config{
		Server: ServerConfig{
			Mode:      getEnvString("WORKSWITCH_MODE", defaultMode),
			Addr:      getEnvString("WORKSWITCH_ADDR", defaultAddr),
			AuthToken: getEnvString("WORKSWITCH_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnvString("WORKSWITCH_LOG_LEVEL", defaultLogLevel),
			Format: getEnvString("WORKSWITCH_LOG_FORMAT", defaultLogFormat),
		},
		Launch: LaunchConfig{
			PollInterval:         getEnvDuration("WORKSWITCH_POLL_INTERVAL", defaultPollInterval),
			StepTimeout:          getEnvDuration("WORKSWITCH_STEP_TIMEOUT", defaultStepTimeout),
			ScheduledStepTimeout: getEnvDuration("WORKSWITCH_SCHEDULED_STEP_TIMEOUT", 0),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("WORKSWITCH_BARK_URL", ""),
				Enabled: getEnvBool("WORKSWITCH_BARK_ENABLED", false),
			},
		},
		StateDir:      getEnvString("WORKSWITCH_STATE_DIR", ""),
		ProfilesPath:  getEnvString("WORKSWITCH_PROFILES", ""),
		HistoryKeep:   getEnvInt("WORKSWITCH_HISTORY_KEEP", defaultHistoryKeep),
		UseUTC:        getEnvBool("WORKSWITCH_USE_UTC", false),
		ShutdownGrace: getEnvDuration("WORKSWITCH_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	fs := flag.NewFlagSet("workswitchd", flag.ContinueOnError)
	var (
		mode, addr, logLevel, logFormat, stateDir, profiles string
		historyKeep                                         int
		useUTC                                              bool
		pollInterval, stepTimeout, scheduledStepTimeout     time.Duration
		shutdownGrace                                       time.Duration
	)
	fs.StringVar(&mode, "mode", "", "Serve mode: http, mcp or both")
	fs.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	fs.StringVar(&stateDir, "state-dir", "", "Directory for the history database and default profiles file")
	fs.StringVar(&profiles, "profiles", "", "Path to the profiles file (.json, .yaml or .toml)")
	fs.IntVar(&historyKeep, "history-keep", 0, "Number of activations to retain per profile")
	fs.DurationVar(&pollInterval, "poll-interval", 0, "Schedule poll interval")
	fs.DurationVar(&stepTimeout, "step-timeout", 0, "Per-step timeout for interactive activations")
	fs.DurationVar(&scheduledStepTimeout, "scheduled-step-timeout", 0, "Per-step timeout for scheduled and startup runs (0 disables)")
	fs.BoolVar(&useUTC, "use-utc", false, "Evaluate schedules in UTC instead of local time")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if mode != "" {
		cfg.Server.Mode = mode
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if profiles != "" {
		cfg.ProfilesPath = profiles
	}
	if historyKeep > 0 {
		cfg.HistoryKeep = historyKeep
	}
	if pollInterval > 0 {
		cfg.Launch.PollInterval = pollInterval
	}
	if stepTimeout > 0 {
		cfg.Launch.StepTimeout = stepTimeout
	}
	// Bool and zero-able flags only apply when explicitly set.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.UseUTC = useUTC
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		case "scheduled-step-timeout":
			cfg.Launch.ScheduledStepTimeout = scheduledStepTimeout
		}
	})

	if !contains(validModes, cfg.Server.Mode) {
		return nil, fmt.Errorf("invalid mode %q (valid: %s)", cfg.Server.Mode, strings.Join(validModes, ", "))
	}
	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.ProfilesPath == "" {
		cfg.ProfilesPath = filepath.Join(cfg.StateDir, "profiles.json")
	}
	if cfg.HistoryKeep < 1 {
		cfg.HistoryKeep = defaultHistoryKeep
	}
	if cfg.Launch.PollInterval <= 0 {
		cfg.Launch.PollInterval = defaultPollInterval
	}
	// Schedules match on HH:MM, so every minute needs at least one poll.
	if cfg.Launch.PollInterval >= time.Minute {
		return nil, fmt.Errorf("poll interval %s must be shorter than one minute", cfg.Launch.PollInterval)
	}
	if cfg.Launch.StepTimeout <= 0 {
		cfg.Launch.StepTimeout = defaultStepTimeout
	}
	if cfg.Launch.ScheduledStepTimeout < 0 {
		cfg.Launch.ScheduledStepTimeout = 0
	}
	return cfg, nil
}

// Location returns the time zone schedules are evaluated in.
func (c *Config) Location() *time.Location {
	if c.UseUTC {
		return time.UTC
	}
	return time.Local
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "workswitch")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

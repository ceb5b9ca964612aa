package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

// ErrConfigParse is returned when the TOML file cannot be decoded.
var ErrConfigParse = errors.New("failed to parse config")

// Config holds all runtime settings.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
	Browser   BrowserConfig   `toml:"browser"`
	Login     LoginConfig     `toml:"login"`
	Storage   StorageConfig   `toml:"storage"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr" validate:"required"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	MaxUploadBytes  int64    `toml:"max_upload_bytes" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `toml:"level" validate:"oneof=trace debug info warn error"`
	Format string `toml:"format" validate:"oneof=json console text"`
}

// BrowserConfig controls how a controllable browser is found or started.
type BrowserConfig struct {
	DebugPorts  []int    `toml:"debug_ports" validate:"dive,gt=0,lt=65536"`
	LaunchMode  string   `toml:"launch_mode" validate:"oneof=local container"`
	Bin         string   `toml:"bin"`
	Headless    bool     `toml:"headless"`
	Image       string   `toml:"image"`
	UserAgent   string   `toml:"user_agent" validate:"required"`
	ViewportW   int      `toml:"viewport_width" validate:"gt=0"`
	ViewportH   int      `toml:"viewport_height" validate:"gt=0"`
	NavTimeout  Duration `toml:"navigation_timeout"`
	IdleQuiet   Duration `toml:"network_idle"`
	CloseDelay  Duration `toml:"close_delay"`
	SettleDelay Duration `toml:"settle_delay"`
}

// LoginConfig holds the manual-login timings.
type LoginConfig struct {
	GracePeriod Duration `toml:"grace_period"`
	SessionTTL  Duration `toml:"session_ttl"`
	SettleDelay Duration `toml:"settle_delay"`
}

type StorageConfig struct {
	Dir            string   `toml:"dir" validate:"required"`
	LedgerPath     string   `toml:"ledger_path" validate:"required"`
	DownloadPurge  Duration `toml:"download_purge"`
	ArchivePurge   Duration `toml:"archive_purge"`
	Retention      Duration `toml:"retention"`
	SweepSchedule  string   `toml:"sweep_schedule"`
	DownloadPrefix string   `toml:"download_prefix" validate:"required,startswith=/"`
}

type RateLimitConfig struct {
	RequestsPerHour int `toml:"requests_per_hour" validate:"gte=0"`
	Burst           int `toml:"burst" validate:"gte=0"`
}

// Duration lets TOML files carry "20s" style values.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":3000",
			ReadTimeout:     Duration{30 * time.Second},
			WriteTimeout:    Duration{30 * time.Minute},
			ShutdownTimeout: Duration{10 * time.Second},
			MaxUploadBytes:  5 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Browser: BrowserConfig{
			DebugPorts:  []int{9222, 9223, 9224},
			LaunchMode:  "local",
			Image:       "browserless/chrome:latest",
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			ViewportW:   1366,
			ViewportH:   768,
			NavTimeout:  Duration{60 * time.Second},
			IdleQuiet:   Duration{500 * time.Millisecond},
			CloseDelay:  Duration{5 * time.Second},
			SettleDelay: Duration{5 * time.Second},
		},
		Login: LoginConfig{
			GracePeriod: Duration{20 * time.Second},
			SessionTTL:  Duration{10 * time.Minute},
			SettleDelay: Duration{3 * time.Second},
		},
		Storage: StorageConfig{
			Dir:            "./downloads",
			LedgerPath:     "./data/ledger.db",
			DownloadPurge:  Duration{time.Minute},
			ArchivePurge:   Duration{2 * time.Minute},
			Retention:      Duration{24 * time.Hour},
			SweepSchedule:  "@every 1h",
			DownloadPrefix: "/download/",
		},
		RateLimit: RateLimitConfig{RequestsPerHour: 100, Burst: 10},
	}
}

// Load builds the configuration in layers: defaults, TOML file, .env and
// W2P_* environment variables, then command-line flags.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("webpage2pdf", pflag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("W2P_CONFIG"), "path to a TOML config file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	storageDir := fs.String("storage-dir", "", "directory for rendered documents (overrides config)")
	launchMode := fs.String("launch-mode", "", "browser launch fallback: local or container")
	logLevel := fs.String("log-level", "", "trace, debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Missing .env is normal outside development
	_ = godotenv.Load()

	cfg := Default()

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *storageDir != "" {
		cfg.Storage.Dir = *storageDir
	}
	if *launchMode != "" {
		cfg.Browser.LaunchMode = *launchMode
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("W2P_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("W2P_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("W2P_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("W2P_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("W2P_LEDGER_PATH"); v != "" {
		cfg.Storage.LedgerPath = v
	}
	if v := os.Getenv("W2P_BROWSER_BIN"); v != "" {
		cfg.Browser.Bin = v
	}
	if v := os.Getenv("W2P_LAUNCH_MODE"); v != "" {
		cfg.Browser.LaunchMode = v
	}
	if v := os.Getenv("W2P_DEBUG_PORTS"); v != "" {
		ports, err := parsePorts(v)
		if err != nil {
			return fmt.Errorf("W2P_DEBUG_PORTS: %w", err)
		}
		cfg.Browser.DebugPorts = ports
	}
	if v := os.Getenv("W2P_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("W2P_HEADLESS: %w", err)
		}
		cfg.Browser.Headless = b
	}

	durations := map[string]*Duration{
		"W2P_LOGIN_GRACE":  &cfg.Login.GracePeriod,
		"W2P_SESSION_TTL":  &cfg.Login.SessionTTL,
		"W2P_SETTLE_DELAY": &cfg.Browser.SettleDelay,
		"W2P_LOGIN_SETTLE": &cfg.Login.SettleDelay,
		"W2P_RETENTION":    &cfg.Storage.Retention,
	}
	for name, dst := range durations {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// parsePorts reads a comma-separated port list such as "9222,9223".
func parsePorts(s string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, nil
}

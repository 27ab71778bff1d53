package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the bot. It is built once by Load and
// passed to whoever needs it.
type Config struct {
	TelegramToken string
	DatabasePath  string
	Timezone      string
	Location      *time.Location

	DispatchInterval time.Duration
	SummaryTime      string
	JobTimeout       time.Duration

	GraceWindow   time.Duration
	MissAfter     time.Duration
	MaxCatchUp    int
	SnoozeOptions []time.Duration

	AIAPIKey  string
	AIBaseURL string
	AIModel   string

	LogLevel slog.Level
}

// fileConfig is the YAML layout. Durations are strings like "30s" or "1h".
type fileConfig struct {
	TelegramToken    string   `yaml:"telegram_token"`
	DatabasePath     string   `yaml:"database_path"`
	Timezone         string   `yaml:"timezone"`
	DispatchInterval string   `yaml:"dispatch_interval"`
	SummaryTime      string   `yaml:"summary_time"`
	JobTimeout       string   `yaml:"job_timeout"`
	GraceWindow      string   `yaml:"grace_window"`
	MissAfter        string   `yaml:"miss_after"`
	MaxCatchUp       int      `yaml:"max_catch_up"`
	SnoozeOptions    []string `yaml:"snooze_options"`
	AI               struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"ai"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		DatabasePath:     "smart_calendar.db",
		Timezone:         "UTC",
		Location:         time.UTC,
		DispatchInterval: 30 * time.Second,
		SummaryTime:      "08:00",
		JobTimeout:       2 * time.Minute,
		GraceWindow:      15 * time.Minute,
		MissAfter:        6 * time.Hour,
		MaxCatchUp:       1000,
		SnoozeOptions: []time.Duration{
			5 * time.Minute, 10 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour,
		},
		AIBaseURL: "https://openrouter.ai/api/v1",
		AIModel:   "openai/gpt-4o-mini",
		LogLevel:  slog.LevelInfo,
	}
}

// Load reads configuration, lowest precedence first: defaults, the YAML file
// named by SMARTCAL_CONFIG, a .env file in the working directory, then the
// process environment.
func Load() (*Config, error) {
	dotenv, err := godotenv.Read()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	// .env file is optional
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(dotenv[key])
	}
	return load(lookup)
}

func load(lookup func(string) string) (*Config, error) {
	cfg := Default()

	if path := lookup("SMARTCAL_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if err := cfg.validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.TelegramToken, fc.TelegramToken)
	setString(&c.DatabasePath, fc.DatabasePath)
	setString(&c.Timezone, fc.Timezone)
	setString(&c.SummaryTime, fc.SummaryTime)
	setString(&c.AIAPIKey, fc.AI.APIKey)
	setString(&c.AIBaseURL, fc.AI.BaseURL)
	setString(&c.AIModel, fc.AI.Model)
	if fc.MaxCatchUp > 0 {
		c.MaxCatchUp = fc.MaxCatchUp
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"dispatch_interval", fc.DispatchInterval, &c.DispatchInterval},
		{"job_timeout", fc.JobTimeout, &c.JobTimeout},
		{"grace_window", fc.GraceWindow, &c.GraceWindow},
		{"miss_after", fc.MissAfter, &c.MissAfter},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.raw); err != nil {
			return fmt.Errorf("config %s: %w", d.name, err)
		}
	}
	if len(fc.SnoozeOptions) > 0 {
		opts, err := parseDurations(fc.SnoozeOptions)
		if err != nil {
			return fmt.Errorf("config snooze_options: %w", err)
		}
		c.SnoozeOptions = opts
	}
	if fc.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(fc.LogLevel)); err != nil {
			return fmt.Errorf("config log_level: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) string) error {
	setString(&c.TelegramToken, lookup("TELEGRAM_TOKEN"))
	setString(&c.DatabasePath, lookup("DATABASE_URL"))
	setString(&c.DatabasePath, lookup("DATABASE_PATH"))
	setString(&c.Timezone, lookup("TIMEZONE"))
	setString(&c.SummaryTime, lookup("SUMMARY_TIME"))
	setString(&c.AIAPIKey, lookup("AI_API_KEY"))
	setString(&c.AIBaseURL, lookup("AI_BASE_URL"))
	setString(&c.AIModel, lookup("AI_MODEL"))

	for key, dst := range map[string]*time.Duration{
		"DISPATCH_INTERVAL": &c.DispatchInterval,
		"JOB_TIMEOUT":       &c.JobTimeout,
		"GRACE_WINDOW":      &c.GraceWindow,
		"MISS_AFTER":        &c.MissAfter,
	} {
		if err := setDuration(dst, lookup(key)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if raw := lookup("MAX_CATCH_UP"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("MAX_CATCH_UP: %q is not a positive number", raw)
		}
		c.MaxCatchUp = n
	}
	if raw := lookup("SNOOZE_OPTIONS"); raw != "" {
		opts, err := parseDurations(strings.Split(raw, ","))
		if err != nil {
			return fmt.Errorf("SNOOZE_OPTIONS: %w", err)
		}
		c.SnoozeOptions = opts
	}
	if raw := lookup("LOG_LEVEL"); raw != "" {
		if err := c.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			return fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if _, err := time.Parse("15:04", c.SummaryTime); err != nil {
		return fmt.Errorf("summary time %q must be HH:MM", c.SummaryTime)
	}
	if c.DispatchInterval < time.Second {
		return fmt.Errorf("dispatch interval %s is below one second", c.DispatchInterval)
	}
	if c.GraceWindow > c.MissAfter {
		return fmt.Errorf("grace window %s exceeds miss-after %s", c.GraceWindow, c.MissAfter)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fmt.Errorf("%q is not a positive duration", raw)
	}
	*dst = d
	return nil
}

// parseDurations accepts "10m", "1h" or plain minutes ("15").
func parseDurations(raws []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(raws))
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if n, err := strconv.Atoi(raw); err == nil {
			raw = strconv.Itoa(n) + "m"
		}
		var d time.Duration
		if err := setDuration(&d, raw); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LogConfig selects log level and encoding.
type LogConfig struct {
	// Level is one of DEBUG, INFO, ERROR.
	Level string `yaml:"level" json:"level"`
	// Format is "json" (default) or "console".
	Format string `yaml:"format" json:"format"`
}

// StoreConfig selects the visit store backend.
type StoreConfig struct {
	// Driver is one of "memory", "postgres", "firestore".
	Driver string `yaml:"driver" json:"driver"`

	// DSN is the PostgreSQL connection string (driver=postgres).
	DSN string `yaml:"dsn,omitempty" json:"-"`
	// Migrate creates the visits table on startup (driver=postgres).
	Migrate bool `yaml:"migrate" json:"migrate"`

	// Firestore settings (driver=firestore).
	ProjectID       string `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`
	Collection      string `yaml:"collection,omitempty" json:"collection,omitempty"`
}

// RedisConfig enables the cross-instance dispatch lock and reminder ledger.
// Empty Addrs disables both.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs" json:"addrs"`
	Password string   `yaml:"password,omitempty" json:"-"`
	DB       int      `yaml:"db" json:"db"`
}

// ReminderConfig drives the reminder dispatcher.
type ReminderConfig struct {
	// Cron is a cron-style schedule (e.g. "*/10 * * * *") for in-process
	// dispatch. Empty disables the in-process schedule; external triggers
	// still work through the HTTP endpoint.
	Cron string `yaml:"cron" json:"cron"`

	// WindowMinutes is the default lookahead, clamped to [1, 1440].
	WindowMinutes int `yaml:"window_minutes" json:"window_minutes"`

	// SendEnabled is the sending gate.
	SendEnabled bool `yaml:"send_enabled" json:"send_enabled"`

	// Secret authorizes the dispatch endpoint.
	Secret string `yaml:"secret,omitempty" json:"-"`

	// SchedulerHeader, if non-empty, is a header whose presence marks a
	// trusted scheduler trigger (e.g. "X-Appengine-Cron").
	SchedulerHeader string `yaml:"scheduler_header,omitempty" json:"scheduler_header,omitempty"`

	SendTimeoutSeconds int    `yaml:"send_timeout_seconds" json:"send_timeout_seconds"`
	LockTTLSeconds     int    `yaml:"lock_ttl_seconds" json:"lock_ttl_seconds"`
	LockKey            string `yaml:"lock_key" json:"lock_key"`
	LedgerStream       string `yaml:"ledger_stream" json:"ledger_stream"`
}

// SenderConfig selects where reminders go.
type SenderConfig struct {
	// Kind is one of "log", "webhook", "sms".
	Kind       string   `yaml:"kind" json:"kind"`
	URL        string   `yaml:"url,omitempty" json:"-"`
	APIKey     string   `yaml:"api_key,omitempty" json:"-"`
	SenderName string   `yaml:"sender_name,omitempty" json:"sender_name,omitempty"`
	Recipients []string `yaml:"recipients,omitempty" json:"recipients,omitempty"`
}

// FeedConfig controls the calendar feed.
type FeedConfig struct {
	DefaultMonths int    `yaml:"default_months" json:"default_months"`
	CalendarName  string `yaml:"calendar_name" json:"calendar_name"`
	RollForward   bool   `yaml:"roll_forward" json:"roll_forward"`
}

// VisitsConfig controls the editing path.
type VisitsConfig struct {
	// ResetMarkerOnReschedule clears the reminder marker when an edit moves
	// the visit.
	ResetMarkerOnReschedule bool `yaml:"reset_marker_on_reschedule" json:"reset_marker_on_reschedule"`
}

// BasicAuthConfig protects the visit editing API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone the wall-clock visit fields are read in.
	Timezone string `yaml:"timezone" json:"timezone"`

	Log      LogConfig      `yaml:"log" json:"log"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Reminder ReminderConfig `yaml:"reminder" json:"reminder"`
	Sender   SenderConfig   `yaml:"sender" json:"sender"`
	Feed     FeedConfig     `yaml:"feed" json:"feed"`
	Visits   VisitsConfig   `yaml:"visits" json:"visits"`

	// BasicAuth, if non-nil, protects /api/visits.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Bangkok"
	}
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	switch c.Store.Driver {
	case "memory", "postgres", "firestore":
	default:
		c.Store.Driver = "memory"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "visits"
	}

	if c.Reminder.WindowMinutes <= 0 {
		c.Reminder.WindowMinutes = 60
	}
	if c.Reminder.WindowMinutes > 1440 {
		c.Reminder.WindowMinutes = 1440
	}
	if c.Reminder.SendTimeoutSeconds <= 0 {
		c.Reminder.SendTimeoutSeconds = 10
	}
	if c.Reminder.LockTTLSeconds <= 0 {
		c.Reminder.LockTTLSeconds = 120
	}
	if c.Reminder.LockKey == "" {
		c.Reminder.LockKey = "visitcal:reminder:lock"
	}
	if c.Reminder.LedgerStream == "" {
		c.Reminder.LedgerStream = "visitcal:reminders"
	}

	switch c.Sender.Kind {
	case "log", "webhook", "sms":
	default:
		c.Sender.Kind = "log"
	}
	if c.Sender.SenderName == "" {
		c.Sender.SenderName = "VISITCAL"
	}

	if c.Feed.DefaultMonths <= 0 {
		c.Feed.DefaultMonths = 3
	}
	if c.Feed.DefaultMonths > 36 {
		c.Feed.DefaultMonths = 36
	}
	if c.Feed.CalendarName == "" {
		c.Feed.CalendarName = "Doctor Visits"
	}
	if c.Redis.Addrs == nil {
		c.Redis.Addrs = []string{}
	}
}

// ApplyEnv overlays secrets and endpoints from the environment. A .env file
// in the working directory is loaded first if present.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("VISITCAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("VISITCAL_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("VISITCAL_DATABASE_URL"); v != "" {
		c.Store.DSN = v
		if c.Store.Driver == "memory" {
			c.Store.Driver = "postgres"
		}
	}
	if v := os.Getenv("VISITCAL_FIRESTORE_PROJECT"); v != "" {
		c.Store.ProjectID = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && c.Store.CredentialsFile == "" {
		c.Store.CredentialsFile = v
	}
	if v := os.Getenv("VISITCAL_REDIS_ADDR"); v != "" {
		c.Redis.Addrs = splitList(v)
	}
	if v := os.Getenv("VISITCAL_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("VISITCAL_REMINDER_SECRET"); v != "" {
		c.Reminder.Secret = v
	}
	if v := os.Getenv("VISITCAL_SEND_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Reminder.SendEnabled = b
		}
	}
	if v := os.Getenv("VISITCAL_WEBHOOK_URL"); v != "" {
		c.Sender.URL = v
		if c.Sender.Kind == "log" {
			c.Sender.Kind = "webhook"
		}
	}
	if v := os.Getenv("VISITCAL_SMS_API_KEY"); v != "" {
		c.Sender.APIKey = v
	}
	c.Normalize()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".visitcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Package config holds recite's configuration: a JSON file under the
// data directory with RECITE_* environment overrides layered on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	// DataDir is the root for all persisted scheduling state.
	DataDir string `json:"data_dir" env:"RECITE_DATA_DIR"`

	Review   ReviewConfig   `json:"review"`
	Backup   BackupConfig   `json:"backup"`
	Struggle StruggleConfig `json:"struggle"`
	Reminder ReminderConfig `json:"reminder"`
}

// ReviewConfig tunes the scheduling model.
type ReviewConfig struct {
	// DesiredRetention is the target recall probability at review time.
	DesiredRetention float64 `json:"desired_retention" env:"RECITE_REVIEW_DESIRED_RETENTION"`
	// MinIntervalDays floors every computed interval.
	MinIntervalDays float64 `json:"min_interval_days" env:"RECITE_REVIEW_MIN_INTERVAL_DAYS"`
	// MaxIntervalDays caps every computed interval.
	MaxIntervalDays float64 `json:"max_interval_days" env:"RECITE_REVIEW_MAX_INTERVAL_DAYS"`
	// FuzzFraction is the interval perturbation; 0 disables fuzzing.
	FuzzFraction float64 `json:"fuzz_fraction" env:"RECITE_REVIEW_FUZZ_FRACTION"`
	// Weights overrides the default model weights when exactly 17 values
	// are given. Empty means defaults.
	Weights []float64 `json:"weights,omitempty"`
	// MaxSessionSize bounds the due queue built for one review session.
	MaxSessionSize int `json:"max_session_size" env:"RECITE_REVIEW_MAX_SESSION_SIZE"`
}

// BackupConfig controls schedule file backups.
type BackupConfig struct {
	// RetentionCount is how many timestamped backups to keep.
	RetentionCount int `json:"retention_count" env:"RECITE_BACKUP_RETENTION_COUNT"`
}

// StruggleConfig tunes struggle detection over recent review history.
type StruggleConfig struct {
	// Window is how many recent entries per concept to inspect.
	Window int `json:"window" env:"RECITE_STRUGGLE_WINDOW"`
	// MinLowRatings is how many ratings <= Hard within the window flag a
	// concept as struggling.
	MinLowRatings int `json:"min_low_ratings" env:"RECITE_STRUGGLE_MIN_LOW_RATINGS"`
}

// ReminderConfig controls the due-review reminder loop.
type ReminderConfig struct {
	// Cron is a standard five-field cron expression for reminder ticks.
	Cron string `json:"cron" env:"RECITE_REMINDER_CRON"`
	// DiscordToken enables Discord delivery when set.
	DiscordToken string `json:"discord_token" env:"RECITE_REMINDER_DISCORD_TOKEN"`
	// DiscordChannel is the channel ID reminders are posted to.
	DiscordChannel string `json:"discord_channel" env:"RECITE_REMINDER_DISCORD_CHANNEL"`
}

func DefaultConfig() *Config {
	return &Config{
		DataDir: "~/.recite",
		Review: ReviewConfig{
			DesiredRetention: 0.9,
			MinIntervalDays:  1,
			MaxIntervalDays:  36500,
			FuzzFraction:     0.05,
			MaxSessionSize:   50,
		},
		Backup: BackupConfig{
			RetentionCount: 10,
		},
		Struggle: StruggleConfig{
			Window:        5,
			MinLowRatings: 2,
		},
		Reminder: ReminderConfig{
			Cron: "0 9 * * *",
		},
	}
}

// LoadConfig reads the config file at path, falling back to defaults
// when it does not exist, then applies RECITE_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the config as indented JSON, creating the directory
// if needed.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	r := c.Review
	if r.DesiredRetention <= 0 || r.DesiredRetention >= 1 {
		return fmt.Errorf("config: desired_retention %f out of (0, 1)", r.DesiredRetention)
	}
	if r.MinIntervalDays <= 0 {
		return fmt.Errorf("config: min_interval_days %f must be positive", r.MinIntervalDays)
	}
	if r.MaxIntervalDays < r.MinIntervalDays {
		return fmt.Errorf("config: max_interval_days %f below min_interval_days %f", r.MaxIntervalDays, r.MinIntervalDays)
	}
	if r.FuzzFraction < 0 || r.FuzzFraction > 0.5 {
		return fmt.Errorf("config: fuzz_fraction %f out of [0, 0.5]", r.FuzzFraction)
	}
	if len(r.Weights) != 0 && len(r.Weights) != 17 {
		return fmt.Errorf("config: weights needs 17 values, got %d", len(r.Weights))
	}
	if r.MaxSessionSize < 1 {
		return fmt.Errorf("config: max_session_size %d must be at least 1", r.MaxSessionSize)
	}
	if c.Backup.RetentionCount < 1 {
		return fmt.Errorf("config: backup retention_count %d must be at least 1", c.Backup.RetentionCount)
	}
	if c.Struggle.Window < 1 || c.Struggle.MinLowRatings < 1 {
		return fmt.Errorf("config: struggle window and min_low_ratings must be at least 1")
	}
	if c.Reminder.Cron != "" && !gronx.New().IsValid(c.Reminder.Cron) {
		return fmt.Errorf("config: invalid reminder cron %q", c.Reminder.Cron)
	}
	if c.Reminder.DiscordToken != "" && c.Reminder.DiscordChannel == "" {
		return fmt.Errorf("config: discord_channel required when discord_token is set")
	}
	return nil
}

// Root returns the expanded data directory.
func (c *Config) Root() string {
	return expandHome(c.DataDir)
}

// SchedulePath is the fixed location of the schedule collection.
func (c *Config) SchedulePath() string {
	return filepath.Join(c.Root(), "schedule.json")
}

// HistoryPath is the fixed location of the review history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Root(), "history.db")
}

// BackupDir is the fixed location of schedule backups.
func (c *Config) BackupDir() string {
	return filepath.Join(c.Root(), "backups")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	if p := os.Getenv("RECITE_CONFIG"); p != "" {
		return p
	}
	return expandHome("~/.recite/config.json")
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

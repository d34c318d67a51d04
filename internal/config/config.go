package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Version   int             `toml:"version"`
	DataDir   string          `toml:"data_dir"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Media     MediaConfig     `toml:"media"`
	Guardian  GuardianConfig  `toml:"guardian"`
	Retention RetentionConfig `toml:"retention"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Summary   SummaryConfig   `toml:"summary"`
	Browser   BrowserConfig   `toml:"browser"`
}

type MonitorConfig struct {
	TickIntervalMS   int `toml:"tick_interval_ms"`
	ErrorPauseMS     int `toml:"error_pause_ms"`
	ColumnTimeoutSec int `toml:"column_timeout_sec"`
}

func (m MonitorConfig) TickInterval() time.Duration {
	return time.Duration(m.TickIntervalMS) * time.Millisecond
}

func (m MonitorConfig) ErrorPause() time.Duration {
	return time.Duration(m.ErrorPauseMS) * time.Millisecond
}

func (m MonitorConfig) ColumnTimeout() time.Duration {
	return time.Duration(m.ColumnTimeoutSec) * time.Second
}

type MediaConfig struct {
	Concurrency     int `toml:"concurrency"`
	BatchSize       int `toml:"batch_size"`
	BatchPauseMS    int `toml:"batch_pause_ms"`
	CheckTimeoutSec int `toml:"check_timeout_sec"`
}

func (m MediaConfig) BatchPause() time.Duration {
	return time.Duration(m.BatchPauseMS) * time.Millisecond
}

func (m MediaConfig) CheckTimeout() time.Duration {
	return time.Duration(m.CheckTimeoutSec) * time.Second
}

type GuardianConfig struct {
	SampleIntervalMin int    `toml:"sample_interval_min"`
	MemoryCeilingMB   uint64 `toml:"memory_ceiling_mb"`
}

func (g GuardianConfig) SampleInterval() time.Duration {
	return time.Duration(g.SampleIntervalMin) * time.Minute
}

type RetentionConfig struct {
	MaxDaysToKeep int    `toml:"max_days_to_keep"`
	CleanupCron   string `toml:"cleanup_cron"`
}

type ScoringConfig struct {
	Model      string  `toml:"model"`
	Threshold  float64 `toml:"threshold"`
	BatchSize  int     `toml:"batch_size"`
	MaxRetries int     `toml:"max_retries"`
	// Categories names the subject area of each column, keyed by column
	// index, e.g. "0" = "NEAR Ecosystem". The name shapes the scoring
	// prompt; unmapped columns fall back to their deck title.
	Categories map[string]string `toml:"categories"`
}

// CategoryFor resolves the category name for a column: the configured
// mapping wins, then the column's deck title, then a generic label.
func (s ScoringConfig) CategoryFor(index int, title string) string {
	if name := s.Categories[strconv.Itoa(index)]; name != "" {
		return name
	}
	if title != "" {
		return title
	}
	return fmt.Sprintf("column %d", index)
}

type SummaryConfig struct {
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"`
}

type BrowserConfig struct {
	Headless bool `toml:"headless"`
}

// Credentials are loaded from the environment, not the config file.
type Credentials struct {
	TwitterUsername  string
	TwitterPassword  string
	TwitterTwoFactor string
	DeckURL          string
	AnthropicAPIKey  string
	TelegramBotToken string
	TelegramChannel  string
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		DataDir: "data",
		Monitor: MonitorConfig{
			TickIntervalMS:   100,
			ErrorPauseMS:     1000,
			ColumnTimeoutSec: 15,
		},
		Media: MediaConfig{
			Concurrency:     3,
			BatchSize:       3,
			BatchPauseMS:    500,
			CheckTimeoutSec: 10,
		},
		Guardian: GuardianConfig{
			SampleIntervalMin: 5,
			MemoryCeilingMB:   1536,
		},
		Retention: RetentionConfig{
			MaxDaysToKeep: 7,
			CleanupCron:   "0 3 * * *",
		},
		Scoring: ScoringConfig{
			Model:      "claude-sonnet-4-20250514",
			Threshold:  7.0,
			BatchSize:  10,
			MaxRetries: 3,
		},
		Summary: SummaryConfig{
			Cron:     "0 21 * * *",
			Timezone: "UTC",
		},
		Browser: BrowserConfig{
			Headless: true,
		},
	}
}

// Load reads the config file at path, falling back to defaults when the file
// does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}

// LoadOptionalCredentials loads whatever credentials the environment
// carries, reading a .env file first when present. Nothing is required;
// callers that never drive the browser use this directly.
func LoadOptionalCredentials() *Credentials {
	// Missing .env is fine, the variables may come from the real environment.
	_ = godotenv.Load()

	return &Credentials{
		TwitterUsername:  os.Getenv("TWITTER_USERNAME"),
		TwitterPassword:  os.Getenv("TWITTER_PASSWORD"),
		TwitterTwoFactor: os.Getenv("TWITTER_VERIFICATION_CODE"),
		DeckURL:          os.Getenv("TWEETDECK_URL"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChannel:  os.Getenv("TELEGRAM_CHANNEL_ID"),
	}
}

// LoadCredentials loads credentials from the environment and validates the
// browser login set. Scoring and delivery credentials stay optional; their
// components check for them.
func LoadCredentials() (*Credentials, error) {
	creds := LoadOptionalCredentials()

	var missing []string
	for _, v := range []struct {
		name, value string
	}{
		{"TWITTER_USERNAME", creds.TwitterUsername},
		{"TWITTER_PASSWORD", creds.TwitterPassword},
		{"TWEETDECK_URL", creds.DeckURL},
	} {
		if v.value == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return creds, nil
}

// RawDir returns the raw records directory for a given day (yyyymmdd).
func (c *Config) RawDir(date string) string {
	return filepath.Join(c.DataDir, "raw", date)
}

// ProcessedDir returns the processed output directory.
func (c *Config) ProcessedDir() string {
	return filepath.Join(c.DataDir, "processed")
}

// StatePath returns the path of the persisted recency state file.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "latest_records.json")
}

// CookiePath returns the path of the persisted session cookies.
func (c *Config) CookiePath() string {
	return filepath.Join(c.DataDir, "session", "cookies.json")
}

// DBPath returns the sqlite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "deckwatch.db")
}

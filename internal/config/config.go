package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override the config file.
const (
	EnvUsername = "SLIDECRAWL_USERNAME"
	EnvPassword = "SLIDECRAWL_PASSWORD"
	EnvDSN      = "SLIDECRAWL_DB_DSN"
	EnvHeadless = "SLIDECRAWL_HEADLESS"
)

// Config holds all application configuration
type Config struct {
	Version   int             `toml:"version"`
	Site      SiteConfig      `toml:"site"`
	Challenge ChallengeConfig `toml:"challenge"`
	Crawl     CrawlConfig     `toml:"crawl"`
	Browser   BrowserConfig   `toml:"browser"`
	Database  DatabaseConfig  `toml:"database"`
	Output    OutputConfig    `toml:"output"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	Email     EmailConfig     `toml:"email"`
}

type SiteConfig struct {
	BaseURL   string `toml:"base_url"`
	LoginPath string `toml:"login_path"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

type ChallengeConfig struct {
	// CalibrationOffset compensates the systematic bias of the exposed gap offset.
	CalibrationOffset int      `toml:"calibration_offset"`
	MaxAttempts       int      `toml:"max_attempts"`
	DialogWait        Duration `toml:"dialog_wait"`
	SettleTime        Duration `toml:"settle_time"`
	GapPolls          int      `toml:"gap_polls"`
	PollInterval      Duration `toml:"poll_interval"`
	StepDelay         Duration `toml:"step_delay"` // pause between pointer moves
	// SliderElement and SliderField locate the gap offset in the slider component's state.
	SliderElement     string   `toml:"slider_element"`
	SliderField       string   `toml:"slider_field"`
}

type CrawlConfig struct {
	PageSize          int      `toml:"page_size"`
	MaxPages          int      `toml:"max_pages"` // 0 = until the listing is exhausted
	PollInterval      Duration `toml:"poll_interval"`
	PollAttempts      int      `toml:"poll_attempts"`
	FirstLoadAttempts int      `toml:"first_load_attempts"`
	TotalAttempts     int      `toml:"total_attempts"`
	MaskPolls         int      `toml:"mask_polls"`
	AdvanceSettle     Duration `toml:"advance_settle"`
	PageSettle        Duration `toml:"page_settle"`
}

type BrowserConfig struct {
	Headless     bool     `toml:"headless"`
	WindowWidth  int      `toml:"window_width"`
	WindowHeight int      `toml:"window_height"`
	ReuseCookies bool     `toml:"reuse_cookies"`
	Timeout      Duration `toml:"timeout"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "libsql"
	DSN    string `toml:"dsn"`
}

type OutputConfig struct {
	DumpDir string `toml:"dump_dir"`
	Dump    bool   `toml:"dump"`
}

type ScheduleConfig struct {
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"`
}

type EmailConfig struct {
	Enabled  bool   `toml:"enabled"`
	Provider string `toml:"provider"`
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

// Duration is a time.Duration that reads and writes as a string like "1.5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Site: SiteConfig{
			BaseURL:   "https://2ketangpc.svtcc.edu.cn",
			LoginPath: "/login",
		},
		Challenge: ChallengeConfig{
			CalibrationOffset: 12,
			MaxAttempts:       5,
			DialogWait:        Duration{5 * time.Second},
			SettleTime:        Duration{2 * time.Second},
			GapPolls:          3,
			PollInterval:      Duration{500 * time.Millisecond},
			StepDelay:         Duration{10 * time.Millisecond},
			SliderElement:     "slideVerify",
			SliderField:       "block_x",
		},
		Crawl: CrawlConfig{
			PageSize:          2000,
			MaxPages:          0,
			PollInterval:      Duration{time.Second},
			PollAttempts:      20,
			FirstLoadAttempts: 20,
			TotalAttempts:     3,
			MaskPolls:         10,
			AdvanceSettle:     Duration{5 * time.Second},
			PageSettle:        Duration{2 * time.Second},
		},
		Browser: BrowserConfig{
			Headless:     true,
			WindowWidth:  1366,
			WindowHeight: 768,
			ReuseCookies: true,
			Timeout:      Duration{2 * time.Hour},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Output: OutputConfig{
			Dump: true,
		},
		Schedule: ScheduleConfig{
			Cron:     "0 3 * * *",
			Timezone: "Asia/Shanghai",
		},
		Email: EmailConfig{
			Provider: "smtp",
			SMTPPort: 587,
		},
	}
}

// LoginURL is the absolute URL of the login page.
func (c *Config) LoginURL() string {
	return c.SiteURL(c.Site.LoginPath)
}

// SiteURL resolves a path against the site's base URL.
func (c *Config) SiteURL(path string) string {
	base, err := url.Parse(c.Site.BaseURL)
	if err != nil {
		return strings.TrimRight(c.Site.BaseURL, "/") + path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return strings.TrimRight(c.Site.BaseURL, "/") + path
	}
	return base.ResolveReference(ref).String()
}

// Validate reports the first configuration problem that would make a run fail.
func (c *Config) Validate() error {
	var errs []error
	if c.Site.BaseURL == "" {
		errs = append(errs, errors.New("site.base_url is required"))
	}
	if c.Site.Username == "" || c.Site.Password == "" {
		errs = append(errs, fmt.Errorf("credentials are required (site.username/site.password or %s/%s)", EnvUsername, EnvPassword))
	}
	if c.Crawl.PageSize <= 0 {
		errs = append(errs, errors.New("crawl.page_size must be positive"))
	}
	if c.Challenge.MaxAttempts < 1 {
		errs = append(errs, errors.New("challenge.max_attempts must be at least 1"))
	}
	if c.Crawl.PollAttempts < 1 {
		errs = append(errs, errors.New("crawl.poll_attempts must be at least 1"))
	}
	switch c.Database.Driver {
	case "sqlite", "libsql":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver: %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// ApplyEnv loads a .env file from the working directory if one exists and
// applies the environment overrides.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if v := os.Getenv(EnvUsername); v != "" {
		c.Site.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.Site.Password = v
	}
	if v := os.Getenv(EnvDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvHeadless); v != "" {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.Browser.Headless = headless
	}
	return nil
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "slidecrawl"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the platform-appropriate cache directory
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "slidecrawl"), nil
}

// DumpDir returns the configured dump directory, defaulting to the cache directory.
func (c *Config) DumpDir() (string, error) {
	if c.Output.DumpDir != "" {
		return c.Output.DumpDir, nil
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dumps"), nil
}

// DatabaseDSN returns the configured DSN, defaulting to a SQLite file in the cache directory.
func (c *Config) DatabaseDSN() (string, error) {
	if c.Database.DSN != "" {
		return c.Database.DSN, nil
	}
	if c.Database.Driver != "sqlite" {
		return "", fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "slidecrawl.db"), nil
}

// Load reads config from the default path
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads config from path. Keys missing from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes config to path
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

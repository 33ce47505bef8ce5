// Package config loads and validates the ghostd configuration.
//
// Configuration comes from a YAML file, with environment variables (GHOST_*)
// taking precedence. A .env file in the working directory is honored for
// development setups.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DeployMode selects how rendered output reaches the public.
type DeployMode string

const (
	// DeployStandard publishes the rendered tree to a hosting branch.
	DeployStandard DeployMode = "standard"
	// DeployIntegrated serves the work directory directly; publishing is a no-op.
	DeployIntegrated DeployMode = "integrated"
)

// SchedulerConfig controls the periodic build-check and scan timers.
type SchedulerConfig struct {
	Enabled       bool     `yaml:"enabled"`
	BuildInterval Duration `yaml:"build_interval"`
	ScanInterval  Duration `yaml:"scan_interval"`
}

// ScanConfig controls the availability scanner.
type ScanConfig struct {
	SampleSize   int      `yaml:"sample_size"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
	GatewayURL   string   `yaml:"gateway_url"`
}

// CoversConfig controls cover image localization.
type CoversConfig struct {
	FetchTimeout Duration `yaml:"fetch_timeout"`
	Parallelism  int      `yaml:"parallelism"`
}

// BackupConfig controls encrypted database snapshots.
type BackupConfig struct {
	Dir       string `yaml:"dir"`
	Recipient string `yaml:"recipient"`
	AgeBin    string `yaml:"age_bin"`
}

// DeployConfig controls the publisher.
type DeployConfig struct {
	Mode      DeployMode `yaml:"mode"`
	RemoteURL string     `yaml:"remote_url"`
	Branch    string     `yaml:"branch"`
	CNAME     string     `yaml:"cname"`
	ForcePush bool       `yaml:"force_push"`
	UserName  string     `yaml:"user_name"`
	UserEmail string     `yaml:"user_email"`
}

// EventsConfig controls optional NATS announcements.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
}

// AdminConfig controls the local admin HTTP server.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the full ghostd configuration.
type Config struct {
	Database string `yaml:"database"`
	Workdir  string `yaml:"workdir"`
	BaseURL  string `yaml:"base_url"`
	HugoBin  string `yaml:"hugo_bin"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Scan      ScanConfig      `yaml:"scan"`
	Covers    CoversConfig    `yaml:"covers"`
	Backup    BackupConfig    `yaml:"backup"`
	Deploy    DeployConfig    `yaml:"deploy"`
	Events    EventsConfig    `yaml:"events"`
	Admin     AdminConfig     `yaml:"admin"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Load reads the configuration file, applies env overrides and defaults,
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment are a complete configuration.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Not fatal when absent; explicit env always wins over .env values.
	_ = godotenv.Load()

	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays GHOST_* environment variables on top of file values.
func (c *Config) applyEnv() {
	setString(&c.Database, "GHOST_DB_PATH")
	setString(&c.Workdir, "GHOST_SITE_WORKDIR")
	setString(&c.BaseURL, "GHOST_PUBLIC_BASEURL")
	setString(&c.HugoBin, "GHOST_HUGO_BIN")

	setBool(&c.Scheduler.Enabled, "GHOST_SCHEDULER_ENABLED")
	setDuration(&c.Scheduler.BuildInterval, "GHOST_BUILD_INTERVAL")
	setDuration(&c.Scheduler.ScanInterval, "GHOST_SCAN_INTERVAL")

	setInt(&c.Scan.SampleSize, "GHOST_SCAN_SAMPLE_SIZE")
	setDuration(&c.Scan.ProbeTimeout, "GHOST_PROBE_TIMEOUT")
	setString(&c.Scan.GatewayURL, "GHOST_PROBE_GATEWAY_URL")

	setDuration(&c.Covers.FetchTimeout, "GHOST_COVER_FETCH_TIMEOUT")
	setInt(&c.Covers.Parallelism, "GHOST_COVER_PARALLELISM")

	setString(&c.Backup.Dir, "GHOST_BACKUP_DIR")
	setString(&c.Backup.Recipient, "GHOST_AGE_RECIPIENT")
	setString(&c.Backup.AgeBin, "GHOST_AGE_BIN")

	if v := os.Getenv("GHOST_DEPLOY_MODE"); v != "" {
		c.Deploy.Mode = DeployMode(v)
	}
	setString(&c.Deploy.RemoteURL, "GHOST_PAGES_REMOTE_URL")
	setString(&c.Deploy.Branch, "GHOST_PAGES_BRANCH")
	setString(&c.Deploy.CNAME, "GHOST_PAGES_CNAME")
	setBool(&c.Deploy.ForcePush, "GHOST_PAGES_FORCE")
	setString(&c.Deploy.UserName, "GHOST_PAGES_GIT_USER_NAME")
	setString(&c.Deploy.UserEmail, "GHOST_PAGES_GIT_USER_EMAIL")

	setString(&c.Events.NATSURL, "GHOST_NATS_URL")
	setString(&c.Admin.Listen, "GHOST_ADMIN_LISTEN")
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.Database == "" {
		c.Database = "var/ghost.db"
	}
	if c.Workdir == "" {
		c.Workdir = "var/site-workdir"
	}
	if c.BaseURL == "" {
		c.BaseURL = "/"
	}
	if c.HugoBin == "" {
		c.HugoBin = "hugo"
	}
	if c.Scheduler.BuildInterval <= 0 {
		c.Scheduler.BuildInterval = Duration(time.Minute)
	}
	if c.Scheduler.ScanInterval <= 0 {
		c.Scheduler.ScanInterval = Duration(30 * time.Minute)
	}
	if c.Scan.SampleSize <= 0 {
		c.Scan.SampleSize = 20
	}
	if c.Scan.ProbeTimeout <= 0 {
		c.Scan.ProbeTimeout = Duration(20 * time.Second)
	}
	if c.Covers.FetchTimeout <= 0 {
		c.Covers.FetchTimeout = Duration(15 * time.Second)
	}
	if c.Covers.Parallelism <= 0 {
		c.Covers.Parallelism = 4
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = "var/backups"
	}
	if c.Backup.AgeBin == "" {
		c.Backup.AgeBin = "age"
	}
	if c.Deploy.Mode == "" {
		c.Deploy.Mode = DeployStandard
	}
	if c.Deploy.Branch == "" {
		c.Deploy.Branch = "gh-pages"
	}
	if c.Deploy.UserName == "" {
		c.Deploy.UserName = "ghost-bot"
	}
	if c.Deploy.UserEmail == "" {
		c.Deploy.UserEmail = "ghost-bot@users.noreply.github.com"
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = "127.0.0.1:8787"
	}
}

// Validate checks invariants that Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Deploy.Mode {
	case DeployStandard, DeployIntegrated:
	default:
		return fmt.Errorf("invalid deploy mode %q (want standard or integrated)", c.Deploy.Mode)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

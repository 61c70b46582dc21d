package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultRecordPattern    = "enrollment*.json"
	DefaultAPIBaseURL       = "https://api.teller.io"
	DefaultAccountsPath     = "/accounts"
	DefaultCallbackAddr     = ":8000"
	DefaultPagePath         = "/index.html"
	DefaultSavePath         = "/save-enrollment"
	DefaultTemplatePath     = "index.html"
	DefaultFeedsOutputPath  = "../src/main/resources/teller-feeds.json"
	DefaultFeedsBackupPath  = "../src/main/resources/teller-feeds_{date}_backup.json"
	DefaultJournalDriver    = "sqlite3"
	DefaultJournalCacheTTL  = time.Minute
	BackupDatePlaceholder   = "{date}"
	defaultAPIClientTimeout = 30 * time.Second
)

type APIConfig struct {
	BaseURL      string        `koanf:"base_url" mapstructure:"base_url"`
	AccountsPath string        `koanf:"accounts_path" mapstructure:"accounts_path"`
	CertPath     string        `koanf:"cert_path" mapstructure:"cert_path"`
	KeyPath      string        `koanf:"key_path" mapstructure:"key_path"`
	Timeout      time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type CallbackConfig struct {
	Addr         string `koanf:"addr" mapstructure:"addr"`
	PagePath     string `koanf:"page_path" mapstructure:"page_path"`
	SavePath     string `koanf:"save_path" mapstructure:"save_path"`
	TemplatePath string `koanf:"template_path" mapstructure:"template_path"`
	// SessionTimeout bounds the wait for the browser callback. Zero waits
	// until the POST arrives or the run context is cancelled.
	SessionTimeout time.Duration `koanf:"session_timeout" mapstructure:"session_timeout"`
}

type FeedsConfig struct {
	OutputPath       string            `koanf:"output_path" mapstructure:"output_path"`
	BackupPattern    string            `koanf:"backup_pattern" mapstructure:"backup_pattern"`
	AccountFeedNames map[string]string `koanf:"account_feed_names" mapstructure:"account_feed_names"`
}

// JournalConfig enables the run journal when DSN is set. Per-run outcome
// listings are cached for CacheTTL when it is positive.
type JournalConfig struct {
	Driver   string        `koanf:"driver" mapstructure:"driver"`
	DSN      string        `koanf:"dsn" mapstructure:"dsn"`
	CacheTTL time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
}

type Config struct {
	WorkDir                string         `koanf:"work_dir" mapstructure:"work_dir"`
	RecordPattern          string         `koanf:"record_pattern" mapstructure:"record_pattern"`
	StrictExit             bool           `koanf:"strict_exit" mapstructure:"strict_exit"`
	AbortOnProjectionError bool           `koanf:"abort_on_projection_error" mapstructure:"abort_on_projection_error"`
	DryRun                 bool           `koanf:"dry_run" mapstructure:"dry_run"`
	API                    APIConfig      `koanf:"api" mapstructure:"api"`
	Callback               CallbackConfig `koanf:"callback" mapstructure:"callback"`
	Feeds                  FeedsConfig    `koanf:"feeds" mapstructure:"feeds"`
	Journal                JournalConfig  `koanf:"journal" mapstructure:"journal"`
}

func DefaultConfig() Config {
	return Config{
		WorkDir:       ".",
		RecordPattern: DefaultRecordPattern,
		API: APIConfig{
			BaseURL:      DefaultAPIBaseURL,
			AccountsPath: DefaultAccountsPath,
			CertPath:     "../src/main/resources/secrets/certificate.pem",
			KeyPath:      "../src/main/resources/secrets/private_key.pem",
			Timeout:      defaultAPIClientTimeout,
		},
		Callback: CallbackConfig{
			Addr:         DefaultCallbackAddr,
			PagePath:     DefaultPagePath,
			SavePath:     DefaultSavePath,
			TemplatePath: DefaultTemplatePath,
		},
		Feeds: FeedsConfig{
			OutputPath:    DefaultFeedsOutputPath,
			BackupPattern: DefaultFeedsBackupPath,
		},
		Journal: JournalConfig{
			Driver:   DefaultJournalDriver,
			CacheTTL: DefaultJournalCacheTTL,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.RecordPattern) == "" {
		return fmt.Errorf("core: record_pattern is required")
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("core: api.base_url is required")
	}
	if strings.TrimSpace(c.Callback.Addr) == "" {
		return fmt.Errorf("core: callback.addr is required")
	}
	if !strings.HasPrefix(c.Callback.PagePath, "/") || !strings.HasPrefix(c.Callback.SavePath, "/") {
		return fmt.Errorf("core: callback page_path and save_path must be absolute url paths")
	}
	if c.Callback.PagePath == c.Callback.SavePath {
		return fmt.Errorf("core: callback page_path and save_path must differ")
	}
	if c.Callback.SessionTimeout < 0 {
		return fmt.Errorf("core: callback.session_timeout must not be negative")
	}
	if strings.TrimSpace(c.Feeds.OutputPath) == "" {
		return fmt.Errorf("core: feeds.output_path is required")
	}
	if !strings.Contains(c.Feeds.BackupPattern, BackupDatePlaceholder) {
		return fmt.Errorf("core: feeds.backup_pattern must contain %s", BackupDatePlaceholder)
	}
	for account, feed := range c.Feeds.AccountFeedNames {
		if strings.TrimSpace(feed) == "" {
			return fmt.Errorf("core: feed name for account %q is empty", account)
		}
	}
	if c.Journal.CacheTTL < 0 {
		return fmt.Errorf("core: journal.cache_ttl must not be negative")
	}
	if strings.TrimSpace(c.Journal.DSN) != "" {
		switch strings.TrimSpace(c.Journal.Driver) {
		case "sqlite3", "postgres":
		default:
			return fmt.Errorf("core: journal.driver must be sqlite3 or postgres")
		}
	}
	return nil
}

// FeedNameMapping returns the configured account mapping, or the built-in
// mapping when none is configured. Configured mappings replace the built-in
// one entirely.
func (c Config) FeedNameMapping() FeedNameMapping {
	if len(c.Feeds.AccountFeedNames) == 0 {
		return DefaultFeedNameMapping()
	}
	mapping := make(FeedNameMapping, len(c.Feeds.AccountFeedNames))
	for account, feed := range c.Feeds.AccountFeedNames {
		mapping[account] = FeedName(strings.TrimSpace(feed))
	}
	return mapping
}

// ResolvePaths anchors every relative file path at WorkDir, the directory
// the record files live in.
func (c Config) ResolvePaths() Config {
	dir := strings.TrimSpace(c.WorkDir)
	if dir == "" || dir == "." {
		return c
	}
	resolve := func(path string) string {
		path = strings.TrimSpace(path)
		if path == "" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(dir, path)
	}
	c.API.CertPath = resolve(c.API.CertPath)
	c.API.KeyPath = resolve(c.API.KeyPath)
	c.Callback.TemplatePath = resolve(c.Callback.TemplatePath)
	c.Feeds.OutputPath = resolve(c.Feeds.OutputPath)
	c.Feeds.BackupPattern = resolve(c.Feeds.BackupPattern)
	return c
}

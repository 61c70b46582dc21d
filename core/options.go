package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// FileConfigLoader reads a YAML or JSON config file. A missing file yields an
// empty layer unless Required is set.
type FileConfigLoader struct {
	Path     string
	Required bool
}

func (l FileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !l.Required {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config file %s: %w", path, err)
	}
	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("core: decode config file %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("core: decode config file %s: %w", path, err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	// Feed mappings are closed sets: the highest layer that defines one wins
	// outright instead of being merged key by key.
	switch {
	case len(runtime.Feeds.AccountFeedNames) > 0:
		resolved.Feeds.AccountFeedNames = copyStringMap(runtime.Feeds.AccountFeedNames)
	case len(loaded.Feeds.AccountFeedNames) > 0:
		resolved.Feeds.AccountFeedNames = copyStringMap(loaded.Feeds.AccountFeedNames)
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig resolves defaults, the file layer from provider, and runtime
// overrides into one validated Config.
func LoadConfig(ctx context.Context, provider ConfigProvider, runtime Config) (Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setBool := func(target map[string]any, key string, value bool) {
		if includeZero || value {
			target[key] = value
		}
	}

	setString(layer, "work_dir", cfg.WorkDir)
	setString(layer, "record_pattern", cfg.RecordPattern)
	setBool(layer, "strict_exit", cfg.StrictExit)
	setBool(layer, "abort_on_projection_error", cfg.AbortOnProjectionError)
	setBool(layer, "dry_run", cfg.DryRun)

	api := map[string]any{}
	setString(api, "base_url", cfg.API.BaseURL)
	setString(api, "accounts_path", cfg.API.AccountsPath)
	setString(api, "cert_path", cfg.API.CertPath)
	setString(api, "key_path", cfg.API.KeyPath)
	if includeZero || cfg.API.Timeout > 0 {
		api["timeout"] = cfg.API.Timeout
	}
	if len(api) > 0 {
		layer["api"] = api
	}

	callback := map[string]any{}
	setString(callback, "addr", cfg.Callback.Addr)
	setString(callback, "page_path", cfg.Callback.PagePath)
	setString(callback, "save_path", cfg.Callback.SavePath)
	setString(callback, "template_path", cfg.Callback.TemplatePath)
	if includeZero || cfg.Callback.SessionTimeout > 0 {
		callback["session_timeout"] = cfg.Callback.SessionTimeout
	}
	if len(callback) > 0 {
		layer["callback"] = callback
	}

	feeds := map[string]any{}
	setString(feeds, "output_path", cfg.Feeds.OutputPath)
	setString(feeds, "backup_pattern", cfg.Feeds.BackupPattern)
	if len(feeds) > 0 {
		layer["feeds"] = feeds
	}

	journal := map[string]any{}
	setString(journal, "driver", cfg.Journal.Driver)
	setString(journal, "dsn", cfg.Journal.DSN)
	if includeZero || cfg.Journal.CacheTTL > 0 {
		journal["cache_ttl"] = cfg.Journal.CacheTTL
	}
	if len(journal) > 0 {
		layer["journal"] = journal
	}
	return layer
}

func copyStringMap(source map[string]string) map[string]string {
	out := make(map[string]string, len(source))
	for key, value := range source {
		out[key] = value
	}
	return out
}

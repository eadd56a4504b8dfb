// Package config loads the configuration of a document store
// from a file and DOCSTORE_* environment variables.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the configuration of a document store.
type Config struct {
	// StoreType selects a shard backend registered with shard.Register,
	// which receives StoreConf.
	StoreType string
	StoreConf map[string]interface{}

	// TemplateType selects a template source registered with template.Register,
	// which receives TemplateConf.
	TemplateType string
	TemplateConf map[string]interface{}

	// CacheSize is the number of actors of each kind kept live.
	CacheSize int

	// BaseURL prefixes the document locations reported to callers.
	BaseURL string

	LogLevel    string
	MetricsAddr string
}

// Load reads the configuration file at path, if path is not empty,
// and applies environment overrides.
// The environment variable for a key is DOCSTORE_ followed by the key in upper case
// with dots changed to underscores,
// e.g. DOCSTORE_STORE_TYPE for store.type.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.type", "sqlite3")
	v.SetDefault("store.dir", "docstore-data")
	v.SetDefault("store.conn", "")
	v.SetDefault("template.type", "builtin")
	v.SetDefault("template.dir", "")
	v.SetDefault("template.bucket", "")
	v.SetDefault("template.prefix", "")
	v.SetDefault("template.creds", "")
	v.SetDefault("template.endpoint", "")
	v.SetDefault("template.access_key", "")
	v.SetDefault("template.secret_key", "")
	v.SetDefault("template.ssl", false)
	v.SetDefault("cache.size", 128)
	v.SetDefault("base_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	cfg := &Config{
		StoreType: v.GetString("store.type"),
		StoreConf: map[string]interface{}{
			"dir":  v.GetString("store.dir"),
			"conn": v.GetString("store.conn"),
		},
		TemplateType: v.GetString("template.type"),
		TemplateConf: map[string]interface{}{
			"dir":        v.GetString("template.dir"),
			"bucket":     v.GetString("template.bucket"),
			"prefix":     v.GetString("template.prefix"),
			"creds":      v.GetString("template.creds"),
			"endpoint":   v.GetString("template.endpoint"),
			"access_key": v.GetString("template.access_key"),
			"secret_key": v.GetString("template.secret_key"),
			"ssl":        v.GetBool("template.ssl"),
		},
		CacheSize:   v.GetInt("cache.size"),
		BaseURL:     strings.TrimSuffix(v.GetString("base_url"), "/"),
		LogLevel:    v.GetString("log.level"),
		MetricsAddr: v.GetString("metrics.addr"),
	}

	if cfg.StoreType == "" {
		return nil, errors.New("store.type not set")
	}
	if cfg.CacheSize <= 0 {
		return nil, errors.Errorf("cache.size must be positive, got %d", cfg.CacheSize)
	}
	return cfg, nil
}

// NewLogger produces a production zap logger at the given level
// ("debug", "info", "warn", "error").
func NewLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "parsing log level %q", level)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	log, err := zc.Build()
	return log, errors.Wrap(err, "building logger")
}

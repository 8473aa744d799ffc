// Package config loads pkgcache settings from YAML and the environment.
//
// Values are resolved in order: built-in defaults, then the YAML file (if
// any), then PKGCACHE_* environment variables. The result is validated before
// it is returned.
//
//	cache_root: /var/cache/pkgcache/packages
//	checkout_root: /var/cache/pkgcache/checkouts
//	lock_timeout: 2s
//	log_level: info
//	metrics:
//	  namespace: packageprovider
//	  textfile: /var/lib/node_exporter/pkgcache.prom
package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/go/pkgcache"
	"github.com/jmgilman/go/pkgcache/metrics"
)

// Environment variables overriding file values.
const (
	EnvCacheRoot        = "PKGCACHE_CACHE_ROOT"
	EnvCheckoutRoot     = "PKGCACHE_CHECKOUT_ROOT"
	EnvLockTimeout      = "PKGCACHE_LOCK_TIMEOUT"
	EnvLogLevel         = "PKGCACHE_LOG_LEVEL"
	EnvMetricsNamespace = "PKGCACHE_METRICS_NAMESPACE"
)

// Config holds process-wide cache settings.
type Config struct {
	CacheRoot    string        `yaml:"cache_root"`
	CheckoutRoot string        `yaml:"checkout_root"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	LogLevel     string        `yaml:"log_level"`
	Metrics      Metrics       `yaml:"metrics"`
}

// Metrics configures metric export.
type Metrics struct {
	Namespace string `yaml:"namespace"`
	// Textfile, when set, receives the registry in Prometheus text format
	// after each command.
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in configuration. Roots live under the user cache
// directory, falling back to the system temporary directory.
func Default() Config {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	base = filepath.Join(base, "pkgcache")

	return Config{
		CacheRoot:    filepath.Join(base, "packages"),
		CheckoutRoot: filepath.Join(base, "checkouts"),
		LockTimeout:  pkgcache.DefaultLockTimeout,
		LogLevel:     "info",
		Metrics: Metrics{
			Namespace: metrics.DefaultNamespace,
		},
	}
}

// Load resolves the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			code := platformerrors.CodeInvalidConfig
			if os.IsNotExist(err) {
				code = platformerrors.CodeNotFound
			}
			return Config{}, platformerrors.Wrapf(err, code, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig,
				"failed to parse config file %s", path)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvCacheRoot); ok {
		c.CacheRoot = v
	}
	if v, ok := lookup(EnvCheckoutRoot); ok {
		c.CheckoutRoot = v
	}
	if v, ok := lookup(EnvLockTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return platformerrors.WithContext(
				platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "invalid %s", EnvLockTimeout),
				"value", v,
			)
		}
		c.LockTimeout = d
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvMetricsNamespace); ok {
		c.Metrics.Namespace = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.CacheRoot == "":
		return platformerrors.New(platformerrors.CodeInvalidConfig, "cache_root cannot be empty")
	case c.CheckoutRoot == "":
		return platformerrors.New(platformerrors.CodeInvalidConfig, "checkout_root cannot be empty")
	case filepath.Clean(c.CacheRoot) == filepath.Clean(c.CheckoutRoot):
		return platformerrors.New(platformerrors.CodeInvalidConfig, "cache_root and checkout_root must differ")
	case c.LockTimeout <= 0:
		return platformerrors.Newf(platformerrors.CodeInvalidConfig,
			"lock_timeout must be positive, got %s", c.LockTimeout)
	}
	if _, err := pkgcache.ParseLogLevel(c.LogLevel); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "invalid log_level")
	}
	return nil
}

// Logger builds a text logger writing to out at LogLevel. An invalid level
// falls back to info.
func (c Config) Logger(out io.Writer) *pkgcache.Logger {
	level, err := pkgcache.ParseLogLevel(c.LogLevel)
	if err != nil {
		level = pkgcache.LogLevelInfo
	}
	cfg := pkgcache.DefaultLogConfig()
	cfg.Level = level
	cfg.Output = out
	return pkgcache.NewLogger(cfg)
}

// String renders the configuration as YAML.
func (c Config) String() string {
	out, _ := yaml.Marshal(c)
	return string(out)
}

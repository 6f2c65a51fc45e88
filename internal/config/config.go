// Package config loads server and CLI configuration through viper:
// YAML-first, with DOGMA_-prefixed environment variable overrides,
// searched with a project-dir -> user-config-dir -> home-dir
// precedence. It returns a *Config value rather than driving a
// package-level singleton: every component that needs configuration
// receives it as a constructor argument, so long-lived resources stay
// struct fields, not globals.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment-variable prefix viper binds against
// (e.g. DOGMA_PORT, DOGMA_DATA_DIR).
const EnvPrefix = "DOGMA"

// Config is the fully-resolved server/CLI configuration.
type Config struct {
	Port           int           `mapstructure:"port"`
	TLSCertFile    string        `mapstructure:"tls-cert-file"`
	TLSKeyFile     string        `mapstructure:"tls-key-file"`
	DataDir        string        `mapstructure:"data-dir"`
	ReplicationPeers []string    `mapstructure:"replication-peers"`
	LogLevel       string        `mapstructure:"log-level"`
	LogFile        string        `mapstructure:"log-file"`
	WatchDefault   time.Duration `mapstructure:"watch-default-timeout"`
	WatchMax       time.Duration `mapstructure:"watch-max-timeout"`
	VerboseErrors  bool          `mapstructure:"verbose-responses"`
	ReadOnly       bool          `mapstructure:"read-only"`

	// fileUsed records which config file (if any) was loaded, exposed
	// through ConfigFileUsed.
	fileUsed string
}

// ConfigFileUsed returns the path of the config file that was loaded,
// or "" if defaults/env vars only were used.
func (c *Config) ConfigFileUsed() string { return c.fileUsed }

func defaults(v *viper.Viper) {
	v.SetDefault("port", 36462)
	v.SetDefault("data-dir", "./dogma-data")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")
	v.SetDefault("watch-default-timeout", "10s")
	v.SetDefault("watch-max-timeout", "60s")
	v.SetDefault("verbose-responses", false)
	v.SetDefault("read-only", false)
	v.SetDefault("replication-peers", []string{})
}

// Load resolves configuration following project dir -> user config dir
// -> home dir precedence for a "dogma.yaml" file, then overlays
// DOGMA_-prefixed environment variables, which always win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	defaults(v)

	fileUsed := locateConfigFile()
	if fileUsed != "" {
		v.SetConfigFile(fileUsed)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", fileUsed, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	cfg.fileUsed = fileUsed
	return &cfg, nil
}

// locateConfigFile searches, in order: ./dogma.yaml (and parent
// directories, like a project's .git), $XDG_CONFIG_HOME/dogma/config.yaml,
// and ~/.dogma/config.yaml. Returns "" if none exist.
func locateConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			candidate := filepath.Join(dir, "dogma.yaml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(dir, "dogma", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".dogma", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// WatchFile watches the config file at path for writes (a SIGHUP-free
// reload path) and invokes onChange with a freshly reloaded Config on
// every write or create event for that file. If path is empty (no config file was ever found),
// WatchFile is a no-op and the returned stop function does nothing.
// Reload failures go to onErr instead of onChange so a momentarily
// truncated write (most editors save via a temp-file rename) never
// hands the caller a half-written config.
func WatchFile(path string, onChange func(*Config), onErr func(error)) (stop func(), err error) {
	if path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load()
				if err != nil {
					if onErr != nil {
						onErr(err)
					}
					continue
				}
				onChange(cfg)
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				if onErr != nil {
					onErr(werr)
				}
			}
		}
	}()

	return func() {
		w.Close()
		<-done
	}, nil
}

// ProjectManifest is the legacy bootstrap-only "dogma.toml" project
// manifest format, read and written by ReadProjectManifest and
// WriteProjectManifest; no dogma subcommand calls either. It is
// unrelated to server configuration. TOML is used here only for this one-shot legacy
// import path, per the ambient stack's secondary-format note.
type ProjectManifest struct {
	Name     string `toml:"name"`
	Author   string `toml:"author"`
	Template string `toml:"template,omitempty"`
}

// ReadProjectManifest parses a dogma.toml file at path.
func ReadProjectManifest(path string) (*ProjectManifest, error) {
	var m ProjectManifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("reading project manifest %s: %w", path, err)
	}
	return &m, nil
}

// WriteProjectManifest writes m to path in TOML form.
func WriteProjectManifest(path string, m ProjectManifest) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating project manifest %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(m)
}

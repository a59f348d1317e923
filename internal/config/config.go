// Package config loads pgwired's YAML configuration, grounded on the
// teacher's internal/config/config.go: env-var substitution, defaults,
// validation, and an fsnotify-driven hot reload (SPEC_FULL.md D1).
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for pgwired.
type Config struct {
	Listen  ListenConfig `yaml:"listen"`
	TLS     TLSConfig    `yaml:"tls"`
	Backend BackendConfig `yaml:"backend"`
}

// ListenConfig defines the bind address and port pgwired listens on.
type ListenConfig struct {
	Addr    string `yaml:"addr"`
	APIAddr string `yaml:"api_addr"`
}

// TLSConfig points at the PKCS#12 identity used to upgrade a connection
// after an SSL request (spec.md §6). Empty Identity disables TLS
// support entirely — SSL requests are then always rejected.
type TLSConfig struct {
	Identity string `yaml:"identity"` // path to a .p12/.pfx file
	Password string `yaml:"password"`
}

// Enabled reports whether a PKCS#12 identity has been configured.
func (t TLSConfig) Enabled() bool { return t.Identity != "" }

// BackendConfig names the default Application backend and sets
// supervisor limits.
type BackendConfig struct {
	Default    string `yaml:"default"`
	MinConnID  int32  `yaml:"min_conn_id"`
	MaxConnID  int32  `yaml:"max_conn_id"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment
// variable values, leaving the pattern untouched when the variable is
// unset.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.Addr == "" {
		cfg.Listen.Addr = "0.0.0.0:5432"
	}
	if cfg.Listen.APIAddr == "" {
		cfg.Listen.APIAddr = "127.0.0.1:8080"
	}
	if cfg.Backend.MaxConnID == 0 {
		cfg.Backend.MaxConnID = 1 << 20
	}
	if cfg.Backend.MinConnID == 0 {
		cfg.Backend.MinConnID = 1
	}
}

func validate(cfg *Config) error {
	if cfg.TLS.Identity != "" && cfg.TLS.Password == "" {
		return fmt.Errorf("tls: identity configured without a password")
	}
	if cfg.Backend.MaxConnID != 0 && cfg.Backend.MinConnID != 0 && cfg.Backend.MinConnID > cfg.Backend.MaxConnID {
		return fmt.Errorf("backend: min_conn_id (%d) exceeds max_conn_id (%d)", cfg.Backend.MinConnID, cfg.Backend.MaxConnID)
	}
	return nil
}

// Watcher watches the config file for changes and calls the callback
// with the newly loaded config. Only the fields that can safely change
// post-startup are meant to be applied by the callback — the listen
// address cannot be rebound without a restart, the same restriction
// texture the teacher applies to its listener ports.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}

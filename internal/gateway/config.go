// Package gateway implements the API gateway's route table, authenticated
// reverse-proxy dispatch, rate limiting, upstream health tracking, and the
// narrow authorize fail-open policy.
package gateway

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// RouteRule maps one path prefix to an upstream service, with the gating
// requirements the gateway enforces before dispatching.
type RouteRule struct {
	Prefix        string `yaml:"prefix"`
	Upstream      string `yaml:"upstream"`       // "authn" or "authz"
	StripPrefix   string `yaml:"strip_prefix"`   // removed before forwarding, if set
	RequiresAuth  bool   `yaml:"requires_auth"`
	RequiresAdmin bool   `yaml:"requires_admin"` // gated by an authz authorize(resource=policies|audit) call
}

// Config is the gateway's hot-reloadable configuration: upstream addresses,
// the route table, rate-limit defaults, and the authorize fail-open switch.
// A reload takes effect for the route table, the fail-open switch, and the
// upstream addresses and timeout used by dispatch. RateLimitPerMinute, the
// admin-gate AuthzClient and the health prober keep the values read at
// startup.
type Config struct {
	AuthnUpstream string `yaml:"authn_upstream"`
	AuthzUpstream string `yaml:"authz_upstream"`

	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// AuthorizeFailOpen enables the narrow §4.3 fallback: if true and the
	// Authz upstream is unreachable, POST /api/v1/authz/authorize alone
	// returns a synthetic permit instead of 503. Every other route and
	// every other failure mode is unaffected. Intended for development
	// only; production deployments should leave this false.
	AuthorizeFailOpen bool `yaml:"authorize_fail_open"`

	Routes []RouteRule `yaml:"routes"`
}

func DefaultConfig() Config {
	return Config{
		AuthnUpstream:      "http://localhost:8001",
		AuthzUpstream:      "http://localhost:8002",
		UpstreamTimeout:    10 * time.Second,
		RateLimitPerMinute: 120,
		AuthorizeFailOpen:  false,
		Routes: []RouteRule{
			{Prefix: "/api/v1/auth/", Upstream: "authn", StripPrefix: "/api/v1"},
			{Prefix: "/api/v1/users/", Upstream: "authn", StripPrefix: "/api/v1", RequiresAuth: true},
			{Prefix: "/api/v1/sessions/", Upstream: "authn", StripPrefix: "/api/v1", RequiresAuth: true},
			{Prefix: "/api/v1/authz/policies/", Upstream: "authz", StripPrefix: "/api/v1/authz", RequiresAuth: true, RequiresAdmin: true},
			{Prefix: "/api/v1/authz/audit/", Upstream: "authz", StripPrefix: "/api/v1/authz", RequiresAuth: true, RequiresAdmin: true},
			{Prefix: "/api/v1/authz/", Upstream: "authz", StripPrefix: "/api/v1/authz", RequiresAuth: true},
		},
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = DefaultConfig().Routes
	}
	return cfg, nil
}

// ConfigStore holds the live Config behind a lock, reloaded from disk on
// write events. Grounded on the teacher's license.Manager/watcher split:
// a guarded in-memory state updated by an fsnotify watcher with a polling
// fallback, here repurposed from license-file reload to gateway config
// reload.
type ConfigStore struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

func NewConfigStore(path string) (*ConfigStore, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &ConfigStore{path: path, cfg: cfg}, nil
}

func (s *ConfigStore) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *ConfigStore) reload() {
	if s.path == "" {
		return
	}
	cfg, err := LoadConfig(s.path)
	if err != nil {
		log.Printf("gateway: config reload failed: %v", err)
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	log.Printf("gateway: config reloaded from %s", s.path)
}

// Watch starts an fsnotify watcher on the config file with a 60s polling
// fallback, mirroring the teacher's license watcher: if the file watch
// can't be established (e.g. the file doesn't exist yet), polling alone
// keeps reloads working.
func (s *ConfigStore) Watch(ctx context.Context) {
	if s.path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	usePolling := err != nil
	if err == nil {
		if err := watcher.Add(s.path); err != nil {
			log.Printf("gateway: config watch failed (%v), falling back to polling", err)
			usePolling = true
			watcher.Close()
		}
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(100 * time.Millisecond)
						s.reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("gateway: config watcher error: %v", err)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if usePolling {
					s.reload()
				}
			}
		}
	}()
}

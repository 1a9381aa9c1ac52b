package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

// Factory builds an adapter from its environment configuration.
type Factory func(env config.Environment, cfg config.AdapterConfig) (Adapter, error)

var factories = map[Type]Factory{
	HTTP: func(env config.Environment, cfg config.AdapterConfig) (Adapter, error) {
		return NewHTTP(env.BaseURL, cfg), nil
	},
	PostgreSQL: func(_ config.Environment, cfg config.AdapterConfig) (Adapter, error) {
		return NewPostgres(cfg), nil
	},
	Redis: func(_ config.Environment, cfg config.AdapterConfig) (Adapter, error) {
		return NewRedis(cfg)
	},
	MongoDB: func(_ config.Environment, cfg config.AdapterConfig) (Adapter, error) {
		return NewMongo(cfg), nil
	},
	EventHub: func(_ config.Environment, cfg config.AdapterConfig) (Adapter, error) {
		return NewEventHub(cfg)
	},
}

// Registry owns at most one adapter per kind for one run.
type Registry struct {
	adapters map[Type]Adapter
	mu       sync.RWMutex
}

// NewRegistry builds the adapters that are both configured in env and present
// in required. A nil required set builds every configured adapter. http is
// configured when the environment has a base URL or an explicit http entry.
func NewRegistry(env config.Environment, required map[Type]bool) (*Registry, error) {
	r := &Registry{adapters: make(map[Type]Adapter)}

	for _, t := range Types() {
		cfg, configured := env.Adapters[string(t)]
		if t == HTTP && env.BaseURL != "" {
			configured = true
		}
		if !configured {
			if required[t] {
				log.Warn().Str("adapter", string(t)).Msg("adapter required by tests but not configured")
			}
			continue
		}
		if required != nil && !required[t] {
			log.Debug().Str("adapter", string(t)).Msg("adapter configured but not required, skipping")
			continue
		}

		a, err := factories[t](env, cfg)
		if err != nil {
			return nil, &errs.ConfigError{Field: "adapters." + string(t), Message: "creating adapter", Cause: err}
		}
		r.adapters[t] = a
	}

	return r, nil
}

// Register adds or replaces the adapter for t.
func (r *Registry) Register(t Type, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adapters == nil {
		r.adapters = make(map[Type]Adapter)
	}
	r.adapters[t] = a
}

// Get returns the adapter for t.
func (r *Registry) Get(t Type) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("adapter %q is not configured for this environment", t)
	}
	return a, nil
}

// Types returns the kinds held by the registry, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Type, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) snapshot() map[Type]Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Type]Adapter, len(r.adapters))
	for t, a := range r.adapters {
		out[t] = a
	}
	return out
}

// ConnectAll connects every adapter concurrently. The first failure is
// returned as a ConnectionError naming the adapter.
func (r *Registry) ConnectAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for t, a := range r.snapshot() {
		g.Go(func() error {
			log.Debug().Str("adapter", string(t)).Msg("connecting adapter")
			if err := a.Connect(gctx); err != nil {
				return &errs.ConnectionError{Adapter: string(t), Cause: err}
			}
			return nil
		})
	}
	return g.Wait()
}

// DisconnectAll disconnects every adapter concurrently. Failures are logged.
func (r *Registry) DisconnectAll(ctx context.Context) {
	var wg sync.WaitGroup
	for t, a := range r.snapshot() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Disconnect(ctx); err != nil {
				log.Warn().Err(err).Str("adapter", string(t)).Msg("disconnecting adapter")
			}
		}()
	}
	wg.Wait()
}

// HealthCheckAll runs every adapter's health check concurrently.
func (r *Registry) HealthCheckAll(ctx context.Context) map[Type]bool {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[Type]bool)
	)
	for t, a := range r.snapshot() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := a.HealthCheck(ctx)
			mu.Lock()
			out[t] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

package provider

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leozw/failover-guardian/internal/config"
	"github.com/leozw/failover-guardian/internal/credentials"
)

// FanoutResult is the aggregate outcome of pushing one record to every
// available provider. Success follows the quorum-of-one policy: one
// provider applying the record is enough.
type FanoutResult struct {
	Success bool           `json:"success"`
	Results []UpdateResult `json:"results"`
}

type entry struct {
	provider  Provider
	limiter   *rate.Limiter
	available bool
	healthErr string
}

// Registry owns the configured providers: it resolves their credentials,
// gates them on a startup health check, and fans record updates out to the
// ones that remain available.
type Registry struct {
	entries []*entry
	logger  *zap.Logger
}

// NewRegistry builds providers for every enabled vendor whose credential set
// resolves. A vendor with incomplete credentials is skipped for the whole
// run, not retried.
func NewRegistry(cfg config.ProvidersConfig, chain *credentials.Chain, ratePerSec float64, logger *zap.Logger) *Registry {
	r := &Registry{logger: logger}
	ctx := context.Background()

	if cfg.Porkbun.Enabled {
		if set, ok := chain.Resolve(ctx, "PORKBUN_API_KEY", "PORKBUN_SECRET_KEY"); ok {
			r.add(NewPorkbun(cfg.Porkbun.BaseURL, set["PORKBUN_API_KEY"], set["PORKBUN_SECRET_KEY"], cfg.Porkbun.Priority, logger), ratePerSec)
		} else {
			logger.Warn("Skipping provider, credentials not resolved", zap.String("provider", "porkbun"))
		}
	}
	if cfg.Cloudflare.Enabled {
		if set, ok := chain.Resolve(ctx, "CLOUDFLARE_API_TOKEN"); ok {
			r.add(NewCloudflare(cfg.Cloudflare.BaseURL, set["CLOUDFLARE_API_TOKEN"], cfg.Cloudflare.Priority, logger), ratePerSec)
		} else {
			logger.Warn("Skipping provider, credentials not resolved", zap.String("provider", "cloudflare"))
		}
	}
	if cfg.Netlify.Enabled {
		if set, ok := chain.Resolve(ctx, "NETLIFY_AUTH_TOKEN"); ok {
			r.add(NewNetlify(cfg.Netlify.BaseURL, set["NETLIFY_AUTH_TOKEN"], cfg.Netlify.Priority, logger), ratePerSec)
		} else {
			logger.Warn("Skipping provider, credentials not resolved", zap.String("provider", "netlify"))
		}
	}

	return r
}

// NewRegistryWith builds a registry over pre-constructed providers.
func NewRegistryWith(logger *zap.Logger, ratePerSec float64, providers ...Provider) *Registry {
	r := &Registry{logger: logger}
	for _, p := range providers {
		r.add(p, ratePerSec)
	}
	return r
}

func (r *Registry) add(p Provider, ratePerSec float64) {
	if ratePerSec <= 0 {
		ratePerSec = 2
	}
	r.entries = append(r.entries, &entry{
		provider: p,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), 1),
	})
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].provider.Priority() < r.entries[j].provider.Priority()
	})
}

// CheckHealth probes every configured provider concurrently and records
// availability for the rest of the run. It returns the number of available
// providers.
func (r *Registry) CheckHealth(ctx context.Context) int {
	var wg sync.WaitGroup
	for _, e := range r.entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			status := e.provider.HealthCheck(ctx)
			e.available = status.Healthy
			e.healthErr = status.Error
			if status.Healthy {
				r.logger.Info("Provider available", zap.String("provider", e.provider.Name()))
			} else {
				r.logger.Warn("Provider unavailable",
					zap.String("provider", e.provider.Name()),
					zap.String("error", status.Error),
				)
			}
		}(e)
	}
	wg.Wait()
	return len(r.Available())
}

// Available returns the available providers in priority order.
func (r *Registry) Available() []Provider {
	var out []Provider
	for _, e := range r.entries {
		if e.available {
			out = append(out, e.provider)
		}
	}
	return out
}

// Configured returns every provider the registry was built with, regardless
// of availability.
func (r *Registry) Configured() []Provider {
	out := make([]Provider, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.provider)
	}
	return out
}

// UpdateAll pushes the record to every available provider concurrently and
// collects the individual outcomes. Per-provider failures never abort the
// fan-out; the aggregate succeeds if at least one provider applied the
// record.
func (r *Registry) UpdateAll(ctx context.Context, rec Record) FanoutResult {
	available := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.available {
			available = append(available, e)
		}
	}

	results := make([]UpdateResult, len(available))
	var wg sync.WaitGroup
	for i, e := range available {
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			if err := e.limiter.Wait(ctx); err != nil {
				results[i] = UpdateResult{Provider: e.provider.Name(), Error: err.Error()}
				return
			}
			results[i] = e.provider.CreateOrUpdateRecord(ctx, rec)
		}(i, e)
	}
	wg.Wait()

	fanout := FanoutResult{Results: results}
	for _, res := range results {
		if res.Success {
			fanout.Success = true
		} else {
			r.logger.Warn("Provider update failed",
				zap.String("provider", res.Provider),
				zap.String("error", res.Error),
			)
		}
	}
	return fanout
}

package provider

import (
	"context"
	"errors"
	"time"
)

// ErrZoneNotFound marks a missing DNS zone. This is a configuration problem,
// not a transient API failure: callers must not retry it, and the provider
// should be treated as misconfigured for the affected domain.
var ErrZoneNotFound = errors.New("dns zone not found")

// ErrNotConfigured marks a provider whose credentials could not be resolved.
var ErrNotConfigured = errors.New("provider not configured")

// HealthCheckTimeout bounds the single authenticated call a health check is
// allowed to make.
const HealthCheckTimeout = 10 * time.Second

type Record struct {
	Domain    string `json:"domain"`
	Subdomain string `json:"subdomain"`
	Target    string `json:"target"`
	TTL       int    `json:"ttl"`
}

// FQDN returns the fully qualified record name.
func (r Record) FQDN() string {
	if r.Subdomain == "" {
		return r.Domain
	}
	return r.Subdomain + "." + r.Domain
}

type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type UpdateResult struct {
	Provider string `json:"provider"`
	Success  bool   `json:"success"`
	RecordID string `json:"record_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Provider is the uniform contract over DNS vendor APIs. HealthCheck is
// total: it reports failures through HealthStatus and never panics or leaks
// an error past its boundary. CreateOrUpdateRecord is idempotent: an
// existing record for the subdomain is updated in place.
type Provider interface {
	Name() string
	Priority() int
	HealthCheck(ctx context.Context) HealthStatus
	CreateOrUpdateRecord(ctx context.Context, rec Record) UpdateResult
	LookupRecord(ctx context.Context, domain, subdomain string) (string, error)
}

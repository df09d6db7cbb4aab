package provider

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	name     string
	priority int
	healthy  bool
	fail     bool
	calls    atomic.Int32
	target   atomic.Value
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Priority() int { return s.priority }

func (s *stubProvider) HealthCheck(context.Context) HealthStatus {
	if !s.healthy {
		return HealthStatus{Healthy: false, Error: "credentials rejected"}
	}
	return HealthStatus{Healthy: true}
}

func (s *stubProvider) CreateOrUpdateRecord(_ context.Context, rec Record) UpdateResult {
	s.calls.Add(1)
	if s.fail {
		return UpdateResult{Provider: s.name, Error: "api error 500"}
	}
	s.target.Store(rec.Target)
	return UpdateResult{Provider: s.name, Success: true, RecordID: "r1"}
}

func (s *stubProvider) LookupRecord(context.Context, string, string) (string, error) {
	if v, ok := s.target.Load().(string); ok {
		return v, nil
	}
	return "", nil
}

func TestRegistryHealthGating(t *testing.T) {
	good := &stubProvider{name: "good", priority: 1, healthy: true}
	bad := &stubProvider{name: "bad", priority: 2, healthy: false}

	r := NewRegistryWith(zap.NewNop(), 100, good, bad)
	n := r.CheckHealth(context.Background())

	assert.Equal(t, 1, n)
	require.Len(t, r.Available(), 1)
	assert.Equal(t, "good", r.Available()[0].Name())
	assert.Len(t, r.Configured(), 2)
}

func TestRegistryUnavailableProviderNeverCalled(t *testing.T) {
	good := &stubProvider{name: "good", priority: 1, healthy: true}
	bad := &stubProvider{name: "bad", priority: 2, healthy: false}

	r := NewRegistryWith(zap.NewNop(), 100, good, bad)
	r.CheckHealth(context.Background())

	fanout := r.UpdateAll(context.Background(), Record{Domain: "example.com", Subdomain: "cal", Target: "t", TTL: 300})
	assert.True(t, fanout.Success)
	assert.Len(t, fanout.Results, 1)
	assert.Equal(t, int32(0), bad.calls.Load())
}

func TestRegistryQuorumOfOne(t *testing.T) {
	ok := &stubProvider{name: "ok", priority: 1, healthy: true}
	failing := &stubProvider{name: "failing", priority: 2, healthy: true, fail: true}

	r := NewRegistryWith(zap.NewNop(), 100, ok, failing)
	r.CheckHealth(context.Background())

	fanout := r.UpdateAll(context.Background(), Record{Domain: "example.com", Subdomain: "cal", Target: "t", TTL: 300})
	assert.True(t, fanout.Success, "one provider succeeding is enough")
	assert.Len(t, fanout.Results, 2)

	// Both were attempted: a single failure never short-circuits the fan-out.
	assert.Equal(t, int32(1), ok.calls.Load())
	assert.Equal(t, int32(1), failing.calls.Load())
}

func TestRegistryAllProvidersFail(t *testing.T) {
	a := &stubProvider{name: "a", priority: 1, healthy: true, fail: true}
	b := &stubProvider{name: "b", priority: 2, healthy: true, fail: true}

	r := NewRegistryWith(zap.NewNop(), 100, a, b)
	r.CheckHealth(context.Background())

	fanout := r.UpdateAll(context.Background(), Record{Domain: "example.com", Subdomain: "cal", Target: "t", TTL: 300})
	assert.False(t, fanout.Success)
	for _, res := range fanout.Results {
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)
	}
}

func TestRegistryPriorityOrdering(t *testing.T) {
	low := &stubProvider{name: "low", priority: 3, healthy: true}
	high := &stubProvider{name: "high", priority: 1, healthy: true}
	mid := &stubProvider{name: "mid", priority: 2, healthy: true}

	r := NewRegistryWith(zap.NewNop(), 100, low, high, mid)
	r.CheckHealth(context.Background())

	names := make([]string, 0, 3)
	for _, p := range r.Available() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"high", "mid", "low"}, names)
}

package failover

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/failover-guardian/internal/config"
	"github.com/leozw/failover-guardian/internal/endpoint"
	"github.com/leozw/failover-guardian/internal/probe"
	"github.com/leozw/failover-guardian/internal/provider"
)

// fakeProber serves scripted probe outcomes per endpoint name.
type fakeProber struct {
	mu      sync.Mutex
	up      map[string]bool
	latency map[string]time.Duration
}

func newFakeProber() *fakeProber {
	return &fakeProber{up: map[string]bool{}, latency: map[string]time.Duration{}}
}

func (f *fakeProber) set(name string, up bool, latency time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up[name] = up
	f.latency[name] = latency
}

func (f *fakeProber) Probe(_ context.Context, name, _ string) probe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := probe.Result{
		Endpoint:     name,
		Success:      f.up[name],
		ResponseTime: f.latency[name],
		CheckedAt:    time.Now(),
	}
	if !res.Success {
		res.Error = "connection refused"
		res.ResponseTime = 0
	} else {
		res.StatusCode = 200
	}
	return res
}

// fakeUpdater records fan-out requests and returns a scripted outcome.
type fakeUpdater struct {
	mu        sync.Mutex
	calls     []provider.Record
	completed int
	succeed   bool
	delay     time.Duration
}

func (f *fakeUpdater) UpdateAll(_ context.Context, rec provider.Record) provider.FanoutResult {
	f.mu.Lock()
	f.calls = append(f.calls, rec)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.completed++
	f.mu.Unlock()
	if f.succeed {
		return provider.FanoutResult{
			Success: true,
			Results: []provider.UpdateResult{{Provider: "porkbun", Success: true, RecordID: "r1"}},
		}
	}
	return provider.FanoutResult{
		Success: false,
		Results: []provider.UpdateResult{
			{Provider: "porkbun", Error: "api error"},
			{Provider: "cloudflare", Error: "api error"},
		},
	}
}

func (f *fakeUpdater) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeUpdater) completedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func testConfig() config.FailoverConfig {
	return config.FailoverConfig{
		BaseInterval:        30 * time.Second,
		AcceleratedInterval: time.Second,
		ProbeTimeout:        time.Second,
		FailureThreshold:    2,
		RecoveryThreshold:   3,
		StabilityThreshold:  10,
		OptimizationRatio:   0.5,
		HistorySize:         100,
		HistoryMaxAge:       time.Hour,
	}
}

func testDomain() config.DomainConfig {
	return config.DomainConfig{Name: "example.com", Subdomain: "cal", TTL: 300}
}

func testEndpoints() []config.EndpointConfig {
	return []config.EndpointConfig{
		{Name: "Primary", URL: "https://primary.example", Target: "primary.netlify.app"},
		{Name: "Secondary", URL: "https://secondary.example", Target: "secondary.netlify.app"},
	}
}

func newTestController(prober Prober, updater Updater) *Controller {
	return NewController(testConfig(), testDomain(), testEndpoints(), prober, updater, nil, nil, zap.NewNop())
}

func TestFailoverAfterConsecutiveFailures(t *testing.T) {
	prober := newFakeProber()
	updater := &fakeUpdater{succeed: true}
	c := newTestController(prober, updater)
	ctx := context.Background()

	prober.set("Primary", true, 300*time.Millisecond)
	prober.set("Secondary", true, 50*time.Millisecond)
	c.runCycle(ctx)
	require.Equal(t, "Primary", c.ActiveName())

	prober.set("Primary", false, 0)

	// First failed probe: below threshold, no failover yet.
	c.runCycle(ctx)
	assert.Equal(t, "Primary", c.ActiveName())
	assert.Equal(t, 0, updater.callCount())

	// Second failed probe crosses the threshold.
	c.runCycle(ctx)
	assert.Equal(t, "Secondary", c.ActiveName())
	require.Equal(t, 1, updater.callCount())
	assert.Equal(t, "secondary.netlify.app", updater.calls[0].Target)
	assert.Equal(t, "cal", updater.calls[0].Subdomain)

	events := c.RecentEvents()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonFailure, events[0].Reason)
	assert.True(t, events[0].Success)
	assert.Equal(t, "Primary", events[0].From)
	assert.Equal(t, "Secondary", events[0].To)
}

func TestNoFailoverWhenNoHealthyAlternate(t *testing.T) {
	prober := newFakeProber()
	updater := &fakeUpdater{succeed: true}
	c := newTestController(prober, updater)
	ctx := context.Background()

	prober.set("Primary", false, 0)
	prober.set("Secondary", false, 0)
	for i := 0; i < 4; i++ {
		c.runCycle(ctx)
	}

	// Both endpoints unhealthy: stay on the degraded active endpoint and
	// never push a provider update.
	assert.Equal(t, "Primary", c.ActiveName())
	assert.Equal(t, 0, updater.callCount())
	assert.Empty(t, c.RecentEvents())
}

func TestFailedQuorumKeepsActiveEndpoint(t *testing.T) {
	prober := newFakeProber()
	updater := &fakeUpdater{succeed: false}
	c := newTestController(prober, updater)
	ctx := context.Background()

	prober.set("Primary", true, 100*time.Millisecond)
	prober.set("Secondary", true, 100*time.Millisecond)
	c.runCycle(ctx)

	prober.set("Primary", false, 0)
	c.runCycle(ctx)
	c.runCycle(ctx)

	// The attempt was made and recorded, but with zero providers succeeding
	// the active endpoint must not switch.
	assert.Equal(t, "Primary", c.ActiveName())
	events := c.RecentEvents()
	require.NotEmpty(t, events)
	assert.False(t, events[0].Success)
	for _, res := range events[0].Providers {
		assert.False(t, res.Success)
	}
}

func TestOptimizationSwitchRequiresStabilityAndMargin(t *testing.T) {
	prober := newFakeProber()
	updater := &fakeUpdater{succeed: true}
	c := newTestController(prober, updater)
	ctx := context.Background()

	// Secondary is faster but not by enough: 200 >= 300*0.5.
	prober.set("Primary", true, 300*time.Millisecond)
	prober.set("Secondary", true, 200*time.Millisecond)
	for i := 0; i < 12; i++ {
		c.runCycle(ctx)
	}
	assert.Equal(t, "Primary", c.ActiveName())
	assert.Equal(t, 0, updater.callCount())

	// Now the margin clears the ratio; the window average needs a few
	// cycles to drop below half of the primary's.
	prober.set("Secondary", true, 50*time.Millisecond)
	for i := 0; i < 30 && c.ActiveName() == "Primary"; i++ {
		c.runCycle(ctx)
	}

	assert.Equal(t, "Secondary", c.ActiveName())
	events := c.RecentEvents()
	require.NotEmpty(t, events)
	assert.Equal(t, ReasonOptimization, events[len(events)-1].Reason)
}

func TestNoOptimizationBeforeStabilityThreshold(t *testing.T) {
	prober := newFakeProber()
	updater := &fakeUpdater{succeed: true}
	c := newTestController(prober, updater)
	ctx := context.Background()

	prober.set("Primary", true, 300*time.Millisecond)
	prober.set("Secondary", true, 20*time.Millisecond)
	for i := 0; i < 9; i++ {
		c.runCycle(ctx)
	}

	assert.Equal(t, "Primary", c.ActiveName())
	assert.Equal(t, 0, updater.callCount())
}

func TestSingleFlightGuard(t *testing.T) {
	prober := newFakeProber()
	updater := &fakeUpdater{succeed: true, delay: 100 * time.Millisecond}
	c := newTestController(prober, updater)
	ctx := context.Background()

	prober.set("Primary", true, 100*time.Millisecond)
	prober.set("Secondary", true, 50*time.Millisecond)
	c.runCycle(ctx)

	from := c.endpoints[0]
	to := c.endpoints[1]

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.failover(ctx, from, to, ReasonFailure)
		}()
	}
	wg.Wait()

	// The second attempt must have been skipped by the guard.
	assert.Equal(t, 1, updater.callCount())
	assert.Len(t, c.RecentEvents(), 1)
}

func TestAcceleratedIntervalWhileActiveUnhealthy(t *testing.T) {
	prober := newFakeProber()
	updater := &fakeUpdater{succeed: true}
	c := newTestController(prober, updater)
	ctx := context.Background()

	prober.set("Primary", true, 100*time.Millisecond)
	prober.set("Secondary", false, 0)
	c.runCycle(ctx)
	assert.Equal(t, 30*time.Second, c.interval())

	// Active goes down with no healthy alternate: probing accelerates.
	prober.set("Primary", false, 0)
	c.runCycle(ctx)
	c.runCycle(ctx)
	assert.Equal(t, time.Second, c.interval())

	// Recovery reverts to the base interval.
	prober.set("Primary", true, 100*time.Millisecond)
	for i := 0; i < 3; i++ {
		c.runCycle(ctx)
	}
	assert.Equal(t, 30*time.Second, c.interval())
}

func TestNeverSelectsUnhealthyAlternate(t *testing.T) {
	prober := newFakeProber()
	updater := &fakeUpdater{succeed: true}
	cfg := testConfig()
	eps := append(testEndpoints(), config.EndpointConfig{
		Name: "Tertiary", URL: "https://tertiary.example", Target: "tertiary.netlify.app",
	})
	c := NewController(cfg, testDomain(), eps, prober, updater, nil, nil, zap.NewNop())
	ctx := context.Background()

	// Tertiary is nominally fastest but down; Secondary must win.
	prober.set("Primary", true, 100*time.Millisecond)
	prober.set("Secondary", true, 80*time.Millisecond)
	prober.set("Tertiary", false, time.Millisecond)
	c.runCycle(ctx)

	prober.set("Primary", false, 0)
	c.runCycle(ctx)
	c.runCycle(ctx)

	assert.Equal(t, "Secondary", c.ActiveName())
	for _, ep := range c.endpoints {
		if ep.Name == "Tertiary" {
			assert.Equal(t, endpoint.StateUnhealthy, ep.State())
		}
	}
}

func TestHistoryBounded(t *testing.T) {
	prober := newFakeProber()
	updater := &fakeUpdater{succeed: true}
	c := newTestController(prober, updater)
	ctx := context.Background()

	prober.set("Primary", true, 10*time.Millisecond)
	prober.set("Secondary", true, 10*time.Millisecond)
	for i := 0; i < 120; i++ {
		c.runCycle(ctx)
	}

	snap := c.Snapshot()
	assert.LessOrEqual(t, snap.Checks, 100)
	assert.Equal(t, "Primary", snap.Active)
	assert.Len(t, snap.Endpoints, 2)
}

func TestEventStreamReceivesFailover(t *testing.T) {
	prober := newFakeProber()
	updater := &fakeUpdater{succeed: true}
	c := newTestController(prober, updater)
	ctx := context.Background()

	prober.set("Primary", true, 100*time.Millisecond)
	prober.set("Secondary", true, 50*time.Millisecond)
	c.runCycle(ctx)

	prober.set("Primary", false, 0)
	c.runCycle(ctx)
	c.runCycle(ctx)

	select {
	case ev := <-c.Events():
		assert.Equal(t, ReasonFailure, ev.Reason)
		assert.True(t, ev.Success)
	default:
		t.Fatal("expected a failover event on the stream")
	}
}

func TestShutdownWaitsForInFlightUpdate(t *testing.T) {
	prober := newFakeProber()
	prober.set("Primary", false, 0)
	prober.set("Secondary", true, 40*time.Millisecond)

	updater := &fakeUpdater{succeed: true, delay: 300 * time.Millisecond}

	cfg := testConfig()
	cfg.BaseInterval = 10 * time.Millisecond
	cfg.AcceleratedInterval = 10 * time.Millisecond
	c := NewController(cfg, testDomain(), testEndpoints(), prober, updater, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	// Cancel while the provider fan-out is mid-flight.
	require.Eventually(t, func() bool { return updater.callCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Run must not return until the fan-out it started has finished.
	assert.Equal(t, 1, updater.completedCount())
	assert.Equal(t, "Secondary", c.ActiveName())
}

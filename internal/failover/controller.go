package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/failover-guardian/internal/alert"
	"github.com/leozw/failover-guardian/internal/config"
	"github.com/leozw/failover-guardian/internal/endpoint"
	"github.com/leozw/failover-guardian/internal/metrics"
	"github.com/leozw/failover-guardian/internal/probe"
	"github.com/leozw/failover-guardian/internal/provider"
)

type Reason string

const (
	ReasonFailure      Reason = "failure"
	ReasonOptimization Reason = "optimization"
)

// Event is the immutable record of one failover attempt. It is only created
// after provider updates were actually attempted, never speculatively.
type Event struct {
	ID        string                  `json:"id"`
	Timestamp time.Time               `json:"timestamp"`
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Reason    Reason                  `json:"reason"`
	Providers []provider.UpdateResult `json:"providers"`
	Success   bool                    `json:"success"`
	Duration  time.Duration           `json:"duration_ms"`
}

// Prober abstracts the HTTP prober so cycle behavior is testable without a
// network.
type Prober interface {
	Probe(ctx context.Context, name, url string) probe.Result
}

// Updater abstracts the provider registry fan-out.
type Updater interface {
	UpdateAll(ctx context.Context, rec provider.Record) provider.FanoutResult
}

// IncidentRecorder receives endpoint state changes and failed probes so
// downtime windows can be tracked outside the control loop.
type IncidentRecorder interface {
	OnTransition(t endpoint.Transition, lastError string)
	OnFailedCheck(endpointName, errMsg string)
}

// Controller probes every configured endpoint on an interval, runs each
// endpoint's health state machine, and pushes DNS updates to the provider
// registry when the active endpoint must change. All state is mutated by the
// single Run loop; the mutex exists only because the status API reads
// snapshots from other goroutines.
type Controller struct {
	cfg     config.FailoverConfig
	domain  config.DomainConfig
	prober  Prober
	updater Updater
	alerts  *alert.Service
	metrics *metrics.Collector
	logger  *zap.Logger

	incidents IncidentRecorder

	mu        sync.RWMutex
	endpoints []*endpoint.Endpoint
	active    *endpoint.Endpoint
	history   []probe.Result
	events    []Event

	eventCh     chan Event
	failingOver bool
	accelerated bool
	inFlight    sync.WaitGroup

	now func() time.Time
}

func NewController(
	cfg config.FailoverConfig,
	domain config.DomainConfig,
	endpointCfgs []config.EndpointConfig,
	prober Prober,
	updater Updater,
	alerts *alert.Service,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Controller {
	c := &Controller{
		cfg:     cfg,
		domain:  domain,
		prober:  prober,
		updater: updater,
		alerts:  alerts,
		metrics: collector,
		logger:  logger.With(zap.String("component", "failover")),
		eventCh: make(chan Event, 16),
		now:     time.Now,
	}

	for _, ec := range endpointCfgs {
		c.endpoints = append(c.endpoints, endpoint.New(
			ec.Name, ec.URL, ec.Target,
			cfg.FailureThreshold, cfg.RecoveryThreshold,
		))
	}
	if len(c.endpoints) > 0 {
		// The first configured endpoint starts active; exactly one endpoint
		// is active at any time.
		c.active = c.endpoints[0]
	}
	return c
}

// SetIncidentRecorder attaches an incident tracker. Must be called before
// Run; the hook is invoked synchronously from the probe cycle.
func (c *Controller) SetIncidentRecorder(r IncidentRecorder) { c.incidents = r }

// Events exposes the failover event stream for composition by logging or
// alerting consumers. Sends are non-blocking; a slow consumer drops events
// from the stream but never from the bounded history.
func (c *Controller) Events() <-chan Event { return c.eventCh }

// Run drives probe cycles until ctx is cancelled. Cycles never overlap: each
// one is processed to completion before the timer is re-armed. On shutdown
// an in-flight failover attempt is allowed to finish.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info("Starting failover controller",
		zap.Int("endpoints", len(c.endpoints)),
		zap.Duration("base_interval", c.cfg.BaseInterval),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stopping failover controller")
			c.inFlight.Wait()
			close(c.eventCh)
			return
		case <-timer.C:
			c.runCycle(ctx)
			timer.Reset(c.interval())
		}
	}
}

func (c *Controller) interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accelerated {
		return c.cfg.AcceleratedInterval
	}
	return c.cfg.BaseInterval
}

// runCycle probes every endpoint concurrently, waits for all results, then
// evaluates state transitions and the failover decision sequentially.
func (c *Controller) runCycle(ctx context.Context) {
	results := make([]probe.Result, len(c.endpoints))
	var wg sync.WaitGroup
	for i, ep := range c.endpoints {
		wg.Add(1)
		go func(i int, name, url string) {
			defer wg.Done()
			results[i] = c.prober.Probe(ctx, name, url)
		}(i, ep.Name, ep.URL)
	}
	wg.Wait()

	c.mu.Lock()
	for i, ep := range c.endpoints {
		res := results[i]
		transition := ep.Observe(res.Success, res.ResponseTime, res.Error, res.CheckedAt)

		c.history = append(c.history, res)
		c.pruneHistoryLocked()

		if c.metrics != nil {
			c.metrics.RecordProbe(ep.Name, res.Success, res.ResponseTime)
			c.metrics.SetEndpointHealth(ep.Name, ep.Healthy(), ep.AvgResponseTime())
		}

		if !res.Success && c.incidents != nil {
			c.incidents.OnFailedCheck(ep.Name, res.Error)
		}

		if transition != nil {
			c.logger.Info("Endpoint state transition",
				zap.String("endpoint", transition.Endpoint),
				zap.String("from", string(transition.From)),
				zap.String("to", string(transition.To)),
			)
			if c.incidents != nil {
				c.incidents.OnTransition(*transition, res.Error)
			}
			if transition.To == endpoint.StateUnhealthy && c.alerts != nil {
				c.alerts.Warning(ctx, "failover",
					fmt.Sprintf("endpoint %s became unhealthy: %s", ep.Name, res.Error))
			}
		}
	}
	c.mu.Unlock()

	c.evaluate(ctx)

	c.mu.Lock()
	// Accelerated probing holds until the active endpoint is healthy again,
	// whether through recovery or a successful failover.
	c.accelerated = c.active != nil && c.active.State() == endpoint.StateUnhealthy
	c.mu.Unlock()
}

func (c *Controller) pruneHistoryLocked() {
	maxSize := c.cfg.HistorySize
	if maxSize <= 0 {
		maxSize = 100
	}
	if len(c.history) > maxSize {
		c.history = c.history[len(c.history)-maxSize:]
	}
	if c.cfg.HistoryMaxAge > 0 {
		cutoff := c.now().Add(-c.cfg.HistoryMaxAge)
		for len(c.history) > 0 && c.history[0].CheckedAt.Before(cutoff) {
			c.history = c.history[1:]
		}
	}
}

// evaluate applies the failover decision algorithm for this cycle.
func (c *Controller) evaluate(ctx context.Context) {
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()
	if active == nil {
		return
	}

	if active.State() == endpoint.StateUnhealthy {
		best := c.bestAlternate(active)
		if best == nil {
			c.logger.Error("No healthy endpoints available, staying on degraded endpoint",
				zap.String("active", active.Name),
			)
			if c.alerts != nil {
				c.alerts.Critical(ctx, "failover", "no healthy endpoints available")
			}
			return
		}
		c.failover(ctx, active, best, ReasonFailure)
		return
	}

	// Optimization path: only once the active endpoint has proven stable,
	// and only for a clear latency win. The ratio is a heuristic knob, not a
	// tuned SLO.
	if active.Healthy() && active.ConsecutiveSuccesses() >= c.cfg.StabilityThreshold {
		best := c.bestAlternate(active)
		if best == nil {
			return
		}
		activeAvg := active.AvgResponseTime()
		bestAvg := best.AvgResponseTime()
		if bestAvg > 0 && activeAvg > 0 && float64(bestAvg) < float64(activeAvg)*c.cfg.OptimizationRatio {
			c.logger.Info("Route optimization candidate",
				zap.String("active", active.Name),
				zap.Duration("active_avg", activeAvg),
				zap.String("candidate", best.Name),
				zap.Duration("candidate_avg", bestAvg),
			)
			c.failover(ctx, active, best, ReasonOptimization)
		}
	}
}

// bestAlternate returns the healthy non-active endpoint with the lowest
// rolling average response time. Unhealthy endpoints are never candidates.
func (c *Controller) bestAlternate(active *endpoint.Endpoint) *endpoint.Endpoint {
	var best *endpoint.Endpoint
	for _, ep := range c.endpoints {
		if ep == active || !ep.Healthy() {
			continue
		}
		if best == nil || ep.AvgResponseTime() < best.AvgResponseTime() {
			best = ep
		}
	}
	return best
}

// failover pushes the new target to every available provider and switches
// the active endpoint when at least one provider applied the record. The
// single-flight guard skips re-entrant attempts; the next cycle re-evaluates.
func (c *Controller) failover(ctx context.Context, from, to *endpoint.Endpoint, reason Reason) {
	c.mu.Lock()
	if c.failingOver {
		c.mu.Unlock()
		c.logger.Warn("Failover already in progress, skipping",
			zap.String("candidate", to.Name),
		)
		return
	}
	c.failingOver = true
	c.inFlight.Add(1)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.failingOver = false
		c.mu.Unlock()
		c.inFlight.Done()
	}()

	c.logger.Info("Starting failover",
		zap.String("from", from.Name),
		zap.String("to", to.Name),
		zap.String("reason", string(reason)),
	)

	rec := provider.Record{
		Domain:    c.domain.Name,
		Subdomain: c.domain.Subdomain,
		Target:    to.Target,
		TTL:       c.domain.TTL,
	}

	// A cancelled run still finishes the provider fan-out it started, so a
	// partial multi-provider update is never abandoned mid-write.
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
	defer cancel()

	start := c.now()
	fanout := c.updater.UpdateAll(updateCtx, rec)

	event := Event{
		ID:        uuid.New().String(),
		Timestamp: start,
		From:      from.Name,
		To:        to.Name,
		Reason:    reason,
		Providers: fanout.Results,
		Success:   fanout.Success,
		Duration:  c.now().Sub(start) / time.Millisecond,
	}

	c.mu.Lock()
	c.events = append(c.events, event)
	if len(c.events) > 100 {
		c.events = c.events[len(c.events)-100:]
	}
	if fanout.Success {
		c.active = to
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordFailover(string(reason), fanout.Success)
		for _, res := range fanout.Results {
			c.metrics.RecordProviderUpdate(res.Provider, res.Success)
		}
		c.metrics.SetActiveEndpoint(c.ActiveName(), c.endpointNames())
	}

	select {
	case c.eventCh <- event:
	default:
	}

	if fanout.Success {
		c.logger.Info("Failover complete",
			zap.String("active", to.Name),
			zap.Int("providers", len(fanout.Results)),
		)
		if c.alerts != nil {
			c.alerts.Info(ctx, "failover",
				fmt.Sprintf("active endpoint switched from %s to %s (%s)", from.Name, to.Name, reason))
		}
	} else {
		c.logger.Error("Failover failed, no provider accepted the update",
			zap.String("candidate", to.Name),
		)
		if c.alerts != nil {
			c.alerts.Warning(ctx, "failover",
				fmt.Sprintf("failover to %s failed: no provider accepted the update", to.Name))
		}
	}
}

func (c *Controller) endpointNames() []string {
	names := make([]string, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		names = append(names, ep.Name)
	}
	return names
}

// ActiveName returns the name of the currently active endpoint.
func (c *Controller) ActiveName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return ""
	}
	return c.active.Name
}

// Snapshot is the read-only controller state served by the status API.
type Snapshot struct {
	Active      string              `json:"active"`
	Accelerated bool                `json:"accelerated"`
	Endpoints   []endpoint.Snapshot `json:"endpoints"`
	Events      []Event             `json:"recent_events"`
	Checks      int                 `json:"checks_in_history"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Accelerated: c.accelerated,
		Checks:      len(c.history),
	}
	if c.active != nil {
		snap.Active = c.active.Name
	}
	for _, ep := range c.endpoints {
		snap.Endpoints = append(snap.Endpoints, ep.Snapshot())
	}
	// Most recent ten events, newest last.
	events := c.events
	if len(events) > 10 {
		events = events[len(events)-10:]
	}
	snap.Events = append(snap.Events, events...)
	return snap
}

// RecentEvents returns a copy of the bounded failover event history.
func (c *Controller) RecentEvents() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

package verify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/failover-guardian/internal/config"
)

// CycleState holds every dimension's result for one polling cycle, keyed by
// check name.
type CycleState struct {
	Checks   map[string]CheckResult `json:"checks"`
	Score    int                    `json:"score"`
	MaxScore int                    `json:"max_score"`
}

type checkFunc func(ctx context.Context, target Target) CheckResult

// Verifier polls the public DNS/HTTP/SSL surface until the expected CNAME is
// visible or the deadline passes. It is read-only with respect to DNS
// configuration: it mutates no provider or endpoint state.
type Verifier struct {
	resolvers      []string
	dohEndpoints   []string
	interval       time.Duration
	timeout        time.Duration
	quorumScore    int
	resolverQuorum float64
	probeTimeout   time.Duration
	includeWhois   bool

	httpClient *http.Client
	logger     *zap.Logger

	// Test seams: override the real network surfaces.
	httpBase    string
	sslAddr     string
	sslInsecure bool
	checks      []checkFunc

	now func() time.Time
}

func NewVerifier(cfg config.VerifyConfig, logger *zap.Logger) *Verifier {
	v := &Verifier{
		resolvers:      cfg.Resolvers,
		dohEndpoints:   cfg.DoHEndpoints,
		interval:       cfg.Interval,
		timeout:        cfg.Timeout,
		quorumScore:    cfg.QuorumScore,
		resolverQuorum: cfg.ResolverQuorum,
		probeTimeout:   5 * time.Second,
		includeWhois:   true,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		logger:         logger.With(zap.String("component", "verify")),
		now:            time.Now,
	}
	if v.interval <= 0 {
		v.interval = 10 * time.Second
	}
	if v.timeout <= 0 {
		v.timeout = 5 * time.Minute
	}
	if v.quorumScore <= 0 {
		v.quorumScore = 3
	}
	if v.resolverQuorum <= 0 {
		v.resolverQuorum = 0.5
	}
	v.checks = []checkFunc{
		v.checkLocalDNS,
		v.checkResolvers,
		v.checkDoH,
		v.checkHTTP,
		v.checkSSL,
	}
	return v
}

// runChecks executes every dimension concurrently and scores the cycle. A
// check that hangs is bounded by its own timeout, so one stuck call cannot
// block the cycle indefinitely.
func (v *Verifier) runChecks(ctx context.Context, target Target) CycleState {
	checks := v.checks
	if v.includeWhois {
		checks = append(append([]checkFunc{}, checks...), v.checkWhois)
	}

	state := CycleState{Checks: make(map[string]CheckResult, len(checks))}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, check := range checks {
		wg.Add(1)
		go func(check checkFunc) {
			defer wg.Done()
			result := check(ctx, target)
			mu.Lock()
			state.Checks[result.Name] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	for _, result := range state.Checks {
		state.MaxScore += result.Weight
		if result.Passed {
			state.Score += result.Weight
		}
	}
	return state
}

// Run polls until the quorum score is met or the deadline elapses and
// returns the terminal report. The report is always produced; a timeout is a
// reportable outcome, not an error.
func (v *Verifier) Run(ctx context.Context, target Target) *Report {
	start := v.now()
	deadline := start.Add(v.timeout)

	v.logger.Info("Starting verification",
		zap.String("fqdn", target.FQDN()),
		zap.String("expected", target.Expected),
		zap.Duration("timeout", v.timeout),
	)

	var cycles int
	var last CycleState
	for {
		cycles++
		last = v.runChecks(ctx, target)

		v.logger.Info("Verification cycle",
			zap.Int("cycle", cycles),
			zap.Int("score", last.Score),
			zap.Int("max_score", last.MaxScore),
			zap.Int("quorum", v.quorumScore),
		)

		if last.Score >= v.quorumScore {
			return v.buildReport(target, StatusSuccess, last, cycles, v.now().Sub(start))
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := v.interval
		if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return v.buildReport(target, StatusTimeout, last, cycles, v.now().Sub(start))
		case <-time.After(wait):
		}
		if v.now().After(deadline) {
			break
		}
	}

	return v.buildReport(target, StatusTimeout, last, cycles, v.now().Sub(start))
}

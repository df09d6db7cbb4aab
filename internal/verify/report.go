package verify

import (
	"fmt"
	"sort"
	"time"
)

type Status string

const (
	StatusSuccess    Status = "success"
	StatusTimeout    Status = "timeout"
	StatusInProgress Status = "in-progress"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

type Recommendation struct {
	Priority Priority `json:"priority"`
	Message  string   `json:"message"`
}

// Report is the aggregate of one verification run. It is never mutated after
// creation.
type Report struct {
	Target          Target           `json:"target"`
	Status          Status           `json:"status"`
	Elapsed         time.Duration    `json:"elapsed_ms"`
	Cycles          int              `json:"cycles"`
	Final           CycleState       `json:"final_state"`
	Recommendations []Recommendation `json:"recommendations"`
	NextSteps       []string         `json:"next_steps"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

func (v *Verifier) buildReport(target Target, status Status, state CycleState, cycles int, elapsed time.Duration) *Report {
	return &Report{
		Target:          target,
		Status:          status,
		Elapsed:         elapsed / time.Millisecond,
		Cycles:          cycles,
		Final:           state,
		Recommendations: buildRecommendations(state),
		NextSteps:       nextSteps(status, target),
		GeneratedAt:     v.now(),
	}
}

// buildRecommendations turns failed dimensions into ranked, concrete advice.
// High priority goes to failures an operator must act on; medium to ones
// that usually resolve themselves with propagation time.
func buildRecommendations(state CycleState) []Recommendation {
	var recs []Recommendation

	add := func(name string, failed func(CheckResult) []Recommendation) {
		if result, ok := state.Checks[name]; ok && !result.Passed {
			recs = append(recs, failed(result)...)
		}
	}

	add("local_dns", func(r CheckResult) []Recommendation {
		return []Recommendation{{
			Priority: PriorityMedium,
			Message:  "Local resolver does not see the CNAME yet; flush the local DNS cache or wait for the record TTL to expire",
		}}
	})
	add("public_resolvers", func(r CheckResult) []Recommendation {
		return []Recommendation{{
			Priority: PriorityHigh,
			Message:  fmt.Sprintf("Public resolvers disagree on the record (%s); confirm the CNAME was saved at the DNS provider", r.Error),
		}}
	})
	add("doh", func(r CheckResult) []Recommendation {
		return []Recommendation{{
			Priority: PriorityMedium,
			Message:  "DNS-over-HTTPS services have not picked up the record; this usually resolves within the TTL window",
		}}
	})
	add("http", func(r CheckResult) []Recommendation {
		return []Recommendation{{
			Priority: PriorityHigh,
			Message:  fmt.Sprintf("The subdomain is not reachable over HTTP (%s); verify the hosting deployment is live and the custom domain is attached", r.Error),
		}}
	})
	add("ssl", func(r CheckResult) []Recommendation {
		return []Recommendation{{
			Priority: PriorityHigh,
			Message:  fmt.Sprintf("TLS is not valid for the subdomain (%s); provision or renew the certificate on the hosting provider", r.Error),
		}}
	})
	add("whois", func(r CheckResult) []Recommendation {
		return []Recommendation{{
			Priority: PriorityHigh,
			Message:  fmt.Sprintf("Apex domain registration problem (%s); renew the domain before debugging DNS any further", r.Error),
		}}
	})

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority == PriorityHigh && recs[j].Priority != PriorityHigh
	})
	return recs
}

func nextSteps(status Status, target Target) []string {
	switch status {
	case StatusSuccess:
		return []string{
			fmt.Sprintf("Open https://%s and confirm the application loads", target.FQDN()),
			"Confirm the TLS certificate covers the subdomain",
			"Keep the failover monitor running to catch regressions",
		}
	case StatusTimeout:
		return []string{
			"Log into the DNS provider console and confirm the CNAME record exists and points to " + target.Expected,
			"Check the record TTL; high TTLs can delay propagation by hours",
			fmt.Sprintf("Query selected resolvers manually: dig CNAME %s @8.8.8.8", target.FQDN()),
			"If the record is correct, re-run verification later; worldwide propagation can take up to 48h",
			"As a stopgap, share the direct deployment URL with users",
		}
	default:
		return []string{
			"Verification is still polling; no manual action needed yet",
		}
	}
}

package endpoint

import (
	"time"
)

type State string

const (
	StateUnknown   State = "unknown"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// Transition is emitted by Observe when an endpoint crosses a hysteresis
// threshold. A nil transition means the observation changed counters only.
type Transition struct {
	Endpoint string    `json:"endpoint"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	At       time.Time `json:"at"`
}

// Endpoint is one candidate destination the controller can route traffic to.
// All mutation happens from the single controller loop, so no locking here.
type Endpoint struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Target string `json:"target"`

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int

	failureThreshold  int
	recoveryThreshold int

	samples      []sample // bounded rolling window
	windowSize   int
	totalChecks  int
	totalSuccess int

	lastSuccess bool
	lastError   string
	lastChecked time.Time
}

type sample struct {
	success  bool
	duration time.Duration
}

func New(name, url, target string, failureThreshold, recoveryThreshold int) *Endpoint {
	if failureThreshold < 1 {
		failureThreshold = 2
	}
	if recoveryThreshold < 1 {
		recoveryThreshold = 3
	}
	return &Endpoint{
		Name:              name,
		URL:               url,
		Target:            target,
		state:             StateUnknown,
		failureThreshold:  failureThreshold,
		recoveryThreshold: recoveryThreshold,
		windowSize:        50,
	}
}

// Observe feeds one probe outcome into the state machine and returns the
// transition it caused, if any. Healthy requires recoveryThreshold
// consecutive successes; unhealthy requires failureThreshold consecutive
// failures. A single contrary probe resets the opposing streak, which is the
// hysteresis that stops flapping.
func (e *Endpoint) Observe(success bool, duration time.Duration, errMsg string, at time.Time) *Transition {
	e.lastSuccess = success
	e.lastError = errMsg
	e.lastChecked = at
	e.totalChecks++

	e.samples = append(e.samples, sample{success: success, duration: duration})
	if len(e.samples) > e.windowSize {
		e.samples = e.samples[1:]
	}

	if success {
		e.totalSuccess++
		e.consecutiveSuccesses++
		e.consecutiveFailures = 0
	} else {
		e.consecutiveFailures++
		e.consecutiveSuccesses = 0
	}

	switch e.state {
	case StateUnknown:
		// First threshold crossing resolves the initial state; a single
		// success is enough to start from healthy.
		if success {
			return e.transition(StateHealthy, at)
		}
		if e.consecutiveFailures >= e.failureThreshold {
			return e.transition(StateUnhealthy, at)
		}
	case StateHealthy:
		if !success && e.consecutiveFailures >= e.failureThreshold {
			return e.transition(StateUnhealthy, at)
		}
	case StateUnhealthy:
		if success && e.consecutiveSuccesses >= e.recoveryThreshold {
			return e.transition(StateHealthy, at)
		}
	}
	return nil
}

func (e *Endpoint) transition(to State, at time.Time) *Transition {
	t := &Transition{Endpoint: e.Name, From: e.state, To: to, At: at}
	e.state = to
	return t
}

func (e *Endpoint) State() State { return e.state }

func (e *Endpoint) Healthy() bool { return e.state == StateHealthy }

func (e *Endpoint) ConsecutiveFailures() int { return e.consecutiveFailures }

func (e *Endpoint) ConsecutiveSuccesses() int { return e.consecutiveSuccesses }

// AvgResponseTime is the mean duration of successful probes in the rolling
// window. Endpoints with no successful sample report 0.
func (e *Endpoint) AvgResponseTime() time.Duration {
	var total time.Duration
	var n int
	for _, s := range e.samples {
		if s.success {
			total += s.duration
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// Uptime is the lifetime success percentage for this run.
func (e *Endpoint) Uptime() float64 {
	if e.totalChecks == 0 {
		return 0
	}
	return float64(e.totalSuccess) / float64(e.totalChecks) * 100
}

func (e *Endpoint) LastChecked() time.Time { return e.lastChecked }

func (e *Endpoint) LastError() string { return e.lastError }

// Snapshot is the read-only view exposed over the status API.
type Snapshot struct {
	Name                 string        `json:"name"`
	URL                  string        `json:"url"`
	Target               string        `json:"target"`
	State                State         `json:"state"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	AvgResponseTime      time.Duration `json:"avg_response_time_ms"`
	Uptime               float64       `json:"uptime_percent"`
	LastChecked          time.Time     `json:"last_checked"`
	LastError            string        `json:"last_error,omitempty"`
}

func (e *Endpoint) Snapshot() Snapshot {
	return Snapshot{
		Name:                 e.Name,
		URL:                  e.URL,
		Target:               e.Target,
		State:                e.state,
		ConsecutiveFailures:  e.consecutiveFailures,
		ConsecutiveSuccesses: e.consecutiveSuccesses,
		AvgResponseTime:      e.AvgResponseTime() / time.Millisecond,
		Uptime:               e.Uptime(),
		LastChecked:          e.lastChecked,
		LastError:            e.lastError,
	}
}

package incidents

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/failover-guardian/internal/artifact"
	"github.com/leozw/failover-guardian/internal/endpoint"
)

// Incident is one continuous unhealthy window for an endpoint.
type Incident struct {
	ID              string     `json:"id"`
	Endpoint        string     `json:"endpoint"`
	StartedAt       time.Time  `json:"started_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	Severity        string     `json:"severity"`
	AffectedChecks  int        `json:"affected_checks"`
	DowntimeMinutes int        `json:"downtime_minutes"`
	LastError       string     `json:"last_error,omitempty"`
}

func (i *Incident) Resolved() bool { return i.ResolvedAt != nil }

// Service tracks unhealthy windows per endpoint, driven by the controller's
// state transitions and failed probes. Resolved incidents are persisted as
// report artifacts and kept in a bounded in-memory history.
type Service struct {
	mu      sync.Mutex
	open    map[string]*Incident
	history []*Incident

	sink   artifact.Sink
	logger *zap.Logger
}

func NewService(sink artifact.Sink, logger *zap.Logger) *Service {
	return &Service{
		open:   make(map[string]*Incident),
		sink:   sink,
		logger: logger.With(zap.String("component", "incidents")),
	}
}

// OnTransition opens an incident when an endpoint goes unhealthy and
// resolves the open one when it recovers.
func (s *Service) OnTransition(t endpoint.Transition, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch t.To {
	case endpoint.StateUnhealthy:
		if _, exists := s.open[t.Endpoint]; exists {
			return
		}
		incident := &Incident{
			ID:             uuid.New().String(),
			Endpoint:       t.Endpoint,
			StartedAt:      t.At,
			Severity:       "critical",
			AffectedChecks: 1,
			LastError:      lastError,
		}
		s.open[t.Endpoint] = incident
		s.logger.Info("Opened incident",
			zap.String("incident_id", incident.ID),
			zap.String("endpoint", t.Endpoint),
			zap.String("error", lastError),
		)

	case endpoint.StateHealthy:
		incident, exists := s.open[t.Endpoint]
		if !exists {
			return
		}
		delete(s.open, t.Endpoint)

		resolvedAt := t.At
		incident.ResolvedAt = &resolvedAt
		incident.DowntimeMinutes = int(resolvedAt.Sub(incident.StartedAt).Minutes())
		s.appendHistoryLocked(incident)

		s.logger.Info("Resolved incident",
			zap.String("incident_id", incident.ID),
			zap.String("endpoint", t.Endpoint),
			zap.Int("downtime_minutes", incident.DowntimeMinutes),
		)

		if s.sink != nil {
			if _, err := s.sink.WriteReport("incident", incident); err != nil {
				s.logger.Warn("Failed to persist incident", zap.Error(err))
			}
		}
	}
}

// OnFailedCheck extends the open incident for the endpoint, if any.
func (s *Service) OnFailedCheck(endpointName, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, exists := s.open[endpointName]
	if !exists {
		return
	}
	incident.AffectedChecks++
	incident.LastError = errMsg
	incident.DowntimeMinutes = int(time.Since(incident.StartedAt).Minutes())
}

func (s *Service) appendHistoryLocked(incident *Incident) {
	s.history = append(s.history, incident)
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
}

// Open returns the currently unresolved incidents.
func (s *Service) Open() []Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Incident, 0, len(s.open))
	for _, incident := range s.open {
		out = append(out, *incident)
	}
	return out
}

// Recent returns resolved incidents, newest last.
func (s *Service) Recent() []Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Incident, 0, len(s.history))
	for _, incident := range s.history {
		out = append(out, *incident)
	}
	return out
}

// Summary aggregates downtime per endpoint across resolved and open
// incidents, for the status API.
func (s *Service) Summary() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	minutes := make(map[string]int)
	counts := make(map[string]int)
	for _, incident := range s.history {
		minutes[incident.Endpoint] += incident.DowntimeMinutes
		counts[incident.Endpoint]++
	}
	for _, incident := range s.open {
		minutes[incident.Endpoint] += int(time.Since(incident.StartedAt).Minutes())
		counts[incident.Endpoint]++
	}

	out := make(map[string]string, len(minutes))
	for name, mins := range minutes {
		out[name] = fmt.Sprintf("%d incidents, %dm total downtime", counts[name], mins)
	}
	return out
}

package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/failover-guardian/internal/artifact"
	"github.com/leozw/failover-guardian/internal/metrics"
	"github.com/leozw/failover-guardian/internal/queue"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Service fans alerts out to the artifact log and, when configured, a redis
// queue for operator tooling. Critical severity is reserved for total
// failure conditions: no available provider or no healthy endpoint.
type Service struct {
	sink    artifact.Sink
	queue   *queue.RedisQueue
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewService(sink artifact.Sink, q *queue.RedisQueue, collector *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{sink: sink, queue: q, metrics: collector, logger: logger}
}

func (s *Service) Emit(ctx context.Context, severity Severity, source, message string) {
	a := Alert{
		ID:        uuid.New().String(),
		Severity:  severity,
		Source:    source,
		Message:   message,
		CreatedAt: time.Now(),
	}

	switch severity {
	case SeverityCritical:
		s.logger.Error("ALERT", zap.String("source", source), zap.String("message", message))
	case SeverityWarning:
		s.logger.Warn("ALERT", zap.String("source", source), zap.String("message", message))
	default:
		s.logger.Info("ALERT", zap.String("source", source), zap.String("message", message))
	}

	if s.metrics != nil {
		s.metrics.RecordAlert(string(severity))
	}

	if s.sink != nil {
		if err := s.sink.AppendAlert(a); err != nil {
			s.logger.Warn("Failed to persist alert", zap.Error(err))
		}
	}

	if s.queue != nil {
		item := &queue.Item{
			ID:        a.ID,
			Severity:  string(a.Severity),
			Source:    a.Source,
			Message:   a.Message,
			CreatedAt: a.CreatedAt,
		}
		if err := s.queue.Push(ctx, item); err != nil {
			s.logger.Warn("Failed to queue alert", zap.Error(err))
		}
	}
}

func (s *Service) Info(ctx context.Context, source, message string) {
	s.Emit(ctx, SeverityInfo, source, message)
}

func (s *Service) Warning(ctx context.Context, source, message string) {
	s.Emit(ctx, SeverityWarning, source, message)
}

func (s *Service) Critical(ctx context.Context, source, message string) {
	s.Emit(ctx, SeverityCritical, source, message)
}

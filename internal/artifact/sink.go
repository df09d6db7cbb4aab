package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Sink persists run artifacts: one-shot JSON reports and an append-only
// alert log. It is an interface so report generation never needs to know
// whether artifacts land on disk or somewhere structured later.
type Sink interface {
	WriteReport(name string, v any) (string, error)
	AppendAlert(v any) error
}

// FileSink writes reports as timestamped JSON files under reportsDir and
// alerts as JSON lines under logsDir.
type FileSink struct {
	reportsDir string
	logsDir    string
	now        func() time.Time
}

func NewFileSink(reportsDir, logsDir string) *FileSink {
	return &FileSink{reportsDir: reportsDir, logsDir: logsDir, now: time.Now}
}

func (s *FileSink) WriteReport(name string, v any) (string, error) {
	if err := os.MkdirAll(s.reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	filename := fmt.Sprintf("%s-%s.json", name, s.now().Format("20060102-150405"))
	path := filepath.Join(s.reportsDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func (s *FileSink) AppendAlert(v any) error {
	if err := os.MkdirAll(s.logsDir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(s.logsDir, "alerts.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return nil
}

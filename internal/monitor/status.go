package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TriggerStatus is the persisted schedule of one trigger.
type TriggerStatus struct {
	Keyword   string  `json:"keyword"`
	File      string  `json:"file"`
	Action    Action  `json:"action"`
	NextCheck float64 `json:"next_check_seconds"`
	Matches   int     `json:"matches"`
}

// Status is the monitor state written to monitor_<phase>.json.
type Status struct {
	Phase     string          `json:"phase"`
	State     State           `json:"state"`
	PID       int             `json:"pid"`
	JobID     string          `json:"job_id,omitempty"`
	Elapsed   float64         `json:"elapsed_seconds"`
	Message   string          `json:"message,omitempty"`
	Triggers  []TriggerStatus `json:"triggers,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (m *Monitor) status() Status {
	s := Status{
		Phase:     m.cfg.Phase,
		State:     m.state,
		PID:       m.cfg.PID,
		JobID:     m.cfg.JobID,
		Elapsed:   m.elapsed.Seconds(),
		Message:   m.message,
		UpdatedAt: m.now().UTC(),
	}
	for _, t := range m.cfg.Triggers {
		s.Triggers = append(s.Triggers, TriggerStatus{
			Keyword:   t.Keyword,
			File:      t.File,
			Action:    t.Action,
			NextCheck: t.NextCheck.Seconds(),
			Matches:   t.matches,
		})
	}
	return s
}

// SaveStatus writes status to path atomically.
func SaveStatus(path string, s Status) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal monitor status: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write monitor status: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename monitor status: %w", err)
	}
	return nil
}

// LoadStatus reads a persisted status.
func LoadStatus(path string) (Status, error) {
	var s Status
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse monitor status: %w", err)
	}
	return s, nil
}

// Package report writes the machine-readable JSON reports produced by
// the backfill and audit tools. Each run writes one timestamped report
// file plus a <tool>_latest.json pointer copy so automation can always
// find the most recent run without listing the directory.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Envelope is the common wrapper around a tool's report payload. The
// same envelope is emitted to the reports directory and, with --json,
// to stdout, so the two are interchangeable for automation.
type Envelope struct {
	Tool       string    `json:"tool"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"` // "ok" or "error"
	Error      string    `json:"error,omitempty"`
	Data       any       `json:"data"`
}

// New builds an envelope for a finished run. runErr, when non-nil, marks
// the envelope as failed; the payload is still included so partial
// counters survive for diagnosis.
func New(tool string, startedAt time.Time, data any, runErr error) Envelope {
	e := Envelope{
		Tool:       tool,
		RunID:      uuid.NewString(),
		StartedAt:  startedAt.UTC(),
		FinishedAt: time.Now().UTC(),
		Status:     "ok",
		Data:       data,
	}
	if runErr != nil {
		e.Status = "error"
		e.Error = runErr.Error()
	}
	return e
}

// Write persists the envelope under dir as <tool>_<runid>.json and
// refreshes <tool>_latest.json. It returns the path of the timestamped
// report file.
func Write(dir string, e Envelope) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", e.Tool, e.RunID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	latest := filepath.Join(dir, fmt.Sprintf("%s_latest.json", e.Tool))
	if err := os.WriteFile(latest, data, 0o644); err != nil {
		return "", fmt.Errorf("write latest report pointer: %w", err)
	}

	return path, nil
}

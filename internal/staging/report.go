package staging

import (
	"fmt"
	"strings"

	"github.com/rescale/simchain/internal/logging"
)

// Problem is one entry that could not be staged.
type Problem struct {
	Model    string `json:"model" yaml:"model"`
	Category string `json:"category" yaml:"category"`
	Path     string `json:"path" yaml:"path"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func (p Problem) String() string {
	if p.Reason == "" {
		return fmt.Sprintf("%s/%s %s", p.Model, p.Category, p.Path)
	}
	return fmt.Sprintf("%s/%s %s: %s", p.Model, p.Category, p.Path, p.Reason)
}

// Report aggregates the outcome of staging operations. Problems are
// collected rather than returned so a run can proceed past optional
// missing inputs.
type Report struct {
	Missing   []Problem `json:"missing,omitempty"`
	Conflicts []Problem `json:"conflicts,omitempty"`
	Failed    []Problem `json:"failed,omitempty"`
	Unknown   []string  `json:"unknown,omitempty"`

	Copied  int   `json:"copied"`
	Linked  int   `json:"linked"`
	Moved   int   `json:"moved"`
	Renamed int   `json:"renamed"`
	Skipped int   `json:"skipped"`
	Bytes   int64 `json:"bytes"`
}

// Merge adds other into r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Missing = append(r.Missing, other.Missing...)
	r.Conflicts = append(r.Conflicts, other.Conflicts...)
	r.Failed = append(r.Failed, other.Failed...)
	r.Unknown = append(r.Unknown, other.Unknown...)
	r.Copied += other.Copied
	r.Linked += other.Linked
	r.Moved += other.Moved
	r.Renamed += other.Renamed
	r.Skipped += other.Skipped
	r.Bytes += other.Bytes
}

// HasProblems reports whether anything needs operator attention.
func (r *Report) HasProblems() bool {
	return len(r.Missing)+len(r.Conflicts)+len(r.Failed) > 0
}

// Summary is a one-line description of the report.
func (r *Report) Summary() string {
	parts := []string{
		fmt.Sprintf("%d copied", r.Copied),
		fmt.Sprintf("%d linked", r.Linked),
		fmt.Sprintf("%d moved", r.Moved),
		fmt.Sprintf("%d unchanged", r.Skipped),
	}
	if r.Renamed > 0 {
		parts = append(parts, fmt.Sprintf("%d archived", r.Renamed))
	}
	if n := len(r.Missing); n > 0 {
		parts = append(parts, fmt.Sprintf("%d missing", n))
	}
	if n := len(r.Conflicts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d conflicts", n))
	}
	if n := len(r.Failed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	if n := len(r.Unknown); n > 0 {
		parts = append(parts, fmt.Sprintf("%d unknown", n))
	}
	return strings.Join(parts, ", ")
}

// Log writes the summary and every problem to logger.
func (r *Report) Log(logger *logging.Logger, stage string) {
	logger.Info().Str("stage", stage).Int64("bytes", r.Bytes).Msg(r.Summary())
	for _, p := range r.Missing {
		logger.Warn().Str("stage", stage).Str("model", p.Model).Str("category", p.Category).Msgf("missing file: %s", p.Path)
	}
	for _, p := range r.Conflicts {
		logger.Warn().Str("stage", stage).Str("model", p.Model).Str("category", p.Category).Msgf("not overwritten: %s (%s)", p.Path, p.Reason)
	}
	for _, p := range r.Failed {
		logger.Error().Str("stage", stage).Str("model", p.Model).Str("category", p.Category).Msgf("failed: %s: %s", p.Path, p.Reason)
	}
	for _, u := range r.Unknown {
		logger.Warn().Str("stage", stage).Msgf("unknown file in work directory: %s", u)
	}
}

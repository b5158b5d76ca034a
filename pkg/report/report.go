// Package report holds grading results and writes or publishes them.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Result is the outcome of one check.
type Result struct {
	Check   string  `json:"check" yaml:"check"`
	Passed  bool    `json:"passed" yaml:"passed"`
	Weight  float64 `json:"weight" yaml:"weight"`
	Kind    string  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Message string  `json:"message,omitempty" yaml:"message,omitempty"`
}

// Report is the graded outcome of one run of a plan.
type Report struct {
	ID        string    `json:"id" yaml:"id"`
	Exercise  string    `json:"exercise" yaml:"exercise"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	Results   []Result  `json:"results" yaml:"results"`
	Score     float64   `json:"score" yaml:"score"`
	MaxScore  float64   `json:"max_score" yaml:"max_score"`
}

// New starts a report with a fresh run ID.
func New(exercise string) *Report {
	return &Report{
		ID:        uuid.NewString(),
		Exercise:  exercise,
		StartedAt: time.Now().UTC(),
		Results:   []Result{},
	}
}

// Add appends res and updates the score.
func (r *Report) Add(res Result) {
	r.Results = append(r.Results, res)
	r.MaxScore += res.Weight
	if res.Passed {
		r.Score += res.Weight
	}
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Formats supported by Write.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Write encodes r to w in format.
func Write(w io.Writer, r *Report, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown report format %q", format)
}

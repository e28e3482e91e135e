// Package diagnostics carries operator-facing reports about strips: frames
// cut short, hardware that could not be claimed, teardowns that timed out.
package diagnostics

import (
	"sync"

	"github.com/rs/zerolog"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

// Codes emitted by the driver.
const (
	FrameIncomplete  = "FRAME.INCOMPLETE"
	ClaimFailed      = "HW.CLAIM_FAILED"
	TeardownTimeout  = "TEARDOWN.TIMEOUT"
	StripStarted     = "STRIP.STARTED"
	StripStopped     = "STRIP.STOPPED"
	PatternUnknown   = "PATTERN.UNKNOWN"
	PatternCompleted = "PATTERN.DONE"
)

type Diagnostic struct {
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Strip          string         `json:"strip,omitempty"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Sink receives diagnostics. Report must not block.
type Sink interface {
	Report(d Diagnostic)
}

// Log writes diagnostics to a zerolog logger at a level matching their
// severity.
type Log struct {
	L zerolog.Logger
}

func (s Log) Report(d Diagnostic) {
	ev := s.L.Info()
	switch d.Severity {
	case Warn:
		ev = s.L.Warn()
	case Err:
		ev = s.L.Error()
	}
	ev = ev.Str("code", d.Code)
	if d.Strip != "" {
		ev = ev.Str("strip", d.Strip)
	}
	if d.Detail != "" {
		ev = ev.Str("detail", d.Detail)
	}
	if len(d.Evidence) > 0 {
		ev = ev.Fields(d.Evidence)
	}
	ev.Msg(d.Summary)
}

// Multi fans a diagnostic out to several sinks.
type Multi []Sink

func (m Multi) Report(d Diagnostic) {
	for _, s := range m {
		if s != nil {
			s.Report(d)
		}
	}
}

// Recorder keeps every diagnostic it receives.
type Recorder struct {
	mu   sync.Mutex
	list []Diagnostic
}

func (r *Recorder) Report(d Diagnostic) {
	r.mu.Lock()
	r.list = append(r.list, d)
	r.mu.Unlock()
}

// All returns the recorded diagnostics in arrival order.
func (r *Recorder) All() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Diagnostic(nil), r.list...)
}

// Codes returns the codes of the recorded diagnostics.
func (r *Recorder) Codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.list))
	for i, d := range r.list {
		out[i] = d.Code
	}
	return out
}

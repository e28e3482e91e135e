package diagnostics

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	s := Log{L: zerolog.New(&buf)}
	s.Report(Diagnostic{Severity: Warn, Code: FrameIncomplete, Strip: "a", Summary: "cut short", Evidence: map[string]any{"frame": 3}})

	var ev map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "warn", ev["level"])
	assert.Equal(t, FrameIncomplete, ev["code"])
	assert.Equal(t, "a", ev["strip"])
	assert.Equal(t, "cut short", ev["message"])
	assert.EqualValues(t, 3, ev["frame"])

	buf.Reset()
	s.Report(Diagnostic{Severity: Err, Code: ClaimFailed})
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "error", ev["level"])
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, nil, b}
	m.Report(Diagnostic{Code: StripStarted})
	m.Report(Diagnostic{Code: StripStopped})
	assert.Equal(t, []string{StripStarted, StripStopped}, a.Codes())
	assert.Equal(t, a.All(), b.All())
}

func TestDiagnosticJSON(t *testing.T) {
	b, err := json.Marshal(Diagnostic{Severity: Info, Code: PatternCompleted, Summary: "done"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"severity":"info","code":"PATTERN.DONE","summary":"done"}`, string(b))
}

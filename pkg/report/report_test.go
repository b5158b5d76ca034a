package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	r := &Report{
		ID:        "4f6c7f4e-2b5e-4a8e-9d0a-3f1c2b7e9a10",
		Exercise:  "calculator",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Results:   []Result{},
	}
	r.Add(Result{Check: "class exists", Passed: true, Weight: 1})
	r.Add(Result{Check: "add", Passed: true, Weight: 2})
	r.Add(Result{Check: "divide", Weight: 1, Kind: "method-error", Message: "boom"})
	return r
}

func TestNew(t *testing.T) {
	r := New("calculator")
	_, err := uuid.Parse(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "calculator", r.Exercise)
	assert.Equal(t, time.UTC, r.StartedAt.Location())
	assert.NotEqual(t, r.ID, New("calculator").ID)
	assert.True(t, r.Passed())
}

func TestAdd(t *testing.T) {
	r := sampleReport()
	assert.Equal(t, 3.0, r.Score)
	assert.Equal(t, 4.0, r.MaxScore)
	assert.False(t, r.Passed())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), FormatJSON))

	want := `{
  "id": "4f6c7f4e-2b5e-4a8e-9d0a-3f1c2b7e9a10",
  "exercise": "calculator",
  "started_at": "2026-01-02T03:04:05Z",
  "results": [
    {
      "check": "class exists",
      "passed": true,
      "weight": 1
    },
    {
      "check": "add",
      "passed": true,
      "weight": 2
    },
    {
      "check": "divide",
      "passed": false,
      "weight": 1,
      "kind": "method-error",
      "message": "boom"
    }
  ],
  "score": 3,
  "max_score": 4
}
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("JSON mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), FormatYAML))

	out := buf.String()
	for _, line := range []string{
		"id: 4f6c7f4e-2b5e-4a8e-9d0a-3f1c2b7e9a10",
		"exercise: calculator",
		"  - check: divide",
		"    kind: method-error",
		"    message: boom",
		"score: 3",
		"max_score: 4",
	} {
		assert.Contains(t, strings.Split(out, "\n"), line)
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, sampleReport(), "xml")
	assert.EqualError(t, err, `unknown report format "xml"`)
}

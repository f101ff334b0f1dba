package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/run"
)

func sampleResult() *run.Result {
	r := run.NewResult(run.Forward, "run-1")
	r.Update(func(s *run.Stats) {
		s.Scanned = 5
		s.Processed = 4
		s.RowsInserted = 4
	})
	r.Fail("rec-3", "", errors.NewValidationError("name", "rec-3", "record has no name"))
	r.Finish()
	return r
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"", "", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectFormatExplicit(t *testing.T) {
	assert.Equal(t, FormatYAML, DetectFormat("YAML"))
}

func TestResultToTables(t *testing.T) {
	tables := ResultToTables(sampleResult())
	require.Len(t, tables, 2)

	stats := tables[0]
	assert.Equal(t, []string{"Pass", "forward"}, stats.Rows[0])
	assert.Contains(t, stats.Rows, []string{"Processed", "4"})
	assert.Contains(t, stats.Rows, []string{"Errors", "1"})

	failures := tables[1]
	require.Len(t, failures.Rows, 1)
	assert.Equal(t, "Validation", failures.Rows[0][0])
	assert.Equal(t, "rec-3", failures.Rows[0][1])
}

func TestResultToTablesWithoutErrors(t *testing.T) {
	r := run.NewResult(run.Reverse, "run-2")
	r.Finish()
	assert.Len(t, ResultToTables(r), 1)
}

func TestWriteResult(t *testing.T) {
	result := sampleResult()

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteResult(&buf, FormatTable, result))
		out := buf.String()
		assert.Contains(t, out, "Processed")
		assert.Contains(t, out, "rec-3")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteResult(&buf, FormatJSON, result))
		var decoded struct {
			RunID string    `json:"run_id"`
			Stats run.Stats `json:"stats"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "run-1", decoded.RunID)
		assert.Equal(t, 4, decoded.Stats.Processed)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteResult(&buf, FormatYAML, result))
		assert.Contains(t, buf.String(), "processed: 4")
		assert.Contains(t, buf.String(), "kind: validation")
	})
}

func TestFormatterFunc(t *testing.T) {
	var buf bytes.Buffer
	f := FormatterFunc(func(w io.Writer, data any) error {
		_, err := fmt.Fprint(w, data)
		return err
	})
	require.NoError(t, f.Format(&buf, "ok"))
	assert.Equal(t, "ok", buf.String())
}

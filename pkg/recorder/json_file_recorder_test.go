package recorder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFileRecorder_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.jsonl")
	r := NewJSONFileRecorder(path)

	require.NoError(t, r.Record(map[string]any{"run_id": "1"}))
	require.NoError(t, r.Record(map[string]any{"run_id": "2"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"run_id":"2"}`, lines[1])
}

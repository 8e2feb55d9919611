package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WarnLevel)

	l.Info("should be dropped")
	require.Empty(t, buf.String())

	l.Warn("should appear", String("channel", "room-1"))
	require.NotEmpty(t, buf.String())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, "room-1", entry["channel"])
}

func TestWithFieldsAccumulates(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DebugLevel).WithFields(String("agent", "alice"))
	l.Info("connected")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "alice", entry["agent"])
	require.Equal(t, "connected", entry["message"])
}

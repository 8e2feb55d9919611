package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("AGENT_BROKER_HOST", "broker.internal")

	got := SubstituteEnvVars("https://${AGENT_BROKER_HOST}:443")
	require.Equal(t, "https://broker.internal:443", got)

	got = SubstituteEnvVars("${UNSET_VAR:fallback}")
	require.Equal(t, "fallback", got)
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := "broker:\n  control_addr: \"${TEST_BROKER_ADDR}\"\n  api_key_scope: private\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("TEST_BROKER_ADDR", "https://example.test")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://example.test", cfg.Broker.ControlAddr)
	require.Equal(t, "private", cfg.Broker.APIKeyScope)
	require.Equal(t, uint32(20), cfg.Receive.DefaultLimit)
}

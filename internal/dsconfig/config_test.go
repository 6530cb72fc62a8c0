package dsconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromParsesEnvFile(t *testing.T) {
	path := writeEnvFile(t, "# comment\nDS_TEAM_NUMBER=254\nDS_TARGET_IP=10.2.54.2\n")
	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	require.Equal(t, uint32(254), cfg.TeamNumber)
	require.Equal(t, "10.2.54.2", cfg.TargetIP)
}

func TestLoadFromMissingFileIsNotAnError(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "does-not-exist.env"))
	require.NoError(t, err)
	require.Equal(t, Config{}, cfg)
}

func TestEnvironmentOverridesFileContents(t *testing.T) {
	path := writeEnvFile(t, "DS_TEAM_NUMBER=254\n")
	t.Setenv(envTeamNumber, "1678")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	require.Equal(t, uint32(1678), cfg.TeamNumber)
}

func TestLoadFromIgnoresMalformedLines(t *testing.T) {
	path := writeEnvFile(t, "not a valid line\nDS_TEAM_NUMBER=notanumber\nDS_TARGET_IP=192.168.1.1\n")
	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	require.Equal(t, uint32(0), cfg.TeamNumber)
	require.Equal(t, "192.168.1.1", cfg.TargetIP)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFlagsDefaults(t *testing.T) {
	f, err := ParseFlags(nil)
	require.NoError(t, err)
	require.Equal(t, "/etc/dfw/policy.toml", f.ConfigPath)
	require.Equal(t, time.Duration(0), f.LoadInterval)
	require.False(t, f.DisableIPv6)
	require.False(t, f.DryRun)
	require.Equal(t, "info", f.LogLevel)
}

func TestParseFlagsOverrides(t *testing.T) {
	f, err := ParseFlags([]string{
		"-config", "/tmp/policy.d",
		"-load-interval", "30s",
		"-disable-ipv6",
		"-dry-run",
		"-log-level", "debug",
	})
	require.NoError(t, err)
	require.Equal(t, "/tmp/policy.d", f.ConfigPath)
	require.Equal(t, 30*time.Second, f.LoadInterval)
	require.True(t, f.DisableIPv6)
	require.True(t, f.DryRun)
	require.Equal(t, "debug", f.LogLevel)
}

func TestParseFlagsRejectsUnknownFlag(t *testing.T) {
	_, err := ParseFlags([]string{"-nonsense"})
	require.Error(t, err)
}

func TestLoadPolicyDispatchesFileVsDir(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "policy.toml")
	require.NoError(t, os.WriteFile(filePath, []byte("[defaults]\ninput = \"drop\"\n"), 0644))

	pol, err := loadPolicy(filePath)
	require.NoError(t, err)
	require.EqualValues(t, "drop", pol.Defaults.Input)

	fragDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fragDir, "00-defaults.toml"), []byte("[defaults]\ninput = \"accept\"\n"), 0644))

	pol, err = loadPolicy(fragDir)
	require.NoError(t, err)
	require.EqualValues(t, "accept", pol.Defaults.Input)
}

func TestLoadPolicyMissingPath(t *testing.T) {
	_, err := loadPolicy(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

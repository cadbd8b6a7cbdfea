package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cryfs-go/cryfs/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckMountDirs_MissingBaseDirIsAllowed(t *testing.T) {
	mountDir := t.TempDir()
	mountCfg := &cfg.Config{
		BaseDir:  cfg.ResolvedPath(filepath.Join(t.TempDir(), "does-not-exist-yet")),
		MountDir: cfg.ResolvedPath(mountDir),
	}

	assert.NoError(t, checkMountDirs(mountCfg))
}

func TestCheckMountDirs_MissingMountDirIsRejected(t *testing.T) {
	mountCfg := &cfg.Config{
		BaseDir:  cfg.ResolvedPath(t.TempDir()),
		MountDir: cfg.ResolvedPath(filepath.Join(t.TempDir(), "does-not-exist")),
	}

	err := checkMountDirs(mountCfg)

	require.Error(t, err)
	assert.Equal(t, exitInaccessibleMountDir, exitCodeFor(err))
}

func TestConfigFileExists(t *testing.T) {
	baseDir := t.TempDir()
	mountCfg := &cfg.Config{BaseDir: cfg.ResolvedPath(baseDir)}

	assert.False(t, configFileExists(mountCfg))

	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "cryfs.config"), nil, 0o600))

	assert.True(t, configFileExists(mountCfg))
}

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cryfs-go/cryfs/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePassword_FromEnvironment(t *testing.T) {
	t.Setenv("CRYFS_TEST_PASSWORD", "hunter2")
	mountCfg := &cfg.Config{Password: cfg.PasswordConfig{
		Source:     cfg.PasswordFromEnvironment,
		EnvVarName: "CRYFS_TEST_PASSWORD",
	}}

	password, err := resolvePassword(mountCfg)

	require.NoError(t, err)
	assert.Equal(t, "hunter2", password)
}

func TestResolvePassword_FromEnvironment_MissingVar(t *testing.T) {
	mountCfg := &cfg.Config{Password: cfg.PasswordConfig{
		Source:     cfg.PasswordFromEnvironment,
		EnvVarName: "CRYFS_TEST_PASSWORD_UNSET",
	}}

	_, err := resolvePassword(mountCfg)

	assert.Error(t, err)
}

func TestResolvePassword_FromFile_TrimsTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "password.txt")
	require.NoError(t, os.WriteFile(path, []byte("correct-horse-battery-staple\n"), 0o600))
	mountCfg := &cfg.Config{Password: cfg.PasswordConfig{
		Source:   cfg.PasswordFromFile,
		FilePath: cfg.ResolvedPath(path),
	}}

	password, err := resolvePassword(mountCfg)

	require.NoError(t, err)
	assert.Equal(t, "correct-horse-battery-staple", password)
}

func TestResolvePassword_Interactive_NoninteractiveRefuses(t *testing.T) {
	mountCfg := &cfg.Config{Password: cfg.PasswordConfig{
		Source:         cfg.PasswordFromInteractivePrompt,
		Noninteractive: true,
	}}

	_, err := resolvePassword(mountCfg)

	assert.Error(t, err)
}

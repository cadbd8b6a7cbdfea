// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cryfs-go/cryfs/cfg"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/cryfsfs"
)

// runMount is rootCmd's RunE body: it resolves the mount password,
// creates or opens the filesystem at mountCfg.BaseDir, and then blocks
// until interrupted. Everything past this point that would translate
// FUSE kernel requests into Tree lookups belongs to an adapter layer
// outside this module's scope (spec.md §1); this function is the
// handoff: the object tree is fully built and ready to be driven by one.
func runMount(ctx context.Context, mountCfg *cfg.Config) error {
	if err := checkMountDirs(mountCfg); err != nil {
		exitWith(exitCodeFor(err), err)
	}

	password, err := resolvePassword(mountCfg)
	if err != nil {
		exitWith(exitWrongPassword, err)
	}

	var fsys *cryfsfs.Filesystem
	if configFileExists(mountCfg) {
		fsys, err = cryfsfs.Open(mountCfg, password)
	} else if isNoninteractive(mountCfg) {
		exitWith(exitInvalidArguments, fmt.Errorf("%s does not contain a filesystem, and noninteractive mode refuses to create one unprompted", mountCfg.BaseDir))
	} else {
		fmt.Fprintf(os.Stdout, "%s does not contain a filesystem yet. Creating a new one.\n", mountCfg.BaseDir)
		fsys, err = cryfsfs.Create(mountCfg, password)
	}
	if err != nil {
		exitWith(exitCodeFor(err), err)
	}

	fmt.Fprintf(os.Stdout, "Filesystem %s ready (cipher %s). Mounted at %s. Press Ctrl-C to unmount.\n",
		fsys.Config.FilesystemId, fsys.Config.CipherName, mountCfg.MountDir)

	waitForUnmountSignal(ctx)

	tainted := fsys.Tainted()
	if err := fsys.Close(ctx); err != nil {
		return err
	}
	if tainted {
		return cryfserrors.New(cryfserrors.KindIntegrityViolation, "cmd.runMount: integrity violation detected during this mount")
	}
	return nil
}

// waitForUnmountSignal blocks until the process receives SIGINT/SIGTERM
// or ctx is cancelled, whichever comes first.
func waitForUnmountSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}

// isNoninteractive reports whether prompts (beyond the password itself)
// must be suppressed: config-not-found and wrong-password become fatal
// rather than re-prompted or silently resolved (spec.md §6).
func isNoninteractive(mountCfg *cfg.Config) bool {
	return mountCfg.Password.Noninteractive || os.Getenv("CRYFS_FRONTEND") == "noninteractive"
}

func configFilePath(mountCfg *cfg.Config) string {
	if p := os.Getenv("CRYFS_CONFIG_FILE"); p != "" {
		return p
	}
	return filepath.Join(string(mountCfg.BaseDir), cryfsfs.ConfigFileName)
}

func configFileExists(mountCfg *cfg.Config) bool {
	_, err := os.Stat(configFilePath(mountCfg))
	return err == nil
}

// checkMountDirs enforces the base-dir/mount-dir accessibility rules
// spec.md §6 assigns their own exit codes, ahead of any core operation.
func checkMountDirs(mountCfg *cfg.Config) error {
	baseDir := string(mountCfg.BaseDir)
	if info, err := os.Stat(baseDir); err != nil {
		if !os.IsNotExist(err) {
			return &dirError{exitInaccessibleBaseDir, fmt.Errorf("inaccessible base-dir %q: %w", baseDir, err)}
		}
	} else if !info.IsDir() {
		return &dirError{exitInaccessibleBaseDir, fmt.Errorf("base-dir %q is not a directory", baseDir)}
	}

	mountDir := string(mountCfg.MountDir)
	info, err := os.Stat(mountDir)
	if err != nil {
		return &dirError{exitInaccessibleMountDir, fmt.Errorf("inaccessible mount-dir %q: %w", mountDir, err)}
	}
	if !info.IsDir() {
		return &dirError{exitInaccessibleMountDir, fmt.Errorf("mount-dir %q is not a directory", mountDir)}
	}

	return nil
}

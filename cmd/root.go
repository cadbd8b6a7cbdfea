// Copyright 2024 Google Inc. All Rights Reserved.
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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cryfs-go/cryfs/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	mountConfig   cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "cryfs [flags] base-dir mount-dir",
	Short: "Mount an encrypted directory",
	Long: `cryfs presents a ciphertext-at-rest directory as a plaintext POSIX
filesystem. base-dir holds the encrypted blocks; mount-dir is where the
decrypted view is exposed. If base-dir has no cryfs.config yet, one is
created (prompting for a new password unless --password.source says
otherwise); a hard part of mounting happens before the FUSE adapter ever
sees a path: deriving keys, validating local state, and replaying the
block-store stack up through the object layer.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		baseDir, mountDir, err := populateArgs(args)
		if err != nil {
			exitWith(exitInvalidArguments, err)
		}
		mountConfig.BaseDir = cfg.ResolvedPath(baseDir)
		mountConfig.MountDir = cfg.ResolvedPath(mountDir)

		if err := cfg.ValidateConfig(&mountConfig); err != nil {
			if strings.Contains(err.Error(), "inside mount-dir") {
				exitWith(exitBaseDirInsideMountDir, err)
			}
			exitWith(exitInvalidArguments, err)
		}
		return runMount(cmd.Context(), &mountConfig)
	},
}

func populateArgs(args []string) (baseDir, mountDir string, err error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("cryfs takes exactly two arguments: base-dir and mount-dir")
	}
	return args[0], args[1], nil
}

// Execute runs the root command, terminating the process with the
// matching exit code (spec.md §6) on failure.
func Execute() {
	defer recoverToCrashLog()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to an optional defaults file (yaml), merged beneath flags and environment.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(clearTaintCmd)
}

func initConfig() {
	mountConfig = cfg.GetDefaultConfig()
	viper.SetEnvPrefix("cryfs")
	viper.AutomaticEnv()

	if cfgFile != "" {
		resolved, err := filepath.Abs(cfgFile)
		if err != nil {
			configFileErr = fmt.Errorf("error while resolving config file path: %w", err)
			return
		}
		viper.SetConfigFile(resolved)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("error while reading config file: %w", err)
			return
		}
	}

	unmarshalErr = viper.Unmarshal(&mountConfig, viper.DecodeHook(cfg.DecodeHook()))
}

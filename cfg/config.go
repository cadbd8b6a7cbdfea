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

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of mount-time options (spec.md §8): where the
// ciphertext lives, where it's mounted, how the password is obtained,
// and the block-layer policy knobs.
type Config struct {
	BaseDir  ResolvedPath `yaml:"base-dir"`
	MountDir ResolvedPath `yaml:"mount-dir"`

	Password PasswordConfig `yaml:"password"`

	Create CreateConfig `yaml:"create"`

	Integrity IntegrityConfig `yaml:"integrity"`

	Cache CacheConfig `yaml:"cache"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`

	Debug DebugConfig `yaml:"debug"`
}

// PasswordConfig controls where the mount password comes from.
type PasswordConfig struct {
	Source PasswordSource `yaml:"source"`
	// EnvVarName is read when Source is "environment".
	EnvVarName string `yaml:"env-var-name"`
	// FilePath is read (whole contents, trailing newline trimmed) when
	// Source is "file".
	FilePath ResolvedPath `yaml:"file-path"`
	// Noninteractive mirrors CRYFS_FRONTEND=noninteractive: config not
	// found, or a wrong password, is fatal instead of re-prompted.
	Noninteractive bool `yaml:"noninteractive"`
}

// CreateConfig controls parameters used only the first time a base dir
// is mounted, when there is no config file yet to read them back from.
type CreateConfig struct {
	CipherName     CipherName `yaml:"cipher"`
	BlockSizeBytes uint32     `yaml:"block-size-bytes"`
	// SingleClientMode, set only when creating a new filesystem, records
	// this mount's client id into the config as its sole permitted
	// client (spec.md §6 SingleClientFileSystem=23).
	SingleClientMode bool `yaml:"single-client-mode"`
}

// IntegrityConfig controls the integrity layer's tolerance for
// violations (spec.md §4.B).
type IntegrityConfig struct {
	AllowIntegrityViolations         bool `yaml:"allow-integrity-violations"`
	MissingBlockIsIntegrityViolation bool `yaml:"missing-block-is-integrity-violation"`
	AllowReplacedFilesystem          bool `yaml:"allow-replaced-filesystem"`
}

// CacheConfig controls the caching layer's capacity and flush policy
// (spec.md §4.D).
type CacheConfig struct {
	CapacityBlocks       int `yaml:"capacity-blocks"`
	MaxAgeSeconds        int `yaml:"max-age-seconds"`
	SweepIntervalSeconds int `yaml:"sweep-interval-seconds"`
}

// FileSystemConfig controls inode-level presentation.
type FileSystemConfig struct {
	FileMode Octal `yaml:"file-mode"`
	DirMode  Octal `yaml:"dir-mode"`
	Uid      int   `yaml:"uid"`
	Gid      int   `yaml:"gid"`
}

// DebugConfig controls internal diagnostics, unrelated to filesystem
// correctness.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`
}

// MetricsConfig controls whether the block-store stack reports counters
// through a PrometheusHandle (internal/metrics) instead of the default
// no-op one, and where those series are served.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen-address"`
}

// LoggingConfig controls where and how cryfs logs.
type LoggingConfig struct {
	Severity  LogSeverity            `yaml:"severity"`
	Format    string                 `yaml:"format"`
	FilePath  ResolvedPath           `yaml:"file-path"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

// LogRotateLoggingConfig controls lumberjack-backed file rotation, used
// only when LoggingConfig.FilePath is set.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// BindFlags registers every mount-time flag and binds it into viper
// under the same dotted key Config's yaml tags use, so a config file and
// the command line populate the same namespace.
func BindFlags(flagSet *pflag.FlagSet) error {
	bind := func(key string) error {
		return viper.BindPFlag(key, flagSet.Lookup(key))
	}

	flagSet.String("password.source", string(PasswordFromInteractivePrompt), "Where to read the mount password from: interactive, environment, or file.")
	if err := bind("password.source"); err != nil {
		return err
	}

	flagSet.String("password.env-var-name", "CRYFS_FRONTEND_PASSWORD", "Environment variable to read the password from when password.source=environment.")
	if err := bind("password.env-var-name"); err != nil {
		return err
	}

	flagSet.String("password.file-path", "", "File to read the password from when password.source=file.")
	if err := bind("password.file-path"); err != nil {
		return err
	}

	flagSet.Bool("password.noninteractive", false, "Fail instead of re-prompting on a missing config or wrong password (CRYFS_FRONTEND=noninteractive).")
	if err := bind("password.noninteractive"); err != nil {
		return err
	}

	flagSet.String("create.cipher", DefaultCipherName, "Inner cipher to use when creating a new filesystem.")
	if err := bind("create.cipher"); err != nil {
		return err
	}

	flagSet.Uint32("create.block-size-bytes", DefaultBlockSizeBytes, "Block payload size to use when creating a new filesystem.")
	if err := bind("create.block-size-bytes"); err != nil {
		return err
	}

	flagSet.Bool("create.single-client-mode", false, "Restrict the new filesystem to this mount's client id; any other client that later tries to mount it fails with SingleClientFileSystem.")
	if err := bind("create.single-client-mode"); err != nil {
		return err
	}

	flagSet.Bool("integrity.allow-integrity-violations", false, "Log integrity violations instead of tainting the filesystem and refusing further mounts.")
	if err := bind("integrity.allow-integrity-violations"); err != nil {
		return err
	}

	flagSet.Bool("integrity.missing-block-is-integrity-violation", false, "Treat a previously seen block that is now missing as a deletion attack.")
	if err := bind("integrity.missing-block-is-integrity-violation"); err != nil {
		return err
	}

	flagSet.Bool("integrity.allow-replaced-filesystem", false, "Skip the local-state encryption-key fingerprint check.")
	if err := bind("integrity.allow-replaced-filesystem"); err != nil {
		return err
	}

	flagSet.Int("cache.capacity-blocks", DefaultCacheCapacity(), "Maximum number of blocks held resident by the caching layer.")
	if err := bind("cache.capacity-blocks"); err != nil {
		return err
	}

	flagSet.Int("cache.max-age-seconds", DefaultCacheMaxAgeSeconds, "Age at which a clean cached block becomes eligible for eviction.")
	if err := bind("cache.max-age-seconds"); err != nil {
		return err
	}

	flagSet.Int("cache.sweep-interval-seconds", DefaultCacheSweepIntervalSeconds, "How often the cache's background sweeper runs.")
	if err := bind("cache.sweep-interval-seconds"); err != nil {
		return err
	}

	flagSet.IntP("file-system.file-mode", "", 0, "Permissions bits for files, in octal.")
	if err := bind("file-system.file-mode"); err != nil {
		return err
	}

	flagSet.IntP("file-system.uid", "", -1, "UID owner of all inodes; -1 means the mounting user.")
	if err := bind("file-system.uid"); err != nil {
		return err
	}

	flagSet.IntP("file-system.gid", "", -1, "GID owner of all inodes; -1 means the mounting user's primary group.")
	if err := bind("file-system.gid"); err != nil {
		return err
	}

	flagSet.String("logging.severity", string(InfoLogSeverity), "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	if err := bind("logging.severity"); err != nil {
		return err
	}

	flagSet.Bool("debug.exit-on-invariant-violation", false, "Exit when internal invariants are violated.")
	if err := bind("debug.exit-on-invariant-violation"); err != nil {
		return err
	}

	flagSet.Bool("metrics.enabled", false, "Serve block-store/cache/integrity counters via a prometheus HTTP endpoint instead of discarding them.")
	if err := bind("metrics.enabled"); err != nil {
		return err
	}

	flagSet.String("metrics.listen-address", DefaultMetricsListenAddress, "Address the prometheus metrics endpoint listens on when metrics.enabled is set.")
	if err := bind("metrics.listen-address"); err != nil {
		return err
	}

	return nil
}

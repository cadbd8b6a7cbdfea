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
	"fmt"
	"strings"

	"github.com/cryfs-go/cryfs/internal/cipher"
)

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidCreateConfig(c *CreateConfig) error {
	if _, err := cipher.Lookup(string(c.CipherName)); err != nil {
		return fmt.Errorf("unknown cipher %q: %w", c.CipherName, err)
	}
	if c.BlockSizeBytes < 4096 {
		return fmt.Errorf("block-size-bytes must be at least 4096, got %d", c.BlockSizeBytes)
	}
	return nil
}

func isValidCacheConfig(c *CacheConfig) error {
	if c.CapacityBlocks < 0 {
		return fmt.Errorf("cache.capacity-blocks can't be negative")
	}
	if c.MaxAgeSeconds <= 0 {
		return fmt.Errorf("cache.max-age-seconds must be positive")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	if err := isValidCreateConfig(&config.Create); err != nil {
		return fmt.Errorf("error parsing create config: %w", err)
	}

	if err := isValidCacheConfig(&config.Cache); err != nil {
		return fmt.Errorf("error parsing cache config: %w", err)
	}

	if config.Metrics.Enabled && config.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics.listen-address is required when metrics.enabled is set")
	}

	if config.BaseDir == "" {
		return fmt.Errorf("base-dir is required")
	}
	if config.MountDir == "" {
		return fmt.Errorf("mount-dir is required")
	}
	if config.BaseDir == config.MountDir {
		return fmt.Errorf("base-dir and mount-dir must differ")
	}
	if strings.HasPrefix(string(config.BaseDir)+"/", string(config.MountDir)+"/") {
		return fmt.Errorf("base-dir must not be inside mount-dir")
	}

	return nil
}

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
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	c := GetDefaultConfig()
	c.BaseDir = "/data/cryfs-base"
	c.MountDir = "/mnt/cryfs"
	return &c
}

func TestValidateConfig_DefaultsWithBaseAndMountDir_IsValid(t *testing.T) {
	assert.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfig_MissingBaseDir_Errors(t *testing.T) {
	c := validConfig()
	c.BaseDir = ""
	assert.Error(t, ValidateConfig(c))
}

func TestValidateConfig_SameBaseAndMountDir_Errors(t *testing.T) {
	c := validConfig()
	c.MountDir = c.BaseDir
	assert.Error(t, ValidateConfig(c))
}

func TestValidateConfig_BaseDirInsideMountDir_Errors(t *testing.T) {
	c := validConfig()
	c.MountDir = "/mnt"
	c.BaseDir = "/mnt/cryfs/base"
	assert.Error(t, ValidateConfig(c))
}

func TestValidateConfig_UnknownCipher_Errors(t *testing.T) {
	c := validConfig()
	c.Create.CipherName = "not-a-real-cipher"
	assert.Error(t, ValidateConfig(c))
}

func TestValidateConfig_TooSmallBlockSize_Errors(t *testing.T) {
	c := validConfig()
	c.Create.BlockSizeBytes = 1024
	assert.Error(t, ValidateConfig(c))
}

func TestValidateConfig_NegativeCacheCapacity_Errors(t *testing.T) {
	c := validConfig()
	c.Cache.CapacityBlocks = -1
	assert.Error(t, ValidateConfig(c))
}

func TestValidateConfig_ZeroLogRotateMaxFileSize_Errors(t *testing.T) {
	c := validConfig()
	c.Logging.LogRotate.MaxFileSizeMb = 0
	assert.Error(t, ValidateConfig(c))
}

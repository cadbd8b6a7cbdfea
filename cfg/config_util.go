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

package cfg

import (
	"fmt"
	"path/filepath"
)

// resolvePath turns path into an absolute path, so the rest of the core
// never has to reason about the process's working directory changing
// (e.g. after a future daemonizing re-exec).
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", path, err)
	}
	return abs, nil
}

// DefaultCacheCapacity returns the default number of blocks the caching
// layer keeps resident. spec.md §4.D describes sizing this from
// get_total_memory(); lacking that probe, a fixed default is used
// instead and left overridable via Config.Cache.CapacityBlocks.
func DefaultCacheCapacity() int {
	return 4096
}

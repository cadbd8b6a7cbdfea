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

const (
	// Logging-level constants

	TRACE   string = "TRACE"
	DEBUG   string = "DEBUG"
	INFO    string = "INFO"
	WARNING string = "WARNING"
	ERROR   string = "ERROR"
	OFF     string = "OFF"
)

const (
	// Block-layer defaults (spec.md §4.A/4.D/6).

	// DefaultBlockSizeBytes is the payload size of a block absent any
	// --block-size-bytes override; spec.md §6 gives 32 KiB as typical.
	DefaultBlockSizeBytes uint32 = 32 * 1024

	// DefaultCipherName is the inner (and outer) AEAD cryfs uses for new
	// filesystems.
	DefaultCipherName = "aes-256-gcm"

	// DefaultCacheMaxAgeSeconds is how long a clean cached block may sit
	// resident before the sweeper evicts it (spec.md §4.D: "~10s").
	DefaultCacheMaxAgeSeconds = 10

	// DefaultCacheSweepIntervalSeconds is how often the cache's
	// background sweeper runs.
	DefaultCacheSweepIntervalSeconds = 1

	// DefaultMetricsListenAddress is where the prometheus metrics
	// endpoint listens absent a --metrics.listen-address override, when
	// metrics.enabled is set.
	DefaultMetricsListenAddress = "127.0.0.1:9191"
)

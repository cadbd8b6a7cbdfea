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
	"slices"
	"strconv"
	"strings"

	"github.com/cryfs-go/cryfs/internal/cipher"
)

// Octal is the datatype for params such as file-mode and dir-mode which accept a base-8 value.
type Octal int

func (o *Octal) UnmarshalText(text []byte) error {
	v, err := strconv.ParseInt(string(text) /*base=*/, 8 /*bitSize=*/, 32)
	if err != nil {
		return err
	}
	*o = Octal(v)
	return nil
}

func (o Octal) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(o), 8)), nil
}

func (o Octal) String() string {
	return fmt.Sprintf("%o", int64(o))
}

// LogSeverity represents the logging severity and can accept the following values
// "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"
type LogSeverity string

// Constants for all supported log severities.
const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

// severityRanking maps each level to an integer for validation and comparison.
var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank returns the integer representation of the severity rank.
// Returns -1 if the severity is unknown.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	// This case should ideally not be reached as LogSeverity configs are validated before mounting.
	return -1
}

// ResolvedPath represents a file-path resolved to an absolute path at
// flag-parse time, so later code never has to reason about the
// process's current working directory changing underneath it.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	path, err := resolvePath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(path)
	return nil
}

// CipherName names an entry in the internal/cipher registry. Validated
// against that registry rather than a fixed list here, so a build that
// registers an additional cipher needs no change to this type.
type CipherName string

func (c *CipherName) UnmarshalText(text []byte) error {
	name := string(text)
	if _, err := cipher.Lookup(name); err != nil {
		return fmt.Errorf("invalid cipher %q, must be one of %v", name, cipher.Names())
	}
	*c = CipherName(name)
	return nil
}

// PasswordSource names where the mount password comes from.
type PasswordSource string

const (
	PasswordFromInteractivePrompt PasswordSource = "interactive"
	PasswordFromEnvironment       PasswordSource = "environment"
	PasswordFromFile              PasswordSource = "file"
)

func (p *PasswordSource) UnmarshalText(text []byte) error {
	source := PasswordSource(strings.ToLower(string(text)))
	valid := []PasswordSource{PasswordFromInteractivePrompt, PasswordFromEnvironment, PasswordFromFile}
	if !slices.Contains(valid, source) {
		return fmt.Errorf("invalid password source %q, must be one of %v", text, valid)
	}
	*p = source
	return nil
}

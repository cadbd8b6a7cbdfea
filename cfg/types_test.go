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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOctal_UnmarshalText_ParsesBase8(t *testing.T) {
	var o Octal
	assert.NoError(t, o.UnmarshalText([]byte("750")))
	assert.Equal(t, Octal(0o750), o)
	assert.Equal(t, "750", o.String())
}

func TestOctal_UnmarshalText_RejectsNonOctalDigits(t *testing.T) {
	var o Octal
	assert.Error(t, o.UnmarshalText([]byte("999")))
}

func TestOctal_MarshalText_RoundTrips(t *testing.T) {
	o := Octal(0o640)
	text, err := o.MarshalText()
	assert.NoError(t, err)

	var back Octal
	assert.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, o, back)
}

func TestLogSeverity_UnmarshalText_AcceptsKnownLevelsCaseInsensitively(t *testing.T) {
	var l LogSeverity
	assert.NoError(t, l.UnmarshalText([]byte("warning")))
	assert.Equal(t, WarningLogSeverity, l)
}

func TestLogSeverity_UnmarshalText_RejectsUnknownLevel(t *testing.T) {
	var l LogSeverity
	assert.Error(t, l.UnmarshalText([]byte("VERBOSE")))
}

func TestLogSeverity_Rank_OrdersFromTraceToOff(t *testing.T) {
	assert.Less(t, TraceLogSeverity.Rank(), DebugLogSeverity.Rank())
	assert.Less(t, DebugLogSeverity.Rank(), InfoLogSeverity.Rank())
	assert.Less(t, InfoLogSeverity.Rank(), WarningLogSeverity.Rank())
	assert.Less(t, WarningLogSeverity.Rank(), ErrorLogSeverity.Rank())
	assert.Less(t, ErrorLogSeverity.Rank(), OffLogSeverity.Rank())
}

func TestLogSeverity_Rank_UnknownIsNegativeOne(t *testing.T) {
	assert.Equal(t, -1, LogSeverity("bogus").Rank())
}

func TestResolvedPath_UnmarshalText_ResolvesToAbsolutePath(t *testing.T) {
	var p ResolvedPath
	assert.NoError(t, p.UnmarshalText([]byte("relative/dir")))
	assert.True(t, len(p) > 0 && p[0] == '/')
}

func TestCipherName_UnmarshalText_AcceptsRegisteredCipher(t *testing.T) {
	var c CipherName
	assert.NoError(t, c.UnmarshalText([]byte(DefaultCipherName)))
	assert.Equal(t, CipherName(DefaultCipherName), c)
}

func TestCipherName_UnmarshalText_RejectsUnknownCipher(t *testing.T) {
	var c CipherName
	assert.Error(t, c.UnmarshalText([]byte("rot13")))
}

func TestPasswordSource_UnmarshalText_AcceptsKnownSources(t *testing.T) {
	var p PasswordSource
	assert.NoError(t, p.UnmarshalText([]byte("Environment")))
	assert.Equal(t, PasswordFromEnvironment, p)
}

func TestPasswordSource_UnmarshalText_RejectsUnknownSource(t *testing.T) {
	var p PasswordSource
	assert.Error(t, p.UnmarshalText([]byte("keychain")))
}

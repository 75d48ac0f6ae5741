// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostGo = "go version go1.24.4 linux/amd64"

func TestResolveConsistency(t *testing.T) {
	// For every supported mode the resolved flag set must be internally
	// consistent: no mutually exclusive pair may appear together.
	for _, mode := range Modes {
		flags, err := Resolve(Profile{Mode: mode, GOOS: "linux", GOARCH: "amd64"}, hostGo)
		require.NoError(t, err, "mode %v", mode)
		args := flags.Args()
		for _, pair := range exclusiveFlags {
			both := containsFlag(args, pair[0]) && containsFlag(args, pair[1])
			assert.False(t, both, "mode %v emits both %v and %v", mode, pair[0], pair[1])
		}
	}
}

func TestDebugTriageNoCoverage(t *testing.T) {
	flags, err := Resolve(Profile{Mode: ModeDebugTriage, GOOS: "linux", GOARCH: "amd64"}, hostGo)
	require.NoError(t, err)
	for _, arg := range flags.Args() {
		assert.NotContains(t, arg, "libfuzzer", "debug build must not carry coverage instrumentation")
	}
	assert.NotContains(t, flags.Args(), "-asan")
	assert.NotContains(t, flags.Args(), "-race")
}

func TestNoInstrMode(t *testing.T) {
	flags, err := Resolve(Profile{Mode: ModeFuzzingNoInstr, GOOS: "linux", GOARCH: "amd64"}, hostGo)
	require.NoError(t, err)
	assert.Contains(t, flags.BuildTags, "fuzzing")
	for _, arg := range flags.Args() {
		assert.NotContains(t, arg, "libfuzzer", "feedback-less build must not carry coverage instrumentation")
	}
	assert.NotContains(t, flags.Args(), "-asan")
}

func TestFuzzingCoverage(t *testing.T) {
	for _, mode := range []Mode{ModeFuzzing, ModeFuzzingSanitized} {
		flags, err := Resolve(Profile{Mode: mode, GOOS: "linux", GOARCH: "amd64"}, hostGo)
		require.NoError(t, err)
		assert.Contains(t, flags.Gcflags, coverGcflag, "mode %v", mode)
		assert.Contains(t, flags.BuildTags, "fuzzing")
	}
}

func TestModeStamp(t *testing.T) {
	for _, mode := range Modes {
		flags, err := Resolve(Profile{Mode: mode, GOOS: "linux", GOARCH: "amd64"}, hostGo)
		require.NoError(t, err)
		found := false
		for _, ld := range flags.Ldflags {
			if strings.Contains(ld, buildModeVar+"="+mode.String()) {
				found = true
			}
		}
		assert.True(t, found, "mode %v is not stamped into the binary", mode)
	}
}

func TestExclusiveExtraFlags(t *testing.T) {
	tests := []struct {
		mode  Mode
		extra []string
		ok    bool
	}{
		{ModeFuzzing, nil, true},
		{ModeFuzzing, []string{"-race"}, true},
		{ModeFuzzing, []string{"-race", "-asan"}, false},
		{ModeFuzzingSanitized, []string{"-race"}, false}, // mode already carries -asan
		{ModeFuzzingSanitized, []string{"-msan"}, false},
		{ModeFuzzingNoInstr, []string{"-gcflags=all=-d=libfuzzer"}, false},
		{ModeDebugTriage, []string{"-gcflags=all=-d=libfuzzer"}, false},
		{ModeDebugTriage, []string{"-trimpath"}, true},
	}
	for _, test := range tests {
		_, err := Resolve(Profile{
			Mode: test.mode, GOOS: "linux", GOARCH: "amd64", ExtraFlags: test.extra,
		}, hostGo)
		if test.ok {
			assert.NoError(t, err, "mode %v extra %v", test.mode, test.extra)
			continue
		}
		require.Error(t, err, "mode %v extra %v", test.mode, test.extra)
		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr), "error is not a ConfigError: %v", err)
	}
}

func TestSanitizerToolchainCheck(t *testing.T) {
	profile := Profile{Mode: ModeFuzzingSanitized, GOOS: "linux", GOARCH: "amd64"}
	_, err := Resolve(profile, "go version go1.17.13 linux/amd64")
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))

	_, err = Resolve(profile, "go version go1.18 linux/amd64")
	assert.NoError(t, err)

	_, err = Resolve(profile, "gibberish")
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	prints := make(map[string]Mode)
	for _, mode := range Modes {
		flags, err := Resolve(Profile{Mode: mode, GOOS: "linux", GOARCH: "amd64"}, hostGo)
		require.NoError(t, err)
		fp := flags.Fingerprint()
		if prev, ok := prints[fp]; ok {
			t.Fatalf("modes %v and %v share fingerprint %v", prev, mode, fp)
		}
		prints[fp] = mode
		// Stable across repeated resolution.
		flags2, err := Resolve(Profile{Mode: mode, GOOS: "linux", GOARCH: "amd64"}, hostGo)
		require.NoError(t, err)
		assert.Equal(t, fp, flags2.Fingerprint())
		if diff := cmp.Diff(flags, flags2); diff != "" {
			t.Fatalf("mode %v resolves differently across calls:\n%v", mode, diff)
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, mode := range Modes {
		got, err := ParseMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}
	_, err := ParseMode("bogus")
	assert.Error(t, err)
}

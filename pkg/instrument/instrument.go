// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package instrument computes the go build flags for a build profile.
// The mode uniquely determines the instrumentation and sanitizer set:
//
//	ModeFuzzing           coverage instrumentation, optimized, no sanitizers
//	ModeFuzzingSanitized  coverage instrumentation + address sanitizer
//	ModeFuzzingNoInstr    no coverage instrumentation, engine runs feedback-less
//	ModeDebugTriage       full debug info, no coverage instrumentation at all
//
// Incompatible combinations are rejected here, before any build is invoked,
// so that the user gets a configuration error instead of a late link failure.
package instrument

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/drahnr/hongg/pkg/tool"
)

// Mode selects the instrumentation profile of a build.
type Mode int

const (
	ModeFuzzing Mode = iota
	ModeFuzzingSanitized
	ModeFuzzingNoInstr
	ModeDebugTriage
)

// Modes enumerates all supported modes (for property tests and CLI help).
var Modes = []Mode{ModeFuzzing, ModeFuzzingSanitized, ModeFuzzingNoInstr, ModeDebugTriage}

func (mode Mode) String() string {
	switch mode {
	case ModeFuzzing:
		return "fuzzing"
	case ModeFuzzingSanitized:
		return "fuzzing-asan"
	case ModeFuzzingNoInstr:
		return "fuzzing-no-instr"
	case ModeDebugTriage:
		return "debug"
	default:
		return fmt.Sprintf("mode-%d", int(mode))
	}
}

func ParseMode(s string) (Mode, error) {
	for _, mode := range Modes {
		if mode.String() == s {
			return mode, nil
		}
	}
	return 0, &ConfigError{What: fmt.Sprintf("unknown build mode %q", s)}
}

// Profile describes one requested build.
// ExtraFlags are user-supplied go build arguments (HONGG_BUILD_FLAGS),
// appended after the resolved flags and validated against them.
type Profile struct {
	Mode       Mode
	GOOS       string
	GOARCH     string
	ExtraFlags []string
}

// Triple returns the target triple used to segregate build output directories.
func (p Profile) Triple() string {
	return p.GOOS + "_" + p.GOARCH
}

// Flags is the resolved, internally consistent flag set for one profile.
type Flags struct {
	BuildTags []string // -tags value
	Gcflags   []string // -gcflags values
	Ldflags   []string // -ldflags values
	BuildArgs []string // remaining go build arguments (-race, -asan, ...)
	Env       []string // environment additions for the build
}

// ConfigError is an incompatible flag/mode combination, detected before
// any build is invoked.
type ConfigError struct {
	What string
}

func (err *ConfigError) Error() string {
	return "configuration error: " + err.What
}

func (err *ConfigError) ExitCode() int { return tool.ExitConfig }

// Coverage instrumentation matching the engine's feedback format.
const coverGcflag = "all=-d=libfuzzer"

// buildModeVar is stamped into the harness runtime so that a binary knows
// which profile produced it. The harness refuses to enter the persistent
// loop when the stamp is missing (a plain `go build` of the target).
const buildModeVar = "github.com/drahnr/hongg/pkg/harness.buildMode"

// Pairs of go build arguments that must never reach the compiler together.
var exclusiveFlags = [][2]string{
	{"-race", "-asan"},
	{"-race", "-msan"},
	{"-asan", "-msan"},
}

// asanMinor is the first go minor version that supports -asan.
const asanMinor = 18

// Resolve computes the flag set for profile p. goVersion is the host
// toolchain version as reported by `go version` (e.g. "go1.24.4").
func Resolve(p Profile, goVersion string) (*Flags, error) {
	flags := &Flags{
		Ldflags: []string{"-X " + buildModeVar + "=" + p.Mode.String()},
	}
	switch p.Mode {
	case ModeFuzzing:
		flags.BuildTags = []string{"fuzzing"}
		flags.Gcflags = []string{coverGcflag}
		flags.Env = []string{"CGO_ENABLED=1"}
	case ModeFuzzingSanitized:
		if err := checkSanitizerSupport(goVersion); err != nil {
			return nil, err
		}
		flags.BuildTags = []string{"fuzzing"}
		flags.Gcflags = []string{coverGcflag}
		flags.BuildArgs = []string{"-asan"}
		flags.Env = []string{"CGO_ENABLED=1"}
	case ModeFuzzingNoInstr:
		// The engine falls back to feedback-less fuzzing; the persistent
		// loop still runs corpus inputs at full speed.
		flags.BuildTags = []string{"fuzzing"}
	case ModeDebugTriage:
		// Reproducing a crash wants debuggable code, not coverage feedback.
		flags.BuildTags = []string{"fuzzing", "fuzzing_debug"}
		flags.Gcflags = []string{"all=-N -l"}
	default:
		return nil, &ConfigError{What: fmt.Sprintf("unknown build mode %v", int(p.Mode))}
	}
	if err := checkExtraFlags(p, flags); err != nil {
		return nil, err
	}
	flags.BuildArgs = append(flags.BuildArgs, p.ExtraFlags...)
	return flags, nil
}

func checkExtraFlags(p Profile, flags *Flags) error {
	all := append(append([]string{}, flags.BuildArgs...), p.ExtraFlags...)
	for _, pair := range exclusiveFlags {
		if containsFlag(all, pair[0]) && containsFlag(all, pair[1]) {
			return &ConfigError{What: fmt.Sprintf(
				"%v and %v are mutually exclusive (mode %v)", pair[0], pair[1], p.Mode)}
		}
	}
	if p.Mode == ModeDebugTriage || p.Mode == ModeFuzzingNoInstr {
		for _, arg := range p.ExtraFlags {
			if strings.Contains(arg, "-d=libfuzzer") {
				return &ConfigError{What: fmt.Sprintf(
					"coverage instrumentation is not allowed in %v mode", p.Mode)}
			}
		}
	}
	return nil
}

func containsFlag(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

var goVersionRe = regexp.MustCompile(`go(\d+)\.(\d+)`)

func checkSanitizerSupport(goVersion string) error {
	match := goVersionRe.FindStringSubmatch(goVersion)
	if match == nil {
		return &ConfigError{What: fmt.Sprintf("cannot parse go toolchain version %q", goVersion)}
	}
	major, _ := strconv.Atoi(match[1])
	minor, _ := strconv.Atoi(match[2])
	if major > 1 || (major == 1 && minor >= asanMinor) {
		return nil
	}
	return &ConfigError{What: fmt.Sprintf(
		"toolchain %v does not support the address sanitizer (need go1.%d+)", goVersion, asanMinor)}
}

// Args assembles the final go build argument list (minus the output path).
func (flags *Flags) Args() []string {
	var args []string
	if len(flags.BuildTags) != 0 {
		args = append(args, "-tags", strings.Join(flags.BuildTags, ","))
	}
	for _, f := range flags.Gcflags {
		args = append(args, "-gcflags", f)
	}
	for _, f := range flags.Ldflags {
		args = append(args, "-ldflags", f)
	}
	return append(args, flags.BuildArgs...)
}

// Fingerprint identifies the flag set. A changed fingerprint invalidates
// previously built artifacts, so a plain build can never be mistaken for
// an instrumented one.
func (flags *Flags) Fingerprint() string {
	var parts []string
	parts = append(parts, flags.BuildTags...)
	parts = append(parts, flags.Gcflags...)
	parts = append(parts, flags.Ldflags...)
	parts = append(parts, flags.BuildArgs...)
	env := append([]string{}, flags.Env...)
	sort.Strings(env)
	parts = append(parts, env...)
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(hash[:16])
}

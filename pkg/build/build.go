// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package build compiles the user's fuzz target with the instrumentation
// flags of a build profile. Output goes into a dedicated directory tree,
// never the project's normal build cache: a previously cached plain build
// must not be mistaken for an instrumented one, and vice versa.
package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drahnr/hongg/pkg/instrument"
	"github.com/drahnr/hongg/pkg/log"
	"github.com/drahnr/hongg/pkg/osutil"
	"github.com/drahnr/hongg/pkg/tool"
)

// DefaultOutputDir is the build-output root, relative to the project root.
const DefaultOutputDir = "hongg_target"

const buildTimeout = time.Hour

// Params is input arguments for the Target function.
type Params struct {
	// Target is the package to build, e.g. "./fuzz/decoder" or a bare
	// target name looked up under ./... by the CLI.
	Target string
	// ProjectDir is the root of the target project (where go.mod lives).
	ProjectDir string
	// OutputDir is the build-output root; DefaultOutputDir if empty.
	OutputDir string
	Profile   instrument.Profile
	// GoBin is the go tool to invoke, "go" if empty.
	GoBin string
	// Runner executes external commands; osutil.Run if nil.
	Runner osutil.Runner
}

// Result describes a successfully built target.
type Result struct {
	// Bin is the absolute path of the built executable.
	Bin string
	// Dir is the profile-specific output directory the binary lives in.
	Dir string
	// Fingerprint identifies the flag set the binary was built with.
	Fingerprint string
}

// Error is a compiler/linker failure. The toolchain's diagnostics are
// reported verbatim, not reinterpreted.
type Error struct {
	Output []byte
}

func (err *Error) Error() string {
	return string(err.Output)
}

func (err *Error) ExitCode() int { return tool.ExitBuild }

// MissingArtifactError means the build succeeded but produced no matching
// executable. Distinct from Error so that the user can tell "my code does
// not compile" from "I did not specify which binary to fuzz".
type MissingArtifactError struct {
	Target string
	Dir    string
}

func (err *MissingArtifactError) Error() string {
	return fmt.Sprintf("build succeeded but %v produced no executable in %v", err.Target, err.Dir)
}

func (err *MissingArtifactError) ExitCode() int { return tool.ExitMissingArtifact }

// Target builds the fuzz target with the profile's instrumentation flags
// consistently applied to the whole dependency graph, and locates the
// resulting executable.
func Target(params *Params) (*Result, error) {
	goBin := params.GoBin
	if goBin == "" {
		goBin = "go"
	}
	runner := params.Runner
	if runner == nil {
		runner = osutil.Run
	}
	version, err := ToolchainVersion(runner, goBin, params.ProjectDir)
	if err != nil {
		return nil, err
	}
	flags, err := instrument.Resolve(params.Profile, version)
	if err != nil {
		return nil, err
	}
	outDir := params.OutputDir
	if outDir == "" {
		outDir = filepath.Join(params.ProjectDir, DefaultOutputDir)
	}
	// Profile-specific directory: fuzzing and debug artifacts never collide.
	dir := filepath.Join(outDir, params.Profile.Triple(), params.Profile.Mode.String())
	if err := osutil.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("failed to create build dir: %w", err)
	}
	bin := filepath.Join(dir, BinName(params.Target))
	fingerprint := flags.Fingerprint()
	if stale(dir, fingerprint) {
		// Flags changed within the same profile directory (e.g. different
		// HONGG_BUILD_FLAGS). The old binary must not survive the mismatch.
		os.Remove(bin)
	}

	args := append([]string{"build", "-o", bin}, flags.Args()...)
	args = append(args, params.Target)
	cmd := osutil.Command(goBin, args...)
	cmd.Dir = params.ProjectDir
	cmd.Env = append(os.Environ(), flags.Env...)
	if params.Profile.GOOS != "" {
		cmd.Env = append(cmd.Env, "GOOS="+params.Profile.GOOS, "GOARCH="+params.Profile.GOARCH)
	}
	log.Logf(1, "building %v (%v): %v %v", params.Target, params.Profile.Mode, goBin, strings.Join(args, " "))
	if output, err := runner(buildTimeout, cmd); err != nil {
		if verr, ok := err.(*osutil.VerboseError); ok {
			return nil, &Error{Output: verr.Output}
		}
		return nil, &Error{Output: append(output, err.Error()...)}
	}
	if err := osutil.IsExecutable(bin); err != nil {
		return nil, &MissingArtifactError{Target: params.Target, Dir: dir}
	}
	if err := osutil.WriteFile(fingerprintFile(dir), []byte(fingerprint)); err != nil {
		return nil, fmt.Errorf("failed to record build fingerprint: %w", err)
	}
	return &Result{Bin: osutil.Abs(bin), Dir: dir, Fingerprint: fingerprint}, nil
}

// Clean removes the build-output root. The fuzzing workspace (corpus and
// crashes) is deliberately out of scope here.
func Clean(projectDir, outputDir string) error {
	if outputDir == "" {
		outputDir = filepath.Join(projectDir, DefaultOutputDir)
	}
	log.Logf(1, "removing %v", outputDir)
	return os.RemoveAll(outputDir)
}

// ToolchainVersion reports the `go version` string of the toolchain.
func ToolchainVersion(runner osutil.Runner, goBin, dir string) (string, error) {
	cmd := osutil.Command(goBin, "version")
	cmd.Dir = dir
	output, err := runner(time.Minute, cmd)
	if err != nil {
		return "", osutil.PrependContext("failed to query go toolchain version", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// BinName maps a target package path to the executable name go build produces.
func BinName(target string) string {
	name := filepath.Base(filepath.FromSlash(strings.TrimSuffix(target, "/")))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "target"
	}
	return name
}

func fingerprintFile(dir string) string {
	return filepath.Join(dir, "build.fingerprint")
}

func stale(dir, fingerprint string) bool {
	data, err := os.ReadFile(fingerprintFile(dir))
	if err != nil {
		return false
	}
	return string(data) != fingerprint
}

// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package launch assembles the fuzzing workspace and hands the process over
// to the engine binary. The workspace holds the session's most valuable
// artifacts (discovered corpus inputs and crash reproducers), so the package
// only ever creates directories, never removes or truncates anything in them.
package launch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/drahnr/hongg/pkg/harness"
	"github.com/drahnr/hongg/pkg/instrument"
	"github.com/drahnr/hongg/pkg/osutil"
	"github.com/drahnr/hongg/pkg/tool"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultWorkspace is the workspace root relative to the project directory.
const DefaultWorkspace = "hongg_workspace"

// Invocation describes one engine launch.
type Invocation struct {
	// EngineBin is the engine executable path (see pkg/enginebuild).
	EngineBin string
	// Target is the fuzz target name; it selects the per-target workspace
	// subdirectory.
	Target string
	// TargetBin is the instrumented target binary (see pkg/build).
	TargetBin string
	// Mode is recorded in the session manifest.
	Mode instrument.Mode
	// Workspace is the workspace root; DefaultWorkspace if empty.
	Workspace string
	// InputDir overrides the seed input directory; defaults to the
	// target workspace's inputs/ subdirectory.
	InputDir string
	// EngineArgs are forwarded to the engine unmodified, before the
	// target binary separator.
	EngineArgs []string
	// TargetArgs are forwarded to the target binary unmodified.
	TargetArgs []string
}

// Error means the engine could not be launched, as opposed to the engine
// launching and then failing the session.
type Error struct {
	Bin string
	Err error
}

func (err *Error) Error() string {
	return fmt.Sprintf("failed to launch engine %v: %v", err.Bin, err.Err)
}

func (err *Error) Unwrap() error { return err.Err }
func (err *Error) ExitCode() int { return tool.ExitLaunch }

func (inv *Invocation) workspace() string {
	root := inv.Workspace
	if root == "" {
		root = DefaultWorkspace
	}
	return filepath.Join(root, inv.Target)
}

func (inv *Invocation) inputDir() string {
	if inv.InputDir != "" {
		return inv.InputDir
	}
	return filepath.Join(inv.workspace(), "inputs")
}

// EnsureWorkspace creates the per-target workspace layout. Existing
// directories and their contents are left untouched: corpus and crash
// artifacts accumulate across sessions.
func (inv *Invocation) EnsureWorkspace() error {
	for _, dir := range []string{
		filepath.Join(inv.workspace(), "corpus"),
		filepath.Join(inv.workspace(), "crashes"),
		filepath.Join(inv.workspace(), "sessions"),
		inv.inputDir(),
	} {
		if err := osutil.MkdirAll(dir); err != nil {
			return &Error{Bin: inv.EngineBin, Err: fmt.Errorf("failed to create workspace dir: %w", err)}
		}
	}
	return nil
}

// Args builds the engine command line: workspace and input locations,
// persistent mode, user engine args verbatim, then the target command
// after the separator.
func (inv *Invocation) Args() []string {
	args := []string{
		"-W", inv.workspace(),
		"-f", inv.inputDir(),
		"-P",
	}
	args = append(args, inv.EngineArgs...)
	args = append(args, "--", inv.TargetBin)
	args = append(args, inv.TargetArgs...)
	return args
}

// Environ is the engine process environment: the current environment plus
// the under-engine marker for the harness and sanitizer options the
// instrumented runtime needs. User-set ASAN/TSAN options are preserved
// after the injected ones.
func (inv *Invocation) Environ() []string {
	env := append([]string{}, os.Environ()...)
	env = setEnv(env, harness.EnvEngine, "1")
	env = setEnv(env, "ASAN_OPTIONS", "detect_odr_violation=0:"+os.Getenv("ASAN_OPTIONS"))
	env = setEnv(env, "TSAN_OPTIONS", "report_signal_unsafe=0:"+os.Getenv("TSAN_OPTIONS"))
	return env
}

// setEnv replaces key's entry in env, or appends one. The environment goes
// to a raw exec syscall and libc getenv takes the first match of a key, so
// the slice must never carry duplicate keys.
func setEnv(env []string, key, value string) []string {
	entry := key + "=" + value
	for i, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			env[i] = entry
			return env
		}
	}
	return append(env, entry)
}

type sessionManifest struct {
	ID      string    `yaml:"id"`
	Target  string    `yaml:"target"`
	Mode    string    `yaml:"mode"`
	Binary  string    `yaml:"binary"`
	Engine  string    `yaml:"engine"`
	Started time.Time `yaml:"started"`
}

// WriteManifest records the session under workspace sessions/. One file per
// invocation, never overwritten.
func (inv *Invocation) WriteManifest() (string, error) {
	id := uuid.New().String()
	manifest := sessionManifest{
		ID:      id,
		Target:  inv.Target,
		Mode:    inv.Mode.String(),
		Binary:  inv.TargetBin,
		Engine:  inv.EngineBin,
		Started: time.Now(),
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return "", err
	}
	file := filepath.Join(inv.workspace(), "sessions", id+".yaml")
	if err := osutil.WriteFile(file, data); err != nil {
		return "", err
	}
	return file, nil
}

// Exec replaces the current process image with the engine. It only returns
// on failure; the engine binary must exist and be executable first.
func (inv *Invocation) Exec() error {
	if err := inv.prepare(); err != nil {
		return err
	}
	argv := append([]string{inv.EngineBin}, inv.Args()...)
	err := sysExec(inv.EngineBin, argv, inv.Environ())
	// Reached only when the exec syscall itself failed.
	return &Error{Bin: inv.EngineBin, Err: err}
}

// Spawn runs the engine as a child with inherited stdio and blocks until it
// exits, relaying the exit code. The debug workflow and tests use this
// instead of process replacement.
func (inv *Invocation) Spawn() (int, error) {
	if err := inv.prepare(); err != nil {
		return 0, err
	}
	cmd := osutil.Command(inv.EngineBin, inv.Args()...)
	cmd.Env = inv.Environ()
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, &Error{Bin: inv.EngineBin, Err: err}
	}
	return 0, nil
}

func (inv *Invocation) prepare() error {
	if err := osutil.IsExecutable(inv.EngineBin); err != nil {
		return &Error{Bin: inv.EngineBin, Err: err}
	}
	if err := inv.EnsureWorkspace(); err != nil {
		return err
	}
	if _, err := inv.WriteManifest(); err != nil {
		return &Error{Bin: inv.EngineBin, Err: fmt.Errorf("failed to record session: %w", err)}
	}
	return nil
}

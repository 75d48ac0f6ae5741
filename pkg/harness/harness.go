// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package harness is linked into the target binary and implements the
// persistent fuzzing loop: one input per iteration arrives over the
// engine-provided channel, the user's entry point runs on it, and iteration
// completion is reported back. Fatal conditions are not recovered from;
// the process dies on its fault path so that the engine, watching from
// outside, persists the triggering input as a crash.
//
// Without a live engine channel the harness runs in single-shot mode:
// `target CRASH_FILE` executes exactly one iteration on the file's contents,
// which is how crashes are reproduced with a debug-triage build.
package harness

import (
	"fmt"
	"os"
	"strconv"
)

// Environment contract between the launch orchestrator and the harness.
const (
	// EnvEngine is set to "1" by the launcher when the target runs under
	// the fuzzing engine.
	EnvEngine = "HONGG_ENGINE"
	// EnvChannelFD carries the number of the inherited channel descriptor.
	EnvChannelFD = "HONGG_CHANNEL_FD"
	// EnvCrashFile names the input file for a triage single-shot run.
	EnvCrashFile = "HONGG_CRASH_FILE"
)

// DefaultChannelFD is the well-known descriptor number the engine passes
// the channel on when EnvChannelFD is absent.
const DefaultChannelFD = 3

// Exit statuses of the target process.
const (
	// StatusNotInstrumented is returned by a target executed directly,
	// without the engine and without an input file.
	StatusNotInstrumented = 17
	// StatusProtocol is returned when the channel wire contract is broken
	// outside a normal shutdown sequence.
	StatusProtocol = 21
)

// buildMode is stamped via -ldflags -X by the flag resolver; it is empty
// in a plain `go build` of the target.
var buildMode string

// Fn is the user's fuzz entry point: it receives one input and either
// returns normally (iteration completed) or faults (crash). The slice is
// only valid for the duration of the call; the backing buffer is reused.
type Fn func(data []byte)

// Config is computed once at process start from environment inspection and
// threaded explicitly into the runner; nothing reads the environment later.
type Config struct {
	UnderEngine bool
	ChannelFD   int
	CrashFile   string
	BuildMode   string
}

// ConfigFromEnv inspects the process environment.
func ConfigFromEnv() Config {
	cfg := Config{
		UnderEngine: os.Getenv(EnvEngine) == "1",
		ChannelFD:   DefaultChannelFD,
		CrashFile:   os.Getenv(EnvCrashFile),
		BuildMode:   buildMode,
	}
	if s := os.Getenv(EnvChannelFD); s != "" {
		if fd, err := strconv.Atoi(s); err == nil {
			cfg.ChannelFD = fd
		}
	}
	return cfg
}

// Fuzz drives fn. Under the engine it runs the persistent loop until the
// engine requests shutdown. Standalone it runs a single iteration on the
// file named by HONGG_CRASH_FILE or the first command line argument, and
// otherwise prints usage guidance and exits.
//
// Fuzz does not return under the engine until shutdown; call it once from
// main, it owns the iteration loop.
func Fuzz(fn Fn) {
	fuzz(ConfigFromEnv(), fn)
}

func fuzz(cfg Config, fn Fn) {
	r := NewRunner(cfg, fn)
	if cfg.UnderEngine {
		if cfg.BuildMode == "" {
			fmt.Fprintln(os.Stderr, "warning: target was built without hongg instrumentation flags; "+
				"coverage feedback will be absent")
		}
		if err := r.Loop(); err != nil {
			// A broken channel is logged and the session ends gracefully;
			// the loop must not take the whole process down with a panic.
			fmt.Fprintf(os.Stderr, "hongg: %v\n", err)
			os.Exit(StatusProtocol)
		}
		return
	}
	file := cfg.CrashFile
	if file == "" && len(os.Args) > 1 {
		file = os.Args[1]
	}
	if file == "" {
		fmt.Fprintln(os.Stderr, "This executable was not launched by the hongg fuzzing engine.")
		fmt.Fprintln(os.Stderr, "Run \"hongg run TARGET\" to fuzz it, or pass an input file to replay one iteration.")
		os.Exit(StatusNotInstrumented)
	}
	outcome, err := r.RunFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hongg: %v\n", err)
		os.Exit(1)
	}
	_ = outcome // Completed; a crash would have terminated the process.
}

// FuzzDecoded adapts fn over a typed value produced by dec. The decoder
// must be deterministic, consume a bounded prefix of the input and never
// block; inputs it rejects complete the iteration without running fn.
func FuzzDecoded[T any](dec func(data []byte) (T, error), fn func(v T)) {
	Fuzz(decoded(dec, fn))
}

func decoded[T any](dec func(data []byte) (T, error), fn func(v T)) Fn {
	return func(data []byte) {
		v, err := dec(data)
		if err != nil {
			return
		}
		fn(v)
	}
}

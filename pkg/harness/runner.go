// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"fmt"
	"io"
	"os"
)

// Outcome classifies one iteration.
type Outcome int

const (
	// Completed: the entry point returned normally.
	Completed Outcome = iota
	// CrashDetected: the entry point raised an unrecoverable condition.
	// Observed by the engine as abnormal process exit, never returned
	// in-process.
	CrashDetected
	// EngineRequestedStop: the engine closed the channel.
	EngineRequestedStop
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case CrashDetected:
		return "crash"
	case EngineRequestedStop:
		return "stop"
	default:
		return fmt.Sprintf("outcome-%d", int(o))
	}
}

// Runner executes fuzz iterations. It is single-threaded: one iteration at
// a time, the channel read and the entry point invocation are the only
// suspension points.
type Runner struct {
	cfg   Config
	fn    Fn
	iters uint64
	ch    *channel // injected by tests, opened from cfg.ChannelFD otherwise
}

func NewRunner(cfg Config, fn Fn) *Runner {
	return &Runner{cfg: cfg, fn: fn}
}

// Iterations returns the number of iterations started so far.
func (r *Runner) Iterations() uint64 {
	return r.iters
}

// Loop runs the persistent protocol until the engine requests shutdown
// (returns nil) or the wire contract is broken (returns *ProtocolError).
// A crashing iteration does not return: the process dies on its fault path.
func (r *Runner) Loop() error {
	ch := r.ch
	if ch == nil {
		ch = openChannel(r.cfg.ChannelFD)
	}
	for {
		data, err := ch.recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		r.iters++
		r.runOne(data)
		if err := ch.sendStatus(statusCompleted); err != nil {
			return err
		}
	}
}

// RunFile executes exactly one iteration on the file's contents: no loop,
// no channel protocol. Used for crash reproduction with a triage build.
func (r *Runner) RunFile(file string) (Outcome, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Completed, fmt.Errorf("failed to read input %v: %w", file, err)
	}
	r.iters++
	r.runOne(data)
	return Completed, nil
}

// runOne invokes the entry point with a crash boundary around it. The
// boundary catches what can be caught (panics) only to flush diagnostics;
// it then re-raises so the process terminates through its fault path and
// the engine observes the abnormal exit. Hardware faults and aborts kill
// the process directly, which amounts to the same observation. Recovering
// and continuing is not an option: after a fault the in-process state must
// be assumed corrupted.
func (r *Runner) runOne(data []byte) {
	defer func() {
		if v := recover(); v != nil {
			fmt.Fprintf(os.Stderr, "hongg: crash in iteration %v (input of %v bytes): %v\n",
				r.iters, len(data), v)
			os.Stdout.Sync()
			os.Stderr.Sync()
			panic(v)
		}
	}()
	r.fn(data)
}

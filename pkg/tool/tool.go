// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tool contains helpers for implementation of the command line tool:
// failure reporting and the mapping from error classes to process exit codes.
package tool

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes of the hongg tool. Scripts drive fuzzing sessions in CI and
// need to distinguish "the target does not compile" from "the engine died".
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitConfig          = 2 // incompatible flags/mode, rejected before any build
	ExitBuild           = 3 // target compiler/linker failure
	ExitMissingArtifact = 4 // build succeeded but produced no matching binary
	ExitEngineBuild     = 5 // native engine failed to build
	ExitLaunch          = 6 // engine binary missing/not executable, bad workspace
	ExitEngineCrash     = 7 // engine itself terminated abnormally
)

// ExitCoder is implemented by error types that map to a specific exit code.
type ExitCoder interface {
	error
	ExitCode() int
}

func Failf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(ExitFailure)
}

// OnFail, if set, contributes recent diagnostic output (e.g. cached log
// lines) to fatal reports.
var OnFail func() string

// Fail reports err and exits with the code the error class maps to.
func Fail(err error) {
	fmt.Fprint(os.Stderr, failureReport(err))
	os.Exit(ExitCodeOf(err))
}

func failureReport(err error) string {
	msg := fmt.Sprintf("%v\n", err)
	if OnFail == nil {
		return msg
	}
	if context := OnFail(); context != "" {
		msg += "recent log output:\n" + context
	}
	return msg
}

// ExitCodeOf returns the exit code for err, ExitFailure if the error
// does not belong to a recognized class.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return ExitFailure
}

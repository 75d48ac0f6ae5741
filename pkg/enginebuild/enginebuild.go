// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package enginebuild produces the native honggfuzz engine binary from the
// bundled sources. The Go toolchain cannot build it, so this shells out to
// gnu make through the osutil.Runner seam. The build is idempotent: a binary
// whose recorded fingerprint matches the bundled sources is reused.
package enginebuild

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/drahnr/hongg/pkg/log"
	"github.com/drahnr/hongg/pkg/osutil"
	"github.com/drahnr/hongg/pkg/tool"
)

// EngineBin is the name of the engine executable produced by the native build.
const EngineBin = "honggfuzz"

const (
	makeTimeout     = 30 * time.Minute
	fingerprintName = "engine.fingerprint"
)

// Params is input arguments for the Ensure function.
type Params struct {
	// SourceDir holds the bundled engine sources (with their Makefile).
	SourceDir string
	// OutputDir receives the engine binary and its fingerprint record.
	OutputDir string
	// MakeBin is the make tool to invoke, "make" if empty.
	MakeBin string
	// Runner executes external commands; osutil.Run if nil.
	Runner osutil.Runner
}

// Error is a native engine build failure. It is fatal: a fuzzing session
// must not start without a validated engine binary.
type Error struct {
	Output []byte
}

func (err *Error) Error() string {
	if len(err.Output) == 0 {
		return "engine build failed"
	}
	return fmt.Sprintf("engine build failed:\n%s", err.Output)
}

func (err *Error) ExitCode() int { return tool.ExitEngineBuild }

// Ensure returns the path of an executable engine binary, building it from
// the bundled sources if it is absent or stale.
func Ensure(params *Params) (string, error) {
	runner := params.Runner
	if runner == nil {
		runner = osutil.Run
	}
	makeBin := params.MakeBin
	if makeBin == "" {
		makeBin = "make"
	}
	fingerprint, err := SourceFingerprint(params.SourceDir)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint engine sources: %w", err)
	}
	bin := filepath.Join(params.OutputDir, EngineBin)
	if osutil.IsExecutable(bin) == nil && recorded(params.OutputDir) == fingerprint {
		log.Logf(2, "engine binary %v is up to date", bin)
		return bin, nil
	}
	if err := osutil.MkdirAll(params.OutputDir); err != nil {
		return "", &Error{Output: []byte(err.Error())}
	}
	log.Logf(0, "building fuzzing engine from %v", params.SourceDir)
	cmd := osutil.Command(makeBin, "-C", params.SourceDir, EngineBin)
	if output, err := runner(makeTimeout, cmd); err != nil {
		if verr, ok := err.(*osutil.VerboseError); ok {
			return "", &Error{Output: verr.Output}
		}
		return "", &Error{Output: append(output, err.Error()...)}
	}
	built := filepath.Join(params.SourceDir, EngineBin)
	if err := osutil.IsExecutable(built); err != nil {
		return "", &Error{Output: []byte(fmt.Sprintf("make succeeded but %v", err))}
	}
	if err := osutil.CopyFile(built, bin); err != nil {
		return "", &Error{Output: []byte(err.Error())}
	}
	if err := os.Chmod(bin, osutil.DefaultExecPerm); err != nil {
		return "", &Error{Output: []byte(err.Error())}
	}
	if err := osutil.WriteFile(filepath.Join(params.OutputDir, fingerprintName), []byte(fingerprint)); err != nil {
		return "", &Error{Output: []byte(err.Error())}
	}
	return bin, nil
}

// SourceFingerprint hashes the bundled engine source tree (names, sizes and
// contents of regular files). Two identical source drops fingerprint equal,
// any source change forces a rebuild.
func SourceFingerprint(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)
	hash := sha256.New()
	for _, file := range files {
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return "", err
		}
		io.WriteString(hash, rel)
		hash.Write([]byte{0})
		f, err := os.Open(file)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(hash, f)
		f.Close()
		if err != nil {
			return "", err
		}
		hash.Write([]byte{0})
	}
	return hex.EncodeToString(hash.Sum(nil)[:16]), nil
}

func recorded(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, fingerprintName))
	if err != nil {
		return ""
	}
	return string(data)
}

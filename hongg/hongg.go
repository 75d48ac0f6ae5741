// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// hongg builds and runs coverage-guided fuzzing sessions for Go fuzz
// targets. A target is a main package that calls harness.Fuzz; hongg
// builds it with instrumentation flags, builds the bundled native engine,
// and hands the session over to the engine.
//
//	hongg run TARGET [target args] [-- engine args]
//	hongg debug TARGET CRASH_FILE [target args]
//	hongg build TARGET
//	hongg clean
//	hongg version
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/drahnr/hongg/pkg/build"
	"github.com/drahnr/hongg/pkg/config"
	"github.com/drahnr/hongg/pkg/enginebuild"
	"github.com/drahnr/hongg/pkg/harness"
	"github.com/drahnr/hongg/pkg/instrument"
	"github.com/drahnr/hongg/pkg/launch"
	"github.com/drahnr/hongg/pkg/log"
	"github.com/drahnr/hongg/pkg/osutil"
	"github.com/drahnr/hongg/pkg/tool"
	"golang.org/x/sync/errgroup"
)

const toolVersion = "0.6.0"

var (
	flagProject   = flag.String("project", ".", "project root (where go.mod lives)")
	flagWorkspace = flag.String("workspace", "", "workspace root (default hongg_workspace; env HONGG_WORKSPACE or .hongg.yaml)")
	flagInput     = flag.String("input", "", "seed input dir (default WORKSPACE/TARGET/inputs; env HONGG_INPUT or .hongg.yaml)")
	flagMode      = flag.String("mode", "", "build mode: fuzzing, fuzzing-asan, fuzzing-no-instr or debug (default fuzzing)")
	flagEngineSrc = flag.String("engine-src", "", "bundled engine source dir (default honggfuzz under the project root)")
	flagSpawn     = flag.Bool("spawn", false, "run the engine as a child process instead of replacing hongg")
)

func main() {
	flag.Usage = usage
	flag.Parse()
	log.EnableLogCaching(128, 1<<17)
	tool.OnFail = log.CachedLogOutput
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(tool.ExitConfig)
	}
	// Project-local .env may carry HONGG_* settings; the process
	// environment always wins over it.
	if err := config.LoadEnvFile(*flagProject); err != nil {
		tool.Fail(&instrument.ConfigError{What: err.Error()})
	}
	proj = loadProjectConfig(*flagProject)
	switch cmd, cmdArgs := args[0], args[1:]; cmd {
	case "run":
		runCmd(cmdArgs)
	case "debug":
		debugCmd(cmdArgs)
	case "build":
		buildCmd(cmdArgs)
	case "clean":
		cleanCmd()
	case "version":
		fmt.Printf("hongg %v\n", toolVersion)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(tool.ExitConfig)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: hongg [flags] command ...\n"+
		"commands:\n"+
		"  run TARGET [target args] [-- engine args]   build and fuzz TARGET\n"+
		"  debug TARGET CRASH_FILE [target args]       rebuild for triage and replay one crash input\n"+
		"  build TARGET                                build TARGET and the engine, do not fuzz\n"+
		"  clean                                       remove build output (never the workspace)\n"+
		"  version                                     print tool version\n"+
		"flags:\n")
	flag.PrintDefaults()
}

// projectConfig is the optional .hongg.yaml file at the project root. It
// provides defaults only; flags and environment variables win over it.
type projectConfig struct {
	Workspace string `yaml:"workspace"`
	Input     string `yaml:"input"`
	Mode      string `yaml:"mode"`
	EngineSrc string `yaml:"engine_src"`
}

var proj = new(projectConfig)

func loadProjectConfig(dir string) *projectConfig {
	cfg := new(projectConfig)
	file := filepath.Join(dir, ".hongg.yaml")
	if !osutil.IsExist(file) {
		return cfg
	}
	if err := config.LoadFile(file, cfg); err != nil {
		tool.Fail(&instrument.ConfigError{What: err.Error()})
	}
	return cfg
}

// setting resolves one configurable value: flag, then environment, then
// .hongg.yaml, then the built-in default.
func setting(flagVal, envVar, fileVal, dflt string) string {
	if flagVal != "" {
		return flagVal
	}
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if fileVal != "" {
		return fileVal
	}
	return dflt
}

func profile() instrument.Profile {
	mode := instrument.ModeFuzzing
	if s := setting(*flagMode, "", proj.Mode, ""); s != "" {
		var err error
		if mode, err = instrument.ParseMode(s); err != nil {
			tool.Fail(err)
		}
	}
	return instrument.Profile{
		Mode:       mode,
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		ExtraFlags: strings.Fields(os.Getenv("HONGG_BUILD_FLAGS")),
	}
}

// buildAll builds the target and the native engine. The two builds share no
// state and run concurrently.
func buildAll(target string, prof instrument.Profile) (*build.Result, string) {
	var (
		res       *build.Result
		engineBin string
		g         errgroup.Group
	)
	g.Go(func() error {
		var err error
		res, err = build.Target(&build.Params{
			Target:     target,
			ProjectDir: *flagProject,
			Profile:    prof,
		})
		return err
	})
	g.Go(func() error {
		var err error
		engineBin, err = enginebuild.Ensure(&enginebuild.Params{
			SourceDir: setting(*flagEngineSrc, "HONGG_ENGINE_SRC", proj.EngineSrc, filepath.Join(*flagProject, "honggfuzz")),
			OutputDir: filepath.Join(*flagProject, build.DefaultOutputDir, "engine"),
		})
		return err
	})
	if err := g.Wait(); err != nil {
		tool.Fail(err)
	}
	return res, engineBin
}

// splitEngineArgs splits "target args -- engine args".
func splitEngineArgs(args []string) (targetArgs, engineArgs []string) {
	for i, arg := range args {
		if arg == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

func runCmd(args []string) {
	if len(args) < 1 {
		tool.Failf("run: no fuzz target given")
	}
	target, rest := args[0], args[1:]
	targetArgs, engineArgs := splitEngineArgs(rest)
	prof := profile()
	res, engineBin := buildAll(target, prof)

	inv := &launch.Invocation{
		EngineBin:  engineBin,
		Target:     build.BinName(target),
		TargetBin:  res.Bin,
		Mode:       prof.Mode,
		Workspace:  setting(*flagWorkspace, "HONGG_WORKSPACE", proj.Workspace, ""),
		InputDir:   setting(*flagInput, "HONGG_INPUT", proj.Input, ""),
		EngineArgs: append(strings.Fields(os.Getenv("HONGG_RUN_ARGS")), engineArgs...),
		TargetArgs: targetArgs,
	}
	if *flagSpawn {
		code, err := inv.Spawn()
		if err != nil {
			tool.Fail(err)
		}
		if code != 0 {
			log.Logf(0, "engine exited abnormally with status %v", code)
			os.Exit(tool.ExitEngineCrash)
		}
		return
	}
	// Exec replaces this process; reaching the next line means it failed.
	tool.Fail(inv.Exec())
}

func debugCmd(args []string) {
	if len(args) < 2 {
		tool.Failf("debug: need a fuzz target and a crash file")
	}
	target, crashFile, targetArgs := args[0], args[1], args[2:]
	prof := profile()
	prof.Mode = instrument.ModeDebugTriage
	res, err := build.Target(&build.Params{
		Target:     target,
		ProjectDir: *flagProject,
		Profile:    prof,
	})
	if err != nil {
		tool.Fail(err)
	}

	var cmd *exec.Cmd
	if debugger := os.Getenv("HONGG_DEBUGGER"); debugger != "" {
		cmd = debuggerCmd(debugger, res.Bin, crashFile)
	} else {
		cmd = osutil.Command(res.Bin, targetArgs...)
		cmd.Env = append(os.Environ(), harness.EnvCrashFile+"="+crashFile)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			// The crash reproduced; the target died on its fault path.
			os.Exit(exitErr.ExitCode())
		}
		tool.Fail(&launch.Error{Bin: cmd.Path, Err: err})
	}
	log.Logf(0, "iteration completed, the input did not crash the target")
}

// debuggerCmd runs the triage binary under a debugger, stopping on the
// runtime's fatal panic path with a backtrace ready.
func debuggerCmd(debugger, bin, crashFile string) *exec.Cmd {
	if strings.Contains(filepath.Base(debugger), "lldb") {
		return osutil.Command(debugger,
			"-o", "b runtime.fatalpanic", "-o", "r", "-o", "bt",
			"-f", bin, "--", crashFile)
	}
	return osutil.Command(debugger,
		"-ex", "b runtime.fatalpanic", "-ex", "r", "-ex", "bt",
		"--args", bin, crashFile)
}

func buildCmd(args []string) {
	if len(args) < 1 {
		tool.Failf("build: no fuzz target given")
	}
	res, engineBin := buildAll(args[0], profile())
	log.Logf(0, "built %v (engine %v)", res.Bin, engineBin)
}

// cleanCmd removes build output only. The workspace holds corpus and crash
// artifacts and is never touched.
func cleanCmd() {
	if err := build.Clean(*flagProject, ""); err != nil {
		tool.Failf("clean: %v", err)
	}
}

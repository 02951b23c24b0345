package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/netesy/limitly/internal/config"
	"github.com/netesy/limitly/internal/diagnostics"
	"github.com/netesy/limitly/internal/stdlib"
	"github.com/netesy/limitly/internal/vm"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [flags] <file>

Commands:
  run      execute a program (.lms assembly or .lmb bundle)
  build    compile assembly into a bundle
  disasm   print the instruction listing of a program

Flags:
  -config <path>   limits file (YAML)
  -workers <n>     run tasks on a fixed pool of n workers
  -no-color        disable colored diagnostics
  -o <path>        output path for build
`, filepath.Base(os.Args[0]))
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "", "limits file (YAML)")
	workers := fs.Int("workers", 0, "worker pool size (0 = goroutine per task)")
	noColor := fs.Bool("no-color", false, "disable colored diagnostics")
	output := fs.String("o", "", "output path for build")
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	reporter := diagnostics.NewReporter(os.Stderr, *noColor)
	if fs.NArg() < 1 {
		reporter.Errorf("%s requires an input file", command)
		usage()
		os.Exit(2)
	}
	input := fs.Arg(0)

	limits := config.DefaultLimits()
	if *configPath != "" {
		var err error
		limits, err = config.LoadLimits(*configPath)
		if err != nil {
			reporter.Errorf("%v", err)
			os.Exit(1)
		}
	}
	if *workers != 0 {
		limits.Workers = *workers
	}

	var exitCode int
	switch command {
	case "run":
		exitCode = cmdRun(reporter, input, limits)
	case "build":
		exitCode = cmdBuild(reporter, input, *output)
	case "disasm":
		exitCode = cmdDisasm(reporter, input)
	case "help", "-help", "--help":
		usage()
	default:
		reporter.Errorf("unknown command %q", command)
		usage()
		exitCode = 2
	}
	os.Exit(exitCode)
}

// loadProgram reads assembly or a compiled bundle depending on the file
// extension.
func loadProgram(path string) ([]vm.Instruction, error) {
	if strings.HasSuffix(path, config.BundleFileExt) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return vm.ReadBundle(f)
	}
	for _, ext := range config.AssemblyFileExtensions {
		if strings.HasSuffix(path, ext) {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return vm.Assemble(f)
		}
	}
	return nil, fmt.Errorf("unrecognized file extension on %s", path)
}

func cmdRun(reporter *diagnostics.Reporter, input string, limits config.Limits) int {
	program, err := loadProgram(input)
	if err != nil {
		reporter.Errorf("%v", err)
		return 1
	}

	machine := vm.New(program)
	machine.SetLimits(limits)
	stdlib.Register(machine)

	var bridge vm.Bridge
	if limits.Workers > 0 {
		pooled := vm.NewPooledBridge(limits.Workers)
		machine.SetBridge(pooled)
		bridge = pooled
	}
	if bridge != nil {
		defer bridge.Shutdown()
	}

	if _, err := machine.Run(context.Background()); err != nil {
		reporter.Errorf("%v", err)
		return 1
	}
	for _, failure := range machine.TaskFailures() {
		reporter.Warnf("task failed: %v", failure)
	}
	return 0
}

func cmdBuild(reporter *diagnostics.Reporter, input, output string) int {
	program, err := loadProgram(input)
	if err != nil {
		reporter.Errorf("%v", err)
		return 1
	}
	if output == "" {
		base := strings.TrimSuffix(input, filepath.Ext(input))
		output = base + config.BundleFileExt
	}
	f, err := os.Create(output)
	if err != nil {
		reporter.Errorf("%v", err)
		return 1
	}
	defer f.Close()
	if err := vm.WriteBundle(f, program); err != nil {
		reporter.Errorf("%v", err)
		return 1
	}
	reporter.Infof("wrote %s (%d instructions)", output, len(program))
	return 0
}

func cmdDisasm(reporter *diagnostics.Reporter, input string) int {
	program, err := loadProgram(input)
	if err != nil {
		reporter.Errorf("%v", err)
		return 1
	}
	if err := vm.Disassemble(os.Stdout, program); err != nil {
		reporter.Errorf("%v", err)
		return 1
	}
	return 0
}

package stdlib

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/netesy/limitly/internal/vm"
)

func registerTerm(m *vm.VM) {
	m.RegisterNative("termIsTTY", termIsTTY)
	m.RegisterNative("termColor", termColor)
	m.RegisterNative("termStyleReset", termStyleReset)
}

var colorCodes = map[string]string{
	"black":   "30",
	"red":     "31",
	"green":   "32",
	"yellow":  "33",
	"blue":    "34",
	"magenta": "35",
	"cyan":    "36",
	"white":   "37",
}

func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// termIsTTY() reports whether stdout is attached to a terminal.
func termIsTTY(_ *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 0 {
		return vm.NilVal(), fmt.Errorf("termIsTTY expects no arguments")
	}
	return vm.BoolVal(stdoutIsTTY()), nil
}

// termColor(name, text) wraps text in a color escape. Off a terminal the
// text passes through unchanged, matching how PRINT output is consumed
// in pipelines.
func termColor(_ *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 2 || !args[0].IsString() {
		return vm.NilVal(), fmt.Errorf("termColor expects a color name and a value")
	}
	text := args[1].Inspect()
	code, ok := colorCodes[strings.ToLower(args[0].AsString())]
	if !ok {
		return vm.NilVal(), fmt.Errorf("unknown color %q", args[0].AsString())
	}
	if !stdoutIsTTY() {
		return vm.StringVal(text), nil
	}
	return vm.StringVal("\x1b[" + code + "m" + text + "\x1b[0m"), nil
}

func termStyleReset(_ *vm.VM, args []vm.Value) (vm.Value, error) {
	if !stdoutIsTTY() {
		return vm.StringVal(""), nil
	}
	return vm.StringVal("\x1b[0m"), nil
}

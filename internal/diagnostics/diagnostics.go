package diagnostics

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI sequences used by the reporter.
const (
	reset  = "\x1b[0m"
	red    = "\x1b[31m"
	yellow = "\x1b[33m"
	cyan   = "\x1b[36m"
	bold   = "\x1b[1m"
)

// Reporter writes user-facing diagnostics, colorized when the destination
// is a terminal.
type Reporter struct {
	out   io.Writer
	color bool
}

// NewReporter builds a reporter for w. Color engages only when w is the
// process stderr/stdout and that stream is a terminal; forcePlain
// disables it regardless.
func NewReporter(w io.Writer, forcePlain bool) *Reporter {
	return &Reporter{out: w, color: !forcePlain && writerIsTerminal(w)}
}

func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *Reporter) paint(code, s string) string {
	if !r.color {
		return s
	}
	return code + s + reset
}

// Errorf reports a fatal diagnostic.
func (r *Reporter) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, "%s %s\n", r.paint(red+bold, "error:"), fmt.Sprintf(format, args...))
}

// Warnf reports a non-fatal diagnostic.
func (r *Reporter) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, "%s %s\n", r.paint(yellow, "warning:"), fmt.Sprintf(format, args...))
}

// Infof reports progress information.
func (r *Reporter) Infof(format string, args ...interface{}) {
	fmt.Fprintf(r.out, "%s %s\n", r.paint(cyan, "info:"), fmt.Sprintf(format, args...))
}

// Colored reports whether the reporter is emitting ANSI color.
func (r *Reporter) Colored() bool { return r.color }

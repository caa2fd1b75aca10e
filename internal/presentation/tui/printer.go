// Package tui prints colored build diagnostics to the terminal, degrading
// to plain text when stdout is not a TTY.
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/kilnbuild/kiln/internal/scheduler"
	"github.com/kilnbuild/kiln/pkg/domain"
)

// Printer renders build results and diagnostics.
type Printer struct {
	out     io.Writer
	profile termenv.Profile
}

// NewPrinter creates a printer for out. Color is enabled only when out is
// a terminal.
func NewPrinter(out io.Writer) *Printer {
	profile := termenv.Ascii
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		profile = termenv.ColorProfile()
	}
	return &Printer{out: out, profile: profile}
}

func (p *Printer) colored(s, hex string) string {
	return termenv.String(s).Foreground(p.profile.Color(hex)).String()
}

func (p *Printer) success(s string) string { return p.colored(s, "#22c55e") }
func (p *Printer) failure(s string) string { return p.colored(s, "#ef4444") }
func (p *Printer) warning(s string) string { return p.colored(s, "#eab308") }
func (p *Printer) dim(s string) string     { return p.colored(s, "#9ca3af") }

// Result prints the one-line summary of a build pass.
func (p *Printer) Result(res *scheduler.Result) {
	parts := []string{fmt.Sprintf("%d action(s)", res.Succeeded)}
	if res.Cached > 0 {
		parts = append(parts, fmt.Sprintf("%d cached", res.Cached))
	}
	if res.Failed > 0 {
		parts = append(parts, p.failure(fmt.Sprintf("%d failed", res.Failed)))
	}
	if res.Blocked > 0 {
		parts = append(parts, p.warning(fmt.Sprintf("%d blocked", res.Blocked)))
	}

	marker := p.success("✓")
	if !res.OK() {
		marker = p.failure("✗")
	}
	fmt.Fprintf(p.out, "%s %s %s\n", marker, strings.Join(parts, ", "),
		p.dim(fmt.Sprintf("(%s)", res.Duration.Round(time.Millisecond))))
}

// Failure prints one failed action with its builder output indented.
func (p *Printer) Failure(actionErr *domain.ActionError) {
	fmt.Fprintf(p.out, "%s %s: %v\n", p.failure("✗"), actionErr.ActionID, actionErr.Err)
	p.printIndented(actionErr.Output)
}

// Replay prints a failure carried over from a previous pass.
func (p *Printer) Replay(replay *scheduler.ReplayedFailure) {
	fmt.Fprintf(p.out, "%s %s: %s %s\n", p.failure("✗"), replay.Record.ActionID,
		replay.Record.Message, p.dim("(from previous build)"))
	p.printIndented(replay.Record.Output)
}

// Fatal prints a configuration error that aborted the build before any
// action ran.
func (p *Printer) Fatal(err error) {
	fmt.Fprintf(p.out, "%s %v\n", p.failure("error:"), err)
}

func (p *Printer) printIndented(output string) {
	output = strings.TrimSpace(output)
	if output == "" {
		return
	}
	for _, line := range strings.Split(output, "\n") {
		fmt.Fprintf(p.out, "    %s\n", p.dim(line))
	}
}

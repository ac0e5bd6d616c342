// Package confirm asks the operator for a yes/no answer before destructive or heavy work.
package confirm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Service defines the interface for confirmation prompts.
type Service interface {
	Ask(question string) (bool, error)
}

// Prompter asks on out and reads the answer from in. When the session is not
// interactive every question is answered with yes.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	highlight   *color.Color
}

// New creates a prompter on the process's standard streams.
func New() *Prompter {
	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	return NewWithIO(os.Stdin, os.Stdout, interactive)
}

// NewWithIO creates a prompter on custom streams (for testing).
func NewWithIO(in io.Reader, out io.Writer, interactive bool) *Prompter {
	return &Prompter{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
		highlight:   color.New(color.FgYellow),
	}
}

// Interactive reports whether answers are read from the operator.
func (p *Prompter) Interactive() bool {
	return p.interactive
}

// Ask prints question and returns true only for an explicit yes. An empty answer or EOF
// means no.
func (p *Prompter) Ask(question string) (bool, error) {
	if !p.interactive {
		return true, nil
	}

	if _, err := p.highlight.Fprint(p.out, question+" "); err != nil {
		return false, fmt.Errorf("writing prompt: %w", err)
	}

	answer, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Yes is a Service that always agrees. It backs the --yes flag.
type Yes struct{}

// Ask returns true.
func (Yes) Ask(string) (bool, error) {
	return true, nil
}

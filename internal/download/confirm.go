package download

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Confirmer asks whether a multi-experiment transfer may proceed.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// Always answers every prompt with the same value.
type Always bool

func (a Always) Confirm(string) (bool, error) {
	return bool(a), nil
}

// TerminalConfirmer prompts on an interactive terminal. When the input is
// not a terminal, it answers Default without prompting.
type TerminalConfirmer struct {
	In      *os.File
	Out     io.Writer
	Default bool
}

// NewTerminalConfirmer prompts on stdin/stderr and refuses when stdin is not
// a terminal.
func NewTerminalConfirmer() *TerminalConfirmer {
	return &TerminalConfirmer{In: os.Stdin, Out: os.Stderr}
}

func (c *TerminalConfirmer) Confirm(prompt string) (bool, error) {
	if c.In == nil || !term.IsTerminal(int(c.In.Fd())) {
		return c.Default, nil
	}
	fmt.Fprintf(c.Out, "%s (y/n) ", prompt)
	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}
	return isYes(line), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// confirmed applies the gate: fewer than two experiments, or Force, proceed
// without asking.
func (e *Engine) confirmed(total int) (bool, error) {
	if total < 2 || e.opts.Force {
		return true, nil
	}
	return e.confirm.Confirm(fmt.Sprintf("Consider %d experiments for downloading resources?", total))
}

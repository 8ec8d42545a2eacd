// Package prompt reads operator answers from a line-oriented terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks questions on out and reads answers from in.
type Prompter struct {
	in       *bufio.Reader
	out      io.Writer
	secretFd int // -1 when secrets are read as plain lines
}

// New creates a prompter over arbitrary streams (useful for testing).
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out, secretFd: -1}
}

// NewTerminal creates a prompter on stdin/stdout. Secrets are read
// without echo when stdin is a terminal.
func NewTerminal() *Prompter {
	p := New(os.Stdin, os.Stdout)
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) { //nolint:gosec // fd fits in int
		p.secretFd = fd
	}
	return p
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) //nolint:gosec // fd fits in int
}

// Out returns the writer questions are printed on.
func (p *Prompter) Out() io.Writer {
	return p.out
}

// Printf writes formatted text to the prompt output.
func (p *Prompter) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Ask prints label and returns the trimmed answer, or def when the answer
// is empty. io.EOF is returned once input is exhausted.
func (p *Prompter) Ask(label, def string) (string, error) {
	if def != "" {
		p.Printf("%s [%s]: ", label, def)
	} else {
		p.Printf("%s: ", label)
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}

	answer := strings.TrimSpace(line)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}

	answer, err := p.Ask(fmt.Sprintf("%s (%s)", label, hint), "")
	if err != nil {
		return false, err
	}

	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Secret reads a value without echo on terminals. An empty answer
// returns def.
func (p *Prompter) Secret(label, def string) (string, error) {
	if p.secretFd < 0 {
		answer, err := p.Ask(label, "")
		if err != nil || answer != "" {
			return answer, err
		}
		return def, nil
	}

	p.Printf("%s: ", label)
	b, err := term.ReadPassword(p.secretFd)
	p.Printf("\n")
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return def, nil
	}
	return string(b), nil
}

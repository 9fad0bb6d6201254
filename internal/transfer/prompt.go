package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrNoPrompt is returned by prompters that cannot ask anyone for a password.
var ErrNoPrompt = errors.New("interactive password prompt is not available")

// Prompter supplies a password for interactive plans.
type Prompter interface {
	Password(user, host string) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(user, host string) (string, error)

func (f PrompterFunc) Password(user, host string) (string, error) {
	return f(user, host)
}

// NoPrompter always fails. Servers use it: there is nobody to ask.
type NoPrompter struct{}

func (NoPrompter) Password(string, string) (string, error) {
	return "", ErrNoPrompt
}

// TerminalPrompter reads a password from a terminal without echo.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stderr and reads from stdin.
func NewTerminalPrompter() TerminalPrompter {
	return TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p TerminalPrompter) Password(user, host string) (string, error) {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: stdin is not a terminal", ErrNoPrompt)
	}

	fmt.Fprintf(p.Out, "Enter password for %s@%s: ", user, host)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

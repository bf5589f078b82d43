package creds

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// TerminalPrompt reads passwords from in without echo, writing labels to out.
// It returns nil when in is not a terminal.
func TerminalPrompt(in *os.File, out io.Writer) PromptFunc {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func(label string) ([]byte, error) {
		fmt.Fprint(out, label)
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return nil, err
		}
		return pw, nil
	}
}

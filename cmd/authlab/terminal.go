package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

type terminal struct {
	in  *bufio.Reader
	out io.Writer
	// fd is the input file descriptor; -1 when input is not a terminal.
	fd int
}

func (t *terminal) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) prompt(label string) (string, error) {
	t.printf("%s", label)
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptSecret reads without echo when input is a terminal.
func (t *terminal) promptSecret(label string) (string, error) {
	if t.fd < 0 || !term.IsTerminal(t.fd) {
		return t.prompt(label)
	}
	t.printf("%s", label)
	b, err := term.ReadPassword(t.fd)
	t.printf("\n")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

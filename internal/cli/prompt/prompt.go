package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prompter asks questions on a terminal-like reader and writer
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a prompter reading answers from in
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Confirm asks a yes/no question. An empty answer picks defaultYes.
func (p *Prompter) Confirm(question string, defaultYes bool) (bool, error) {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	for {
		answer, err := p.readLine(fmt.Sprintf("%s %s ", question, hint))
		if err != nil {
			return false, err
		}

		switch strings.ToLower(answer) {
		case "":
			return defaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer yes or no.")
	}
}

// Ask reads a free-form answer, falling back to defaultValue when empty
func (p *Prompter) Ask(question, defaultValue string) (string, error) {
	label := question + ": "
	if defaultValue != "" {
		label = fmt.Sprintf("%s [%s]: ", question, defaultValue)
	}

	answer, err := p.readLine(label)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return defaultValue, nil
	}
	return answer, nil
}

func (p *Prompter) readLine(label string) (string, error) {
	fmt.Fprint(p.out, label)

	line, err := p.in.ReadString('\n')
	if err != nil {
		// A last line without newline still counts
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Package prompt implements the interactive operator prompts.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter reads operator answers from in and writes questions to out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a Prompter over the given reader and writer.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Region asks for a deployment region, returning def when the operator
// answers with an empty line. The answer is not validated against a region
// list; an invalid region is rejected by AWS on the first call that uses it.
func (p *Prompter) Region(def string) (string, error) {
	fmt.Fprintf(p.out, "AWS region [%s]: ", def)

	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

// Confirm asks a yes/no question. Only "y" or "Y" proceeds; every other
// answer, including EOF, declines.
func (p *Prompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)

	line, err := p.readLine()
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	return strings.EqualFold(line, "y"), nil
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"rstransfer/approval"
)

// terminalUI prompts for an approval decision on stdin/stdout. It
// stands in for the GUI approval dialog: a plain y/n/remember line.
type terminalUI struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalUI(in io.Reader, out io.Writer) *terminalUI {
	return &terminalUI{in: bufio.NewReader(in), out: out}
}

// Prompt implements approval.UI. It blocks on a line of stdin input;
// the caller's context timeout is enforced by approval.Adapter, not
// here, so a prompt that's timed out still completes harmlessly once
// the operator eventually answers.
func (t *terminalUI) Prompt(ctx context.Context, req approval.Request) (approval.Decision, error) {
	flag := ""
	if req.Dangerous {
		flag = "  [DANGEROUS EXTENSION]"
	}
	fmt.Fprintf(t.out, "\nincoming transfer %s\n  file: %s (%d bytes)\n  from: %s%s\n",
		req.ID, req.Filename, req.FileSize, req.Technician, flag)
	fmt.Fprint(t.out, "approve? [y/N] (add 'r' to remember, e.g. \"yr\"): ")

	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return approval.Decision{Approved: false, Message: "no response"}, nil
	}
	line = strings.ToLower(strings.TrimSpace(line))

	return approval.Decision{
		Approved: strings.HasPrefix(line, "y"),
		Remember: strings.Contains(line, "r"),
		Message:  "operator decision",
	}, nil
}

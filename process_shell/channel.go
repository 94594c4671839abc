// Package process_shell reaches other processes through a privileged shell
// (usually su) by running dd against /proc/<pid>/mem.
package process_shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"memhunt/process"
)

// exitProcessGone is the exit status the scripts use when /proc/<pid> is missing
const exitProcessGone = 3

// Channel runs one shell script and returns its stdout
type Channel interface {
	Run(ctx context.Context, script string, stdin []byte) ([]byte, error)
}

// ExitError carries a non-zero script exit status with whatever stdout and
// stderr the script produced before failing.
type ExitError struct {
	Code   int
	Stdout []byte
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("shell exited with status %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}

// CommandChannel runs scripts as `<Command> <Args...> <script>`
type CommandChannel struct {
	Command string
	Args    []string
}

// NewSuChannel runs scripts through `su -c`
func NewSuChannel(su string) *CommandChannel {
	if su == "" {
		su = "su"
	}
	return &CommandChannel{Command: su, Args: []string{"-c"}}
}

// NewLocalChannel runs scripts with the current user's privileges
func NewLocalChannel() *CommandChannel {
	return &CommandChannel{Command: "sh", Args: []string{"-c"}}
}

func (c *CommandChannel) Run(ctx context.Context, script string, stdin []byte) ([]byte, error) {
	args := append(append([]string{}, c.Args...), script)
	cmd := exec.CommandContext(ctx, c.Command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &ExitError{Code: exitErr.ExitCode(), Stdout: stdout.Bytes(), Stderr: stderr.String()}
	}

	// the command itself could not be started (su missing, not executable)
	return nil, fmt.Errorf("%w: %v", process.ErrChannelUnavailable, err)
}

// Available reports whether ch runs commands as root
func Available(ctx context.Context, ch Channel) error {
	out, err := ch.Run(ctx, "id -u", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", process.ErrChannelUnavailable, err)
	}
	if uid := strings.TrimSpace(string(out)); uid != "0" {
		return fmt.Errorf("%w: running as uid %s", process.ErrChannelUnavailable, uid)
	}
	return nil
}

// classify turns a script failure into the process error taxonomy
func classify(err error, fallback error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Code == exitProcessGone {
			return process.ErrProcessGone
		}
		if strings.Contains(exitErr.Stderr, "Permission denied") {
			return fmt.Errorf("%w: %s", process.ErrPermissionDenied, strings.TrimSpace(exitErr.Stderr))
		}
		return fmt.Errorf("%w: %v", fallback, err)
	}
	return err
}

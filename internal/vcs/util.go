package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ===================
// Command Execution Utilities
// ===================

// Command describes one invocation of a VCS binary.
type Command struct {
	// Dir is the working directory
	Dir string

	// Name is the binary to run
	Name string

	// Args are the command arguments
	Args []string

	// Env is appended to the process environment
	Env []string

	// Stdin is fed to the command if non-nil
	Stdin io.Reader

	// Timeout bounds the command if positive
	Timeout time.Duration
}

// Result holds the captured output of a command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Run executes a command and captures its output. A non-zero exit status
// is returned as an error that wraps *exec.ExitError and carries stderr;
// the Result is filled in either way so callers can inspect exit codes
// that are not failures for them.
func Run(ctx context.Context, c Command) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: GetExitCode(err)}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("%s %s: %w", c.Name, strings.Join(c.Args, " "), ErrTimeout)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return res, fmt.Errorf("%s: %w", c.Name, ErrVCSNotAvailable)
		}
		if stderr.Len() > 0 {
			return res, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return res, err
	}

	return res, nil
}

// ExecContext executes a VCS command with timeout and context support.
//
// Example:
//
//	output, err := ExecContext(ctx, 30*time.Second, repoPath, "git", "rev-parse", "HEAD")
func ExecContext(ctx context.Context, timeout time.Duration, workDir string, name string, args ...string) ([]byte, error) {
	res, err := Run(ctx, Command{Dir: workDir, Name: name, Args: args, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// ===================
// Output Parsing Utilities
// ===================

// ParseLines splits command output into non-empty lines.
func ParseLines(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	lines := strings.Split(string(output), "\n")
	result := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}

	return result
}

// SplitNul splits NUL-terminated output (as produced by -z flags).
// A trailing empty field is dropped; empty fields in the middle are kept
// because they act as section separators.
func SplitNul(output []byte) []string {
	if len(output) == 0 {
		return nil
	}
	fields := strings.Split(string(output), "\x00")
	if fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return fields
}

// ===================
// String Utilities
// ===================

// TrimOutput trims whitespace and trailing newlines from command output.
func TrimOutput(output []byte) string {
	return strings.TrimSpace(string(output))
}

// FirstWord returns the first whitespace-separated word from output.
func FirstWord(output []byte) string {
	fields := strings.Fields(TrimOutput(output))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ===================
// Error Utilities
// ===================

// GetExitCode returns the exit code from an error, 0 for nil, or -1 if not an exit error.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

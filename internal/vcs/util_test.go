package vcs

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestParseLines(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []string
	}{
		{
			name:     "empty input",
			input:    []byte(""),
			expected: nil,
		},
		{
			name:     "multiple lines",
			input:    []byte("line1\nline2\nline3"),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "empty lines filtered",
			input:    []byte("line1\n\nline2\n\n\nline3\n"),
			expected: []string{"line1", "line2", "line3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseLines(tt.input)

			if len(result) != len(tt.expected) {
				t.Fatalf("Expected %d lines, got %d", len(tt.expected), len(result))
			}
			for i, line := range result {
				if line != tt.expected[i] {
					t.Errorf("Line %d: expected '%s', got '%s'", i, tt.expected[i], line)
				}
			}
		})
	}
}

func TestSplitNul(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "single", input: "abc\x00", expected: []string{"abc"}},
		{name: "separator kept", input: "tree\x00a\x00\x00msg\x00", expected: []string{"tree", "a", "", "msg"}},
		{name: "no trailing nul", input: "a\x00b", expected: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SplitNul([]byte(tt.input))
			if strings.Join(result, "|") != strings.Join(tt.expected, "|") || len(result) != len(tt.expected) {
				t.Errorf("SplitNul(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFirstWord(t *testing.T) {
	if got := FirstWord([]byte("  abc def\n")); got != "abc" {
		t.Errorf("FirstWord() = %q, want %q", got, "abc")
	}
	if got := FirstWord([]byte("   ")); got != "" {
		t.Errorf("FirstWord() = %q, want empty", got)
	}
}

func TestOidIsZero(t *testing.T) {
	if !Oid("").IsZero() {
		t.Error("empty oid should be zero")
	}
	if !ZeroOid.IsZero() {
		t.Error("ZeroOid should be zero")
	}
	if Oid("4b825dc642cb6eb9a060e54bf8d69288fbee4904").IsZero() {
		t.Error("real oid should not be zero")
	}
	if got := Oid("4b825dc642cb6eb9a060e54bf8d69288fbee4904").Short(); got != "4b825dc6" {
		t.Errorf("Short() = %q", got)
	}
}

func TestExecContext(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}

	output, err := ExecContext(context.Background(), 5*time.Second, "", "echo", "hello")
	if err != nil {
		t.Fatalf("ExecContext() failed: %v", err)
	}
	if TrimOutput(output) != "hello" {
		t.Errorf("ExecContext() = %q, want %q", output, "hello")
	}
}

func TestRunStdinAndExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	res, err := Run(context.Background(), Command{
		Name:  "sh",
		Args:  []string{"-c", "cat; echo oops >&2; exit 3"},
		Stdin: strings.NewReader("payload"),
	})
	if err == nil {
		t.Fatal("Run() should fail on non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if string(res.Stdout) != "payload" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "payload")
	}
	if !strings.Contains(err.Error(), "oops") {
		t.Errorf("error should carry stderr, got %v", err)
	}
	if GetExitCode(err) != 3 {
		t.Errorf("GetExitCode() = %d, want 3", GetExitCode(err))
	}
}

func TestRunTimeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	_, err := Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Run() error = %v, want ErrTimeout", err)
	}
	if !IsRetryable(err) {
		t.Error("timeouts should be retryable")
	}
}

func TestRunMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	if !errors.Is(err, ErrVCSNotAvailable) {
		t.Errorf("Run() error = %v, want ErrVCSNotAvailable", err)
	}
	if !IsFatal(err) {
		t.Error("missing binary should be fatal")
	}
}

func TestGetExitCode(t *testing.T) {
	if GetExitCode(nil) != 0 {
		t.Error("GetExitCode(nil) should be 0")
	}
	if GetExitCode(errors.New("plain")) != -1 {
		t.Error("GetExitCode(non-exit error) should be -1")
	}
}

package vcs

import "errors"

// Common errors returned by VCS operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrRefNotFound) {
//	    // Handle an unborn branch
//	}
var (
	// ErrNotARepo is returned when the operation requires a repository
	// but none was found at the configured path.
	ErrNotARepo = errors.New("not a repository")

	// ErrVCSNotAvailable is returned when the required VCS binary
	// is not installed or not in PATH.
	ErrVCSNotAvailable = errors.New("VCS binary not available")

	// ErrRefNotFound is returned when a reference does not resolve
	// to a commit.
	ErrRefNotFound = errors.New("reference not found")

	// ErrPathNotFound is returned when a path does not exist in a tree.
	ErrPathNotFound = errors.New("path not found")

	// ErrNoRemote is returned when an operation requires a remote
	// but none is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrConflicts is returned when an operation cannot complete
	// due to unresolved conflicts.
	ErrConflicts = errors.New("unresolved conflicts")

	// ErrDetached is returned when HEAD does not name a branch.
	ErrDetached = errors.New("not on a branch")

	// ErrPushRejected is returned when a push is rejected by the remote,
	// typically due to non-fast-forward updates.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrAuth is returned when the remote refuses our credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrUnrelatedHistories is returned when two commits share no ancestor.
	ErrUnrelatedHistories = errors.New("unrelated histories")

	// ErrTimeout is returned when a VCS operation exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// This is useful for transient network errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Timeouts are often transient
	if errors.Is(err, ErrTimeout) {
		return true
	}

	// Push rejections might succeed after a pull
	if errors.Is(err, ErrPushRejected) {
		return true
	}

	return false
}

// IsUserActionRequired returns true if the error requires user intervention
// to resolve (credentials, divergent history, etc).
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}

	// Conflicts that no merge policy could resolve
	if errors.Is(err, ErrConflicts) {
		return true
	}

	if errors.Is(err, ErrAuth) {
		return true
	}

	return errors.Is(err, ErrUnrelatedHistories)
}

// IsAuth returns true if the error is a credential failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsFatal returns true if the error indicates a non-recoverable state
// that requires manual intervention or re-initialization.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNotARepo) {
		return true
	}

	// Binary not available means we can't execute commands
	return errors.Is(err, ErrVCSNotAvailable)
}

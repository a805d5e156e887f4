package store

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// MaxCredentialTries bounds how many times a remote operation is attempted.
const MaxCredentialTries = 5

type credStrategy int

const (
	credKeyFile credStrategy = iota
	credKeyMaterial
	credHelper
	credExhausted
)

func (c credStrategy) String() string {
	switch c {
	case credKeyFile:
		return "key-file"
	case credKeyMaterial:
		return "key-material"
	case credHelper:
		return "default-helper"
	default:
		return "exhausted"
	}
}

// credentials supplies authentication for remote operations. Strategies
// are tried in order: the key file, in-memory key material, then git's
// own configuration. Each strategy is used at most once per operation.
type credentials struct {
	keyFile     string
	keyMaterial []byte
	log         *zap.Logger
}

func newCredentials(opts Options) *credentials {
	return &credentials{
		keyFile:     opts.keyPath(),
		keyMaterial: opts.KeyMaterial,
		log:         opts.Logger.Named("credentials"),
	}
}

// run calls op with the environment of successive strategies until it
// succeeds, fails for a reason other than authentication, or the
// strategies or tries run out.
func (c *credentials) run(ctx context.Context, op func(env []string) error) error {
	var lastErr error
	strategy := credKeyFile
	for try := 0; try < MaxCredentialTries; try++ {
		strategy = c.next(strategy)
		if strategy == credExhausted {
			break
		}

		env, cleanup, err := c.env(strategy)
		if err != nil {
			c.log.Warn("credential strategy unavailable", zap.Stringer("strategy", strategy), zap.Error(err))
			strategy++
			continue
		}
		err = op(env)
		cleanup()
		if err == nil {
			return nil
		}
		if !vcs.IsAuth(err) {
			return err
		}
		c.log.Info("authentication failed", zap.Stringer("strategy", strategy))
		lastErr = err
		strategy++
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = vcs.ErrAuth
	}
	return fmt.Errorf("no credentials accepted: %w", lastErr)
}

// next skips strategies that have nothing to offer.
func (c *credentials) next(from credStrategy) credStrategy {
	for st := from; st < credExhausted; st++ {
		switch st {
		case credKeyFile:
			if fi, err := os.Stat(c.keyFile); err == nil && fi.Mode().IsRegular() {
				return st
			}
		case credKeyMaterial:
			if len(c.keyMaterial) > 0 {
				return st
			}
		case credHelper:
			return st
		}
	}
	return credExhausted
}

// env builds the extra environment for a strategy and a cleanup func.
func (c *credentials) env(st credStrategy) ([]string, func(), error) {
	noop := func() {}
	switch st {
	case credKeyFile:
		return []string{sshCommand(c.keyFile)}, noop, nil
	case credKeyMaterial:
		f, err := os.CreateTemp("", "fanling-key-*")
		if err != nil {
			return nil, noop, err
		}
		cleanup := func() { _ = os.Remove(f.Name()) }
		if err := f.Chmod(0o600); err != nil {
			_ = f.Close()
			cleanup()
			return nil, noop, err
		}
		if _, err := f.Write(c.keyMaterial); err != nil {
			_ = f.Close()
			cleanup()
			return nil, noop, err
		}
		if err := f.Close(); err != nil {
			cleanup()
			return nil, noop, err
		}
		return []string{sshCommand(f.Name())}, cleanup, nil
	default:
		return nil, noop, nil
	}
}

func sshCommand(key string) string {
	return fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %q -o IdentitiesOnly=yes -o BatchMode=yes", key)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/vcs"
)

func (s *Store) canPush() bool {
	return s.opts.URL != "" && s.opts.WriteToServer
}

// markLocalCommit records that the branch moved ahead of the remote.
func (s *Store) markLocalCommit() {
	if s.canPush() {
		s.needsPush = true
	}
}

// initNeedsPush compares the branch with the tracking ref at open time.
func (s *Store) initNeedsPush(ctx context.Context) error {
	if !s.canPush() {
		return nil
	}
	head, err := s.Head(ctx)
	if err != nil {
		return err
	}
	tracking, err := s.repo.ResolveRef(ctx, s.trackingRef())
	switch {
	case errors.Is(err, vcs.ErrRefNotFound):
		s.needsPush = true
	case err != nil:
		return err
	default:
		s.needsPush = head != tracking
	}
	return nil
}

// NeedsPush reports whether local commits have not reached the remote.
func (s *Store) NeedsPush() bool {
	return s.needsPush
}

// Push sends the branch to the remote. Without a remote, or when writing
// to the server is disabled, it does nothing.
func (s *Store) Push(ctx context.Context, force bool) error {
	if !s.canPush() {
		return nil
	}
	head, err := s.Head(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	refspec := s.branchRef() + ":" + s.branchRef()
	err = s.creds.run(ctx, func(env []string) error {
		return s.repo.Push(ctx, vcs.PushOptions{Remote: s.opts.Remote, Refspec: refspec, Force: force, Env: env})
	})
	if err != nil {
		s.log.Error("push failed", zap.Error(err))
		return fmt.Errorf("failed to push: %w", err)
	}

	if err := s.repo.UpdateRef(ctx, s.trackingRef(), head, ""); err != nil {
		return err
	}
	s.needsPush = false
	s.log.Info("pushed", zap.String("head", head.Short()), zap.Duration("took", time.Since(start)))
	return nil
}

package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/index"
	"github.com/fanling-notes/fanling/internal/item"
	"github.com/fanling-notes/fanling/internal/store"
	"github.com/fanling-notes/fanling/internal/vcs"
)

// Pull fetches from the remote and merges. Conflicting items are merged
// field by field with their type's policy. Items changed by the merge are
// reloaded and reindexed.
func (w *World) Pull(ctx context.Context) error {
	start := time.Now()
	w.log.Info("pull started")

	if err := w.store.Fetch(ctx); err != nil {
		return err
	}
	old, err := w.store.Head(ctx)
	if err != nil {
		return err
	}
	out, err := w.store.Merge(ctx)
	if err != nil {
		return err
	}
	if out.Kind == store.AlreadyUpToDate {
		w.log.Info("pull finished", zap.Stringer("outcome", out.Kind), zap.Duration("took", time.Since(start)))
		return nil
	}

	var resolveErr error
	if out.Kind == store.Conflicted {
		var changes store.ChangeList
		changes, resolveErr = w.resolveConflicts(out.Conflicts())
		if err := w.store.ApplyResolution(ctx, changes, out); err != nil {
			return multierr.Append(resolveErr, err)
		}
	}
	if err := w.store.CommitMerge(ctx, out); err != nil {
		return multierr.Append(resolveErr, err)
	}
	if err := w.reindex(ctx, old); err != nil {
		return err
	}
	w.log.Info("pull finished", zap.Stringer("outcome", out.Kind), zap.Duration("took", time.Since(start)))
	return resolveErr
}

// resolveConflicts makes one resolving change per conflict. A conflict
// that cannot be resolved is left out and its error combined into the
// result.
func (w *World) resolveConflicts(conflicts []*store.Conflict) (store.ChangeList, error) {
	start := time.Now()
	var (
		changes store.ChangeList
		errs    error
	)
	for _, c := range conflicts {
		data, err := w.resolveConflict(c)
		if err != nil {
			w.log.Error("conflict not resolved", zap.String("path", c.Path), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.Path, err))
			continue
		}
		changes = append(changes, store.Change{
			Op:          store.OpModify,
			Path:        c.Path,
			Description: "resolve conflict",
			Data:        data,
		})
	}
	w.log.Info("conflicts resolved",
		zap.Int("conflicts", len(conflicts)),
		zap.Int("resolved", len(changes)),
		zap.Duration("took", time.Since(start)))
	return changes, errs
}

// resolveConflict merges the versions of one item. When a side is missing,
// because the item was added on both sides or deleted on one, the present
// version is kept, ours first.
func (w *World) resolveConflict(c *store.Conflict) ([]byte, error) {
	if !c.Complete() {
		keep := c.Our
		if keep == nil {
			keep = c.Their
		}
		if keep == nil {
			return nil, fmt.Errorf("no version to keep: %w", store.ErrUnresolvedConflicts)
		}
		w.log.Warn("incomplete conflict, keeping one side", zap.String("path", c.Path))
		return keep.Data, nil
	}

	ancBase, ancData, err := item.Split(c.Ancestor.Data)
	if err != nil {
		return nil, err
	}
	ourBase, ourData, err := item.Split(c.Our.Data)
	if err != nil {
		return nil, err
	}
	theirBase, theirData, err := item.Split(c.Their.Data)
	if err != nil {
		return nil, err
	}
	if ancBase.Type != ourBase.Type || ourBase.Type != theirBase.Type {
		return nil, fmt.Errorf("%q, %q, %q: %w", ancBase.Type, ourBase.Type, theirBase.Type, item.ErrTypeMismatch)
	}

	t, err := w.reg.Lookup(ourBase.Type)
	if err != nil {
		return nil, err
	}
	data, err := t.Policy().MergeThreeWay(ancData, ourData, theirData)
	if err != nil {
		return nil, err
	}
	it := t.MakeBlank()
	if err := it.Base.Apply(ourBase); err != nil {
		return nil, err
	}
	if it.Ident == "" {
		it.Ident = c.Ident
	}
	it.Data = data
	return it.Serialize(w.Now())
}

// reindex reloads and reindexes the items changed since old.
func (w *World) reindex(ctx context.Context, old vcs.Oid) error {
	changes, err := w.store.ChangedSince(ctx, old)
	if err != nil {
		return err
	}
	for _, c := range changes {
		delete(w.arena, c.Ident)
	}
	for _, c := range changes {
		if c.Status == vcs.ChangeDeleted {
			if err := w.index.DeleteContext(ctx, c.Ident); err != nil && !errors.Is(err, index.ErrRowCount) {
				return err
			}
			continue
		}
		it, err := w.GetItem(ctx, c.Ident)
		if err != nil {
			w.log.Warn("cannot reindex", zap.String("ident", c.Ident), zap.Error(err))
			continue
		}
		if err := w.index.UpsertContext(ctx, w.entryFor(ctx, it)); err != nil {
			return err
		}
	}
	w.log.Debug("reindexed", zap.Int("items", len(changes)))
	return nil
}

package world

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/index"
	"github.com/fanling-notes/fanling/internal/item"
)

// MakeItem creates and stores a new item of kind. The ident is allocated
// from the item's description unless base names one; only an allocated
// ident consumes a counter value.
func (w *World) MakeItem(ctx context.Context, kind item.Kind, base item.BaseFields, vals map[string]string) (*item.Item, error) {
	t, err := w.reg.Get(kind)
	if err != nil {
		return nil, err
	}
	if base.Ident != "" && !item.ValidIdent(base.Ident) {
		return nil, fmt.Errorf("cannot make %q: %w", base.Ident, item.ErrBadIdent)
	}
	it := t.MakeBlank()
	if err := it.Data.SetData(vals, w); err != nil {
		return nil, fmt.Errorf("failed to make %s: %w", kind, err)
	}
	ident := base.Ident
	if ident != "" {
		exists, err := w.store.Has(ctx, ident)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("cannot make %s: %w", ident, ErrDuplicateIdent)
		}
	} else if ident, err = w.MakeIdent(ctx, it.Description()); err != nil {
		return nil, err
	}
	it.Ident = ident
	if err := it.Base.Apply(base); err != nil {
		return nil, err
	}
	if err := w.add(ctx, it); err != nil {
		return nil, err
	}
	w.log.Debug("item made", zap.String("ident", ident), zap.Stringer("kind", kind))
	return it, nil
}

// add writes a new item to the store, the index and the arena.
func (w *World) add(ctx context.Context, it *item.Item) error {
	blob, err := it.Serialize(w.Now())
	if err != nil {
		return err
	}
	if err := w.store.Add(ctx, it.Ident, blob); err != nil {
		return err
	}
	w.arena[it.Ident] = it
	return w.index.AddContext(ctx, w.entryFor(ctx, it))
}

// Persist writes a changed item to the index, then the store. The two
// writes are not atomic; CheckData reports any divergence.
func (w *World) Persist(ctx context.Context, it *item.Item) error {
	if err := w.index.UpdateContext(ctx, w.entryFor(ctx, it)); err != nil {
		return err
	}
	blob, err := it.Serialize(w.Now())
	if err != nil {
		return err
	}
	return w.store.Modify(ctx, it.Ident, blob)
}

// DeleteItem removes an item from the index, the store and the arena.
func (w *World) DeleteItem(ctx context.Context, ident string) error {
	if _, err := w.GetItem(ctx, ident); err != nil {
		return err
	}
	if err := w.index.DeleteContext(ctx, ident); err != nil {
		return err
	}
	if err := w.store.Delete(ctx, ident); err != nil {
		return err
	}
	delete(w.arena, ident)
	w.log.Info("item deleted", zap.String("ident", ident))
	return nil
}

// entryFor builds the index row of an item. A readiness that cannot be
// worked out, such as a blocker that no longer exists, counts as not ready.
func (w *World) entryFor(ctx context.Context, it *item.Item) index.Entry {
	ready, err := it.IsReady(ctx, w)
	if err != nil {
		w.log.Debug("readiness unknown", zap.String("ident", it.Ident), zap.Error(err))
		ready = false
	}
	return index.Entry{
		Ident:    it.Ident,
		TypeName: it.TypeName(),
		Name:     it.Description(),
		Open:     it.IsOpen(),
		Ready:    ready,
		Parent:   it.Parent.Ident(),
		Sort:     it.Sort,
		Classify: it.Classify,
		Special:  uint8(it.Special),
		Targeted: it.Targeted,
	}
}

// getAll rebuilds the index and the arena from every stored item. Items
// are loaded before any row is written so that links between them resolve
// without touching the store. Entries that cannot be parsed are skipped.
func (w *World) getAll(ctx context.Context) (int, error) {
	start := time.Now()
	w.log.Info("loading all items")

	if err := w.index.ClearContext(ctx); err != nil {
		return 0, err
	}
	w.store.ClearKnown()
	w.arena = make(map[string]*item.Item)

	entries, err := w.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	loaded := make([]*item.Item, 0, len(entries))
	for _, e := range entries {
		data, err := w.store.ReadEntry(ctx, e)
		if err != nil {
			return 0, err
		}
		it, err := w.decode(ctx, e.Ident, data)
		if err != nil {
			w.log.Warn("skipping item", zap.String("path", e.Path), zap.Error(err))
			continue
		}
		w.store.MakeKnown(e.Ident)
		w.arena[e.Ident] = it
		loaded = append(loaded, it)
	}
	for _, it := range loaded {
		if err := w.index.AddContext(ctx, w.entryFor(ctx, it)); err != nil {
			return 0, err
		}
	}
	w.log.Info("loaded all items",
		zap.Int("items", len(loaded)),
		zap.Int("skipped", len(entries)-len(loaded)),
		zap.Duration("took", time.Since(start)))
	return len(loaded), nil
}

// ItemParts returns an item's base fields and flat data values.
func (w *World) ItemParts(ctx context.Context, ident string) (item.BaseFields, map[string]string, error) {
	it, err := w.GetItem(ctx, ident)
	if err != nil {
		return item.BaseFields{}, nil, err
	}
	return it.Base.Fields(), it.Data.Values(), nil
}

// RawItem returns the stored form of an item.
func (w *World) RawItem(ctx context.Context, ident string) ([]byte, error) {
	return w.store.Get(ctx, ident)
}

// Items returns every stored item, in store order.
func (w *World) Items(ctx context.Context) ([]*item.Item, error) {
	entries, err := w.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*item.Item, 0, len(entries))
	for _, e := range entries {
		it, err := w.GetItem(ctx, e.Ident)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// Has reports whether the store holds ident.
func (w *World) Has(ctx context.Context, ident string) (bool, error) {
	return w.store.Has(ctx, ident)
}

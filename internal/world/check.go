package world

import (
	"context"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/protocol"
	"github.com/fanling-notes/fanling/internal/render"
)

// Report is the result of CheckData.
type Report struct {
	InStore          int
	InIndex          int
	MissingFromIndex []string
	MissingFromStore []string
}

// Consistent reports whether the store and the index hold the same idents.
func (r *Report) Consistent() bool {
	return len(r.MissingFromIndex) == 0 && len(r.MissingFromStore) == 0
}

// CheckData cross-checks every stored item against the index. It only
// reports; nothing is repaired.
func (w *World) CheckData(ctx context.Context) (*Report, error) {
	idents, err := w.index.Idents(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := w.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(idents))
	for _, id := range idents {
		seen[id] = false
	}
	r := &Report{InStore: len(entries), InIndex: len(idents)}
	for _, e := range entries {
		if _, ok := seen[e.Ident]; !ok {
			r.MissingFromIndex = append(r.MissingFromIndex, e.Ident)
		}
		seen[e.Ident] = true
	}
	for id, found := range seen {
		if !found {
			r.MissingFromStore = append(r.MissingFromStore, id)
		}
	}
	sort.Strings(r.MissingFromIndex)
	sort.Strings(r.MissingFromStore)

	w.log.Info("data checked",
		zap.Int("in_store", r.InStore),
		zap.Int("in_index", r.InIndex),
		zap.Strings("missing_from_index", r.MissingFromIndex),
		zap.Strings("missing_from_store", r.MissingFromStore))
	return r, nil
}

func (w *World) checkData(ctx context.Context) (*protocol.Response, error) {
	r, err := w.CheckData(ctx)
	if err != nil {
		return nil, err
	}
	frag, err := w.render.Check(render.CheckData{
		InStore:          r.InStore,
		InIndex:          r.InIndex,
		MissingFromIndex: r.MissingFromIndex,
		MissingFromStore: r.MissingFromStore,
	})
	if err != nil {
		return nil, err
	}
	return protocol.NewResponse().
		AddTag(protocol.TagContent, frag).
		Diagnostic("in_store", strconv.Itoa(r.InStore)).
		Diagnostic("in_index", strconv.Itoa(r.InIndex)).
		Diagnostic("missing_from_index", strconv.Itoa(len(r.MissingFromIndex))).
		Diagnostic("missing_from_store", strconv.Itoa(len(r.MissingFromStore))), nil
}

package world

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/index"
	"github.com/fanling-notes/fanling/internal/item"
	"github.com/fanling-notes/fanling/internal/protocol"
	"github.com/fanling-notes/fanling/internal/render"
)

// Do carries out a world-level or item-level request and appends the
// always tag to the response.
func (w *World) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	log := w.log.With(zap.Stringer("action", req.Action), zap.String("ident", req.Ident))
	log.Debug("action")

	var (
		resp *protocol.Response
		err  error
	)
	switch req.Action.Class() {
	case protocol.ClassWorld:
		resp, err = w.doWorld(ctx, req)
	case protocol.ClassItem:
		resp, err = w.doItem(ctx, req)
	default:
		return nil, fmt.Errorf("%s: %w", req.Action.Name, ErrNotWorldAction)
	}
	if err != nil {
		log.Debug("action failed", zap.Error(err))
		return nil, err
	}
	return w.AddAlways(resp)
}

// AddAlways appends the fragment refreshed after every command.
func (w *World) AddAlways(resp *protocol.Response) (*protocol.Response, error) {
	frag, err := w.render.Always(w.NeedsPush())
	if err != nil {
		return nil, err
	}
	return resp.AddTag(protocol.TagAlways, frag), nil
}

func (w *World) doItem(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	ident, err := req.NeedIdent()
	if err != nil {
		return nil, err
	}
	it, err := w.GetItem(ctx, ident)
	if err != nil {
		return nil, err
	}
	return it.DoAction(ctx, req.Action, w)
}

func (w *World) doWorld(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	act := req.Action
	switch act.Name {
	case protocol.Start:
		return protocol.NewResponse(), nil
	case protocol.Pull:
		if err := w.Pull(ctx); err != nil {
			return nil, err
		}
		return w.listReady(ctx)
	case protocol.Push:
		if err := w.Push(ctx, act.Force); err != nil {
			return nil, err
		}
		return protocol.NewResponse(), nil
	case protocol.Create:
		return w.create(ctx, req)
	case protocol.Update:
		return w.update(ctx, req)
	case protocol.Delete:
		ident, err := req.NeedIdent()
		if err != nil {
			return nil, err
		}
		if err := w.DeleteItem(ctx, ident); err != nil {
			return nil, err
		}
		return protocol.NewResponse().AddTag(protocol.TagMessage, "Deleted "+ident+"."), nil
	case protocol.ListReady:
		return w.listReady(ctx)
	case protocol.ListOpen:
		return w.listHier(ctx, "Open", true)
	case protocol.ListAll:
		return w.listHier(ctx, "All", false)
	case protocol.New, protocol.NewChild:
		return w.newItem(ctx, req)
	case protocol.Clone:
		return w.clone(ctx, req)
	case protocol.GetAll:
		n, err := w.getAll(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.NewResponse().
			AddTag(protocol.TagMessage, fmt.Sprintf("Loaded %d items.", n)).
			Diagnostic("count", strconv.Itoa(n)), nil
	case protocol.CheckData:
		return w.checkData(ctx)
	case protocol.TestError2:
		panic("TestError2")
	default:
		return nil, fmt.Errorf("%s: %w", act.Name, protocol.ErrUnknownAction)
	}
}

// payload decodes the base and values of a Create or Update.
func payload(act protocol.Action) (item.BaseFields, map[string]string) {
	vals := act.Values
	if vals == nil {
		vals = map[string]string{}
	}
	return item.ParseBaseFields(item.Fields(act.Base)), vals
}

// create validates input and makes an item. A failed validation writes
// nothing.
func (w *World) create(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	typeName, err := req.NeedType()
	if err != nil {
		return nil, err
	}
	t, err := w.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	base, vals := payload(req.Action)
	if ar := t.Policy().Validate(base, vals); !ar.OK() {
		return ar.ToResponse(), nil
	}
	it, err := w.MakeItem(ctx, t.Kind(), base, vals)
	if err != nil {
		return nil, err
	}
	resp, err := w.Present(ctx, it, item.ViewEdit)
	if err != nil {
		return nil, err
	}
	return resp.Diagnostic("ident", it.Ident), nil
}

// update validates input and applies it to an existing item. Base keys
// absent from the payload keep their values.
func (w *World) update(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	ident, err := req.NeedIdent()
	if err != nil {
		return nil, err
	}
	it, err := w.GetItem(ctx, ident)
	if err != nil {
		return nil, err
	}
	if req.Type != "" {
		k, err := item.ParseKind(req.Type)
		if err != nil {
			return nil, err
		}
		if k != it.Kind() {
			return nil, fmt.Errorf("%s is %s, not %s: %w", ident, it.Kind(), k, item.ErrTypeMismatch)
		}
	}

	merged := it.Base.Fields().Map()
	for k, v := range req.Action.Base {
		merged[k] = v
	}
	base := item.ParseBaseFields(item.Fields(merged))
	_, vals := payload(req.Action)

	ar := it.Type.Policy().Validate(base, vals)
	if ar.OK() {
		if err := it.Base.Apply(base); err != nil {
			return nil, err
		}
		if err := it.Data.SetData(vals, w); err != nil {
			return nil, err
		}
		if err := w.Persist(ctx, it); err != nil {
			return nil, err
		}
		ar.Diagnostic("ident", it.Ident)
	}
	return ar.ToResponse(), nil
}

// newItem presents a blank form, with a parent for NewChild.
func (w *World) newItem(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	typeName, err := req.NeedType()
	if err != nil {
		return nil, err
	}
	t, err := w.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	it := t.MakeBlank()
	if req.Action.Name == protocol.NewChild {
		if req.Action.Ident == "" {
			return nil, fmt.Errorf("NewChild needs a parent: %w", protocol.ErrMissingField)
		}
		it.Parent = item.NewLink(req.Action.Ident, item.ParentPlaceholder)
	}
	return w.Present(ctx, it, item.ViewNew)
}

// clone stores a duplicate of an item under a new ident.
func (w *World) clone(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	ident, err := req.NeedIdent()
	if err != nil {
		return nil, err
	}
	src, err := w.GetItem(ctx, ident)
	if err != nil {
		return nil, err
	}
	it := item.CloneFrom(src)
	if it.Ident, err = w.MakeIdent(ctx, it.Description()); err != nil {
		return nil, err
	}
	if err := w.add(ctx, it); err != nil {
		return nil, err
	}
	w.log.Info("item cloned", zap.String("from", ident), zap.String("ident", it.Ident))
	resp, err := w.Present(ctx, it, item.ViewEdit)
	if err != nil {
		return nil, err
	}
	return resp.Diagnostic("ident", it.Ident), nil
}

// ===================
// Lists
// ===================

func listEntry(h *index.HierEntry) *item.ListEntry {
	return &item.ListEntry{
		Ident:       h.Ident,
		Description: h.Name,
		Special:     item.SpecialKinds(h.Special),
		Level:       h.Level,
	}
}

// ReadyList returns open items, in parent order, that are ready now.
// Readiness is worked out afresh from the items, since the index row goes
// stale when a blocker changes.
func (w *World) ReadyList(ctx context.Context) (*item.EntryList, error) {
	rows, err := w.index.HierarchicalContext(ctx, true)
	if err != nil {
		return nil, err
	}
	l := &item.EntryList{Entries: make([]*item.ListEntry, len(rows))}
	for i, h := range rows {
		l.Entries[i] = listEntry(h)
	}

	var getErr error
	l.Filter(func(e *item.ListEntry) bool {
		if getErr != nil {
			return false
		}
		it, err := w.GetItem(ctx, e.Ident)
		if err != nil {
			getErr = err
			return false
		}
		ready, err := it.IsReady(ctx, w)
		if err != nil {
			w.log.Debug("readiness unknown", zap.String("ident", e.Ident), zap.Error(err))
			return false
		}
		e.Description = it.Description()
		return ready
	})
	if getErr != nil {
		return nil, getErr
	}
	l.SetLevelChanges()
	return l, nil
}

// HierList returns items in parent order, only open ones with openOnly.
func (w *World) HierList(ctx context.Context, openOnly bool) (*item.EntryList, error) {
	rows, err := w.index.HierarchicalContext(ctx, openOnly)
	if err != nil {
		return nil, err
	}
	l := &item.EntryList{Entries: make([]*item.ListEntry, len(rows))}
	for i, h := range rows {
		l.Entries[i] = listEntry(h)
	}
	l.SetLevelChanges()
	return l, nil
}

func (w *World) listReady(ctx context.Context) (*protocol.Response, error) {
	l, err := w.ReadyList(ctx)
	if err != nil {
		return nil, err
	}
	return w.listResponse("Ready", l)
}

func (w *World) listHier(ctx context.Context, title string, openOnly bool) (*protocol.Response, error) {
	l, err := w.HierList(ctx, openOnly)
	if err != nil {
		return nil, err
	}
	return w.listResponse(title, l)
}

func (w *World) listResponse(title string, l *item.EntryList) (*protocol.Response, error) {
	frag, err := w.render.List(render.ListData{Title: title, List: l})
	if err != nil {
		return nil, err
	}
	return protocol.NewResponse().
		AddTag(protocol.TagContent, frag).
		Diagnostic("count", strconv.Itoa(l.Len())), nil
}

// ===================
// Presentation
// ===================

// Present renders an item as a page or a form.
func (w *World) Present(ctx context.Context, it *item.Item, v item.View) (*protocol.Response, error) {
	switch v {
	case item.ViewShow:
		return w.presentShow(ctx, it)
	case item.ViewEdit, item.ViewNew:
		return w.presentEdit(ctx, it, v == item.ViewNew)
	default:
		return nil, fmt.Errorf("unknown view %d", v)
	}
}

// hiddenFields are not listed on an item page.
var hiddenFields = map[string]bool{"name": true, "text": true, "status": true}

func (w *World) presentShow(ctx context.Context, it *item.Item) (*protocol.Response, error) {
	ready, err := it.IsReady(ctx, w)
	if err != nil {
		w.log.Debug("readiness unknown", zap.String("ident", it.Ident), zap.Error(err))
		ready = false
	}
	vals := it.Data.Values()
	var fields []render.Field
	for k, v := range vals {
		if v != "" && !hiddenFields[k] {
			fields = append(fields, render.Field{Name: k, Value: v})
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	children, err := w.index.ChildrenContext(ctx, it.Ident)
	if err != nil {
		return nil, err
	}
	var kids *item.EntryList
	if len(children) > 0 {
		kids = &item.EntryList{}
		for _, c := range children {
			kids.Entries = append(kids.Entries, &item.ListEntry{
				Ident:       c.Ident,
				Description: c.Name,
				Special:     item.SpecialKinds(c.Special),
			})
		}
	}

	frag, err := w.render.Show(render.ShowData{
		Ident:       it.Ident,
		TypeName:    it.TypeName(),
		Description: it.Description(),
		Open:        it.IsOpen(),
		Ready:       ready,
		Parent:      it.Parent.Ident(),
		Text:        vals["text"],
		Fields:      fields,
		Children:    kids,
	})
	if err != nil {
		return nil, err
	}
	return protocol.NewResponse().
		AddTag(protocol.TagContent, frag).
		Diagnostic("ident", it.Ident).
		Diagnostic("open", strconv.FormatBool(it.IsOpen())).
		Diagnostic("ready", strconv.FormatBool(ready)), nil
}

func (w *World) presentEdit(ctx context.Context, it *item.Item, isNew bool) (*protocol.Response, error) {
	vals := it.Data.Values()
	parents, err := w.options(ctx, item.SpecialParent, it.Parent.Ident(), it.Ident)
	if err != nil {
		return nil, err
	}
	var contexts []render.Option
	if _, ok := vals["context"]; ok {
		if contexts, err = w.options(ctx, item.SpecialContext, vals["context"], ""); err != nil {
			return nil, err
		}
	}
	frag, err := w.render.Edit(render.EditData{
		Ident:    it.Ident,
		TypeName: it.TypeName(),
		IsNew:    isNew,
		Base:     it.Base.Fields(),
		Values:   vals,
		Parents:  parents,
		Contexts: contexts,
	})
	if err != nil {
		return nil, err
	}
	resp := protocol.NewResponse().AddTag(protocol.TagContent, frag)
	if !isNew {
		resp.Diagnostic("ident", it.Ident)
	}
	return resp, nil
}

// options lists the items offered for a special role, marking selected and
// leaving out self.
func (w *World) options(ctx context.Context, kind item.SpecialKind, selected, self string) ([]render.Option, error) {
	rows, err := w.index.BySpecialKindContext(ctx, uint8(kind))
	if err != nil {
		return nil, err
	}
	out := make([]render.Option, 0, len(rows))
	for _, r := range rows {
		if r.Ident == self {
			continue
		}
		out = append(out, render.Option{Ident: r.Ident, Label: r.Name, Selected: r.Ident == selected})
	}
	return out, nil
}

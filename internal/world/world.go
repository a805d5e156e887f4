// Package world owns the items of one store: it loads them, allocates
// idents, keeps the index in step with the store, routes actions, and runs
// the pull and conflict-resolution pipeline.
//
// A World is not safe for concurrent use. Callers that share one across
// goroutines serialize access themselves.
package world

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/index"
	"github.com/fanling-notes/fanling/internal/item"
	"github.com/fanling-notes/fanling/internal/render"
	"github.com/fanling-notes/fanling/internal/store"
	"github.com/fanling-notes/fanling/internal/vcs"
)

// World errors.
var (
	// ErrNoPrefix is returned by Open when no unique prefix is configured
	// or recorded in the index.
	ErrNoPrefix = errors.New("no unique ident prefix")

	// ErrDuplicateIdent is returned when creating an item with a fixed
	// ident that the store already holds.
	ErrDuplicateIdent = errors.New("ident already exists")

	// ErrIdentMismatch is returned when a stored item names a different
	// ident than its path.
	ErrIdentMismatch = errors.New("item ident does not match its path")

	// ErrNotWorldAction is returned by Do for engine-level actions.
	ErrNotWorldAction = errors.New("not a world action")
)

// Options configures a World.
type Options struct {
	// Store configures the content store
	Store store.Options

	// IndexPath is the SQLite index file
	IndexPath string

	// UniqPrefix distinguishes idents made on this device; when empty the
	// prefix recorded in the index is used
	UniqPrefix string

	// AutoLink fabricates placeholder items for links to missing idents
	AutoLink bool

	// AutoLinkKind is the kind of placeholder made by GetItem (default Simple)
	AutoLinkKind item.Kind

	// Logger receives structured logs; nil disables logging
	Logger *zap.Logger

	// Renderer builds response fragments (default render.NewHTML())
	Renderer render.Renderer

	// Clock returns the current time (default time.Now)
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Store.Logger == nil {
		o.Store.Logger = o.Logger
	}
	if o.AutoLinkKind == item.KindUnknown {
		o.AutoLinkKind = item.KindSimple
	}
	if o.Renderer == nil {
		o.Renderer = render.NewHTML()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// World is the orchestrator over one store and its index.
type World struct {
	opts   Options
	log    *zap.Logger
	reg    *item.Registry
	index  *index.DB
	store  *store.Store
	render render.Renderer

	prefix    string
	lastIdent int

	// arena holds every item loaded this session, keyed by ident
	arena map[string]*item.Item
}

// Open builds the registry, opens the index and the store, brings the index
// up to date, and makes sure a context item exists.
//
// The caller MUST call Close() when done.
func Open(ctx context.Context, opts Options) (*World, error) {
	opts = opts.withDefaults()
	w := &World{
		opts:   opts,
		log:    opts.Logger.Named("world"),
		reg:    item.DefaultRegistry(),
		render: opts.Renderer,
		arena:  make(map[string]*item.Item),
	}

	ix, err := index.Open(opts.IndexPath, opts.Logger)
	if err != nil {
		return nil, err
	}
	w.index = ix

	g, err := ix.ReadGlobalContext(ctx)
	if err != nil {
		return nil, multierr.Append(err, w.Close())
	}
	w.lastIdent = g.LastIdent
	w.prefix = opts.UniqPrefix
	if w.prefix == "" {
		w.prefix = g.Prefix
	}
	if w.prefix == "" {
		return nil, multierr.Append(ErrNoPrefix, w.Close())
	}
	if w.prefix != g.Prefix {
		if err := ix.WritePrefix(ctx, w.prefix); err != nil {
			return nil, multierr.Append(err, w.Close())
		}
	}

	st, action, err := store.Open(ctx, opts.Store)
	if err != nil {
		return nil, multierr.Append(err, w.Close())
	}
	w.store = st
	w.log.Info("store open", zap.String("path", st.Path()), zap.Stringer("action", action))

	if err := w.catchUp(ctx, action); err != nil {
		return nil, multierr.Append(err, w.Close())
	}
	if err := w.ensureContext(ctx); err != nil {
		return nil, multierr.Append(err, w.Close())
	}
	return w, nil
}

// catchUp brings the index in line with the store after open.
func (w *World) catchUp(ctx context.Context, action store.ActionRequired) error {
	switch action {
	case store.LoadAll:
		_, err := w.getAll(ctx)
		return err
	case store.NoAction:
		// A new repository: rows from an earlier one are stale.
		return w.index.ClearContext(ctx)
	case store.ProcessChanges:
		n, err := w.index.Count(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := w.getAll(ctx); err != nil {
				return err
			}
		}
		if w.store.HasRemote() {
			if err := w.Pull(ctx); err != nil {
				w.log.Warn("startup pull failed", zap.Error(err))
			}
		}
	}
	return nil
}

// ensureContext seeds the default context when there is no context item.
func (w *World) ensureContext(ctx context.Context) error {
	contexts, err := w.index.BySpecialKindContext(ctx, uint8(item.SpecialContext))
	if err != nil {
		return err
	}
	if len(contexts) > 0 {
		return nil
	}
	w.log.Info("no context items, creating default")
	_, err = w.MakeItem(ctx, item.KindSimple, item.BaseFields{
		Ident:        item.DefaultContext,
		Type:         item.KindSimple.String(),
		CanBeContext: true,
	}, map[string]string{"name": "Default context"})
	return err
}

// Close closes the index and the store.
func (w *World) Close() error {
	var err error
	if w.index != nil {
		err = multierr.Append(err, w.index.Close())
	}
	if w.store != nil {
		err = multierr.Append(err, w.store.Close())
	}
	return err
}

// Now returns the world clock's time.
func (w *World) Now() time.Time {
	return w.opts.Clock()
}

// NeedsPush reports whether local commits have not been pushed.
func (w *World) NeedsPush() bool {
	return w.store.NeedsPush()
}

// Push sends local commits to the remote.
func (w *World) Push(ctx context.Context, force bool) error {
	return w.store.Push(ctx, force)
}

// Registry returns the item type registry.
func (w *World) Registry() *item.Registry {
	return w.reg
}

// StorePath returns the repository directory.
func (w *World) StorePath() string {
	return w.store.Path()
}

// IndexPath returns the index file.
func (w *World) IndexPath() string {
	return w.index.Path()
}

// ===================
// Item lookup
// ===================

// GetItem returns the item for ident, loading it from the store if it is
// not already loaded.
func (w *World) GetItem(ctx context.Context, ident string) (*item.Item, error) {
	return w.GetItemOr(ctx, ident, item.Placeholder{Kind: w.opts.AutoLinkKind})
}

// GetItemOr is GetItem with the placeholder to fabricate, under auto-link,
// when the ident has no stored item.
func (w *World) GetItemOr(ctx context.Context, ident string, ph item.Placeholder) (*item.Item, error) {
	if it, ok := w.arena[ident]; ok {
		return it, nil
	}
	data, err := w.store.Get(ctx, ident)
	if errors.Is(err, vcs.ErrPathNotFound) && w.opts.AutoLink {
		return w.ensureItem(ctx, ident, ph)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", ident, err)
	}
	it, err := w.decode(ctx, ident, data)
	if err != nil {
		return nil, err
	}
	w.arena[ident] = it
	return it, nil
}

// KnownItem returns an item loaded this session.
func (w *World) KnownItem(ident string) (*item.Item, bool) {
	it, ok := w.arena[ident]
	return it, ok
}

// decode builds an item read from the store and writes back any legacy
// migration.
func (w *World) decode(ctx context.Context, ident string, data []byte) (*item.Item, error) {
	it, fixed, err := item.Decode(w.reg, data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ident, err)
	}
	switch it.Ident {
	case ident:
	case "":
		it.Ident = ident
	default:
		return nil, fmt.Errorf("%s holds %s: %w", ident, it.Ident, ErrIdentMismatch)
	}
	if fixed {
		w.log.Info("fixing legacy fields", zap.String("ident", ident))
		blob, err := it.Serialize(w.Now())
		if err != nil {
			return nil, err
		}
		if err := w.store.Fix(ctx, ident, blob); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// ensureItem makes a placeholder for a missing ident.
func (w *World) ensureItem(ctx context.Context, ident string, ph item.Placeholder) (*item.Item, error) {
	kind := ph.Kind
	if kind == item.KindUnknown {
		kind = w.opts.AutoLinkKind
	}
	w.log.Info("creating placeholder", zap.String("ident", ident), zap.Stringer("kind", kind))
	return w.MakeItem(ctx, kind, item.BaseFields{
		Ident:        ident,
		Type:         kind.String(),
		CanBeParent:  ph.Special.Has(item.SpecialParent),
		CanBeContext: ph.Special.Has(item.SpecialContext),
	}, map[string]string{"name": ident})
}

// ===================
// Idents
// ===================

var (
	unallowedChars = regexp.MustCompile(`[^A-Za-z0-9]+`)
	initialDash    = regexp.MustCompile(`^-+`)
)

// maxSlugLen bounds the readable part of an ident.
const maxSlugLen = 20

// fallbackSlug stands in for a basis with no usable characters.
const fallbackSlug = "item"

// MakeIdent allocates a new ident from a readable basis: the slugged basis,
// the unique prefix, and the next counter value. The counter is persisted
// before the ident is returned.
//
// An empty basis or prefix is a programming error and panics.
func (w *World) MakeIdent(ctx context.Context, basis string) (string, error) {
	if w.prefix == "" {
		panic("world: MakeIdent with empty prefix")
	}
	if basis == "" {
		panic("world: MakeIdent with empty basis")
	}
	slug := initialDash.ReplaceAllString(unallowedChars.ReplaceAllString(basis, "-"), "")
	if slug == "" {
		slug = fallbackSlug
	}
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	n := w.lastIdent + 1
	if err := w.index.WriteLastIdentContext(ctx, n); err != nil {
		return "", err
	}
	w.lastIdent = n
	return fmt.Sprintf("%s-%s%d", slug, w.prefix, n), nil
}

// LastIdent returns the last counter value used.
func (w *World) LastIdent() int {
	return w.lastIdent
}

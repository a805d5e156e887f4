package item

import (
	"context"
	"fmt"
)

// Placeholder is what to fabricate when a link names a missing item and
// auto-link is on. Each call site picks its own.
type Placeholder struct {
	Kind    Kind
	Special SpecialKinds
}

// Placeholders per call site.
var (
	ParentPlaceholder  = Placeholder{Kind: KindSimple, Special: Specials(SpecialParent)}
	ContextPlaceholder = Placeholder{Kind: KindSimple, Special: Specials(SpecialContext)}
	BlockerPlaceholder = Placeholder{Kind: KindTask}
)

// Resolver finds items by ident.
type Resolver interface {
	// GetItemOr returns the item, loading it if needed. A missing item is
	// fabricated from ph when auto-link is enabled.
	GetItemOr(ctx context.Context, ident string, ph Placeholder) (*Item, error)
	// KnownItem returns an already loaded item.
	KnownItem(ident string) (*Item, bool)
}

// Link is a reference to another item by ident. The first Resolve may load
// the target; later calls only look among loaded items.
type Link struct {
	ident       string
	placeholder Placeholder
	resolved    bool
}

// NewLink returns an unresolved link.
func NewLink(ident string, ph Placeholder) *Link {
	return &Link{ident: ident, placeholder: ph}
}

// Ident returns the target ident. A nil link has none.
func (l *Link) Ident() string {
	if l == nil {
		return ""
	}
	return l.ident
}

// Resolved reports whether Resolve has succeeded before.
func (l *Link) Resolved() bool {
	return l != nil && l.resolved
}

// Resolve returns the target item.
func (l *Link) Resolve(ctx context.Context, r Resolver) (*Item, error) {
	if l == nil || l.ident == "" {
		return nil, fmt.Errorf("empty link: %w", ErrInvalidReference)
	}
	if l.resolved {
		it, ok := r.KnownItem(l.ident)
		if !ok {
			return nil, fmt.Errorf("%s: %w", l.ident, ErrInvalidReference)
		}
		return it, nil
	}
	it, err := r.GetItemOr(ctx, l.ident, l.placeholder)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", l.ident, err)
	}
	l.resolved = true
	return it, nil
}

// Clone returns an unresolved copy.
func (l *Link) Clone() *Link {
	if l == nil {
		return nil
	}
	return NewLink(l.ident, l.placeholder)
}

package item

import (
	"fmt"
	"strings"
	"time"
)

// ClassifyNormal and ClassifyArchived are the classify values the engine
// interprets. Other values are kept but carry no meaning.
const (
	ClassifyNormal   = "normal"
	ClassifyArchived = "archived"
)

// dateLayouts are tried in order when reading stored dates.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999Z",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 MST",
}

// ParseDate parses a stored date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q: %w", s, ErrBadDate)
}

// FormatDate renders a date for storage.
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// DateUnset reports whether t means "no date": the zero time or the epoch.
func DateUnset(t time.Time) bool {
	return t.IsZero() || t.Unix() == 0
}

// ValidIdent reports whether s may be used as an ident.
func ValidIdent(s string) bool {
	return s != "" && s[0] != '-' && s[0] != '?'
}

// Base holds the attributes shared by every item type.
type Base struct {
	Ident        string
	Type         *Type
	Parent       *Link
	Sort         string
	Classify     string
	Special      SpecialKinds
	Targeted     bool // session only
	WhenCreated  time.Time
	WhenModified time.Time
}

// BaseFields is the serialized form of Base.
type BaseFields struct {
	Ident        string `yaml:"ident"`
	Type         string `yaml:"type"`
	Parent       string `yaml:"parent,omitempty"`
	CanBeParent  bool   `yaml:"can_be_parent,omitempty"`
	CanBeContext bool   `yaml:"can_be_context,omitempty"`
	Sort         string `yaml:"sort,omitempty"`
	Classify     string `yaml:"classify,omitempty"`
	WhenCreated  string `yaml:"when_created,omitempty"`
	WhenModified string `yaml:"when_modified,omitempty"`
}

// baseKeys are the keys, aliases included, that belong to the base.
var baseKeys = []string{
	"ident", "type", "parent", "can_be_parent", "can_be_context", "sort",
	"classify", "targeted", "when_created", "whencreated", "when_modified",
}

// ParseBaseFields extracts the base attributes from decoded fields.
func ParseBaseFields(f Fields) BaseFields {
	return BaseFields{
		Ident:        f.String("ident"),
		Type:         f.String("type"),
		Parent:       f.String("parent"),
		CanBeParent:  f.Bool("can_be_parent"),
		CanBeContext: f.Bool("can_be_context"),
		Sort:         f.String("sort"),
		Classify:     f.String("classify"),
		WhenCreated:  f.String("when_created", "whencreated"),
		WhenModified: f.String("when_modified"),
	}
}

// Map returns the fields keyed like a command payload.
func (bf BaseFields) Map() map[string]any {
	m := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("ident", bf.Ident)
	set("type", bf.Type)
	set("parent", bf.Parent)
	set("sort", bf.Sort)
	set("classify", bf.Classify)
	set("when_created", bf.WhenCreated)
	set("when_modified", bf.WhenModified)
	if bf.CanBeParent {
		m["can_be_parent"] = true
	}
	if bf.CanBeContext {
		m["can_be_context"] = true
	}
	return m
}

// Fields returns the serialized form of b.
func (b *Base) Fields() BaseFields {
	bf := BaseFields{
		Ident:        b.Ident,
		Parent:       b.Parent.Ident(),
		CanBeParent:  b.Special.Has(SpecialParent),
		CanBeContext: b.Special.Has(SpecialContext),
		Sort:         b.Sort,
	}
	if b.Type != nil {
		bf.Type = b.Type.Name()
	}
	if b.Classify != ClassifyNormal {
		bf.Classify = b.Classify
	}
	if !DateUnset(b.WhenCreated) {
		bf.WhenCreated = FormatDate(b.WhenCreated)
	}
	if !DateUnset(b.WhenModified) {
		bf.WhenModified = FormatDate(b.WhenModified)
	}
	return bf
}

// Apply sets b from serialized fields. The ident is only taken when b has
// none. Dates are only taken when present.
func (b *Base) Apply(bf BaseFields) error {
	if b.Ident == "" && bf.Ident != "" {
		b.Ident = bf.Ident
	}
	b.Parent = nil
	if bf.Parent != "" {
		b.Parent = NewLink(bf.Parent, ParentPlaceholder)
	}
	b.Sort = bf.Sort
	b.Classify = bf.Classify
	if b.Classify == "" {
		b.Classify = ClassifyNormal
	}
	b.Special = SpecialKinds(0).
		With(SpecialParent, bf.CanBeParent).
		With(SpecialContext, bf.CanBeContext)

	if bf.WhenCreated != "" {
		t, err := ParseDate(bf.WhenCreated)
		if err != nil {
			return fmt.Errorf("when_created: %w", err)
		}
		b.WhenCreated = t
	}
	if bf.WhenModified != "" {
		t, err := ParseDate(bf.WhenModified)
		if err != nil {
			return fmt.Errorf("when_modified: %w", err)
		}
		b.WhenModified = t
	}
	return nil
}

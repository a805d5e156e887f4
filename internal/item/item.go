// Package item is the record model: items, their types, and the behaviour
// that differs per type.
//
// An Item is a Base (ident, parent, sort, classify, special roles, dates)
// plus type-specific Data. Each kind registers one Type in a Registry; the
// Type's Policy covers the behaviour that needs no instance: making blank
// items, validating user input, and three-way merging.
//
// Items are stored as YAML documents that begin with "---\n", base keys
// first:
//
//	---
//	ident: buy-milk-aa3
//	type: Task
//	when_created: "2021-03-04T10:00:00Z"
//	when_modified: "2021-03-05T09:12:44Z"
//	context: default_context
//	name: Buy milk
//	priority: 10
//
// Cross-item references are Links holding an ident; they are resolved
// through the World that owns the items.
package item

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fanling-notes/fanling/internal/protocol"
)

// Record model errors.
var (
	// ErrInvalidReference is returned when a resolved link no longer names
	// a loaded item.
	ErrInvalidReference = errors.New("invalid item reference")

	// ErrNoSuchType is returned for an unknown type name or kind.
	ErrNoSuchType = errors.New("no such item type")

	// ErrTypeMismatch is returned when versions of one item disagree on type.
	ErrTypeMismatch = errors.New("item type mismatch")

	// ErrNoAction is returned when a type does not support an action.
	ErrNoAction = errors.New("action not supported")

	// ErrBadDate is returned for a date in none of the accepted formats.
	ErrBadDate = errors.New("invalid date")

	// ErrNoName is returned when data is set without a name.
	ErrNoName = errors.New("no name")

	// ErrBadIdent is returned for an ident that is empty or starts with
	// '-' or '?'.
	ErrBadIdent = errors.New("invalid ident")
)

// Data is the type-specific part of an item.
type Data interface {
	IsOpen() bool
	IsReady(ctx context.Context, w World) (bool, error)
	Description() string
	DescriptionForList() string

	// Fields returns the serialized data fields.
	Fields() Fields
	// SetFromFields loads data from serialized fields.
	SetFromFields(f Fields) error
	// SetData assigns user input. It assumes Validate has passed.
	SetData(vals map[string]string, w World) error
	// Values returns the flat field map used by edit forms.
	Values() map[string]string

	// DoAction carries out a type-specific action on it.
	DoAction(ctx context.Context, it *Item, act protocol.Action, w World) error
	// CloneData returns the data for a duplicate, with closing state reset.
	CloneData() Data
	// FixLegacy migrates old fields once per load. It may change the base
	// and reports whether it did anything.
	FixLegacy(f Fields, b *Base) bool
}

// Item is one record.
type Item struct {
	Base
	Data Data
}

// Kind returns the item's kind.
func (it *Item) Kind() Kind {
	if it.Type == nil {
		return KindUnknown
	}
	return it.Type.Kind()
}

// TypeName returns the serialized type name.
func (it *Item) TypeName() string {
	return it.Kind().String()
}

func (it *Item) IsOpen() bool {
	return it.Data.IsOpen()
}

func (it *Item) IsReady(ctx context.Context, w World) (bool, error) {
	return it.Data.IsReady(ctx, w)
}

func (it *Item) Description() string {
	return it.Data.Description()
}

func (it *Item) DescriptionForList() string {
	return it.Data.DescriptionForList()
}

// Archived reports whether the item has been archived.
func (it *Item) Archived() bool {
	return it.Classify == ClassifyArchived
}

// Serialize renders the item, stamping when_modified with now.
func (it *Item) Serialize(now time.Time) ([]byte, error) {
	it.WhenModified = now
	if DateUnset(it.WhenCreated) {
		it.WhenCreated = now
	}
	var doc yaml.Node
	if err := doc.Encode(it.Base.Fields()); err != nil {
		return nil, fmt.Errorf("failed to encode base of %s: %w", it.Ident, err)
	}
	var data yaml.Node
	if err := data.Encode(map[string]any(it.Data.Fields())); err != nil {
		return nil, fmt.Errorf("failed to encode data of %s: %w", it.Ident, err)
	}
	doc.Content = append(doc.Content, data.Content...)

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", it.Ident, err)
	}
	return append([]byte(docStart), out...), nil
}

const docStart = "---\n"

// Split decodes a serialized item into its base and its data fields.
func Split(data []byte) (BaseFields, Fields, error) {
	if !bytes.HasPrefix(data, []byte(docStart)) {
		data = append([]byte(docStart), data...)
	}
	var raw Fields
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return BaseFields{}, nil, fmt.Errorf("failed to parse item: %w", err)
	}
	if raw == nil {
		raw = Fields{}
	}
	bf := ParseBaseFields(raw)
	for _, k := range baseKeys {
		delete(raw, k)
	}
	return bf, raw, nil
}

// Deserialize builds an item from its serialized form.
func Deserialize(reg *Registry, data []byte) (*Item, error) {
	it, _, err := Decode(reg, data)
	return it, err
}

// Decode is Deserialize that also reports whether legacy fields were
// migrated, in which case the stored form is out of date.
func Decode(reg *Registry, data []byte) (it *Item, fixed bool, err error) {
	bf, df, err := Split(data)
	if err != nil {
		return nil, false, err
	}
	t, err := reg.Lookup(bf.Type)
	if err != nil {
		return nil, false, err
	}
	it = t.MakeBlank()
	if err := it.Base.Apply(bf); err != nil {
		return nil, false, fmt.Errorf("%s: %w", bf.Ident, err)
	}
	if err := it.Data.SetFromFields(df); err != nil {
		return nil, false, fmt.Errorf("%s: %w", bf.Ident, err)
	}
	fixed = it.Data.FixLegacy(df, &it.Base)
	return it, fixed, nil
}

// DoAction carries out an item-level action. Show and Edit only present
// the item; any other action changes it and persists the change.
func (it *Item) DoAction(ctx context.Context, act protocol.Action, w World) (*protocol.Response, error) {
	switch act.Name {
	case protocol.Show:
		return w.Present(ctx, it, ViewShow)
	case protocol.Edit:
		return w.Present(ctx, it, ViewEdit)
	case protocol.Archive:
		it.Classify = ClassifyArchived
	default:
		if err := it.Data.DoAction(ctx, it, act, w); err != nil {
			return nil, err
		}
	}
	if err := w.Persist(ctx, it); err != nil {
		return nil, err
	}
	return w.Present(ctx, it, ViewShow)
}

// CloneFrom returns a new item of src's type holding a duplicate of its
// data. The ident is left for the caller to allocate.
func CloneFrom(src *Item) *Item {
	it := src.Type.MakeBlank()
	it.Data = src.Data.CloneData()
	it.Parent = src.Parent.Clone()
	it.Sort = src.Sort
	it.Special = src.Special
	return it
}

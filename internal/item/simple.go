package item

import (
	"context"
	"fmt"
	"strings"

	"github.com/fanling-notes/fanling/internal/protocol"
)

// Simple is a free-text page. It is always open and always ready.
type Simple struct {
	Name string
	Text string
}

func (s *Simple) IsOpen() bool { return true }

func (s *Simple) IsReady(context.Context, World) (bool, error) { return true, nil }

func (s *Simple) Description() string { return s.Name }

func (s *Simple) DescriptionForList() string { return s.Name }

func (s *Simple) Fields() Fields {
	f := Fields{"name": s.Name}
	if s.Text != "" {
		f["text"] = s.Text
	}
	return f
}

func (s *Simple) SetFromFields(f Fields) error {
	s.Name = f.String("name", "heading")
	s.Text = f.String("text")
	return nil
}

func (s *Simple) SetData(vals map[string]string, _ World) error {
	name, ok := vals["name"]
	if !ok || strings.TrimSpace(name) == "" {
		return ErrNoName
	}
	s.Name = name
	s.Text = vals["text"]
	return nil
}

func (s *Simple) Values() map[string]string {
	return map[string]string{"name": s.Name, "text": s.Text}
}

func (s *Simple) DoAction(_ context.Context, it *Item, act protocol.Action, _ World) error {
	return fmt.Errorf("%s on %s: %w", act.Name, it.Ident, ErrNoAction)
}

func (s *Simple) CloneData() Data {
	c := *s
	return &c
}

func (s *Simple) FixLegacy(Fields, *Base) bool { return false }

// SimplePolicy is the type policy for Simple.
type SimplePolicy struct{}

func (SimplePolicy) Kind() Kind { return KindSimple }

func (SimplePolicy) MakeBlank(t *Type) *Item {
	return &Item{Base: Base{Type: t, Classify: ClassifyNormal}, Data: &Simple{}}
}

func (SimplePolicy) Validate(base BaseFields, vals map[string]string) *ActionResponse {
	ar := NewActionResponse()
	validateIdent(ar, base)
	validateName(ar, vals)
	return ar
}

func (SimplePolicy) MergeThreeWay(ancestor, ours, theirs Fields) (Data, error) {
	var a, o, t Simple
	for _, p := range []struct {
		s *Simple
		f Fields
	}{{&a, ancestor}, {&o, ours}, {&t, theirs}} {
		if p.f == nil {
			continue
		}
		if err := p.s.SetFromFields(p.f); err != nil {
			return nil, err
		}
	}
	return &Simple{
		Name: mergeField(a.Name, o.Name, t.Name),
		Text: mergeField(a.Text, o.Text, t.Text),
	}, nil
}

// validateIdent checks an ident supplied with the base fields. An empty
// one is allocated later.
func validateIdent(ar *ActionResponse, base BaseFields) {
	ar.Assert(base.Ident == "" || ValidIdent(base.Ident), "ident-error", "Ident must not start with '-' or '?'.")
}

func validateName(ar *ActionResponse, vals map[string]string) {
	ar.Assert(strings.TrimSpace(vals["name"]) != "", "name-error", "Name must be non-blank.")
}

package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/fanling-notes/fanling/internal/item"
)

func TestMarkdown(t *testing.T) {
	got, err := Markdown("# Title\n\n~~old~~ text\n\n- [x] done\n\n<script>alert(1)</script>")
	if err != nil {
		t.Fatalf("Markdown() failed: %v", err)
	}
	for _, want := range []string{"<h1>Title</h1>", "<del>old</del>", `type="checkbox"`} {
		if !strings.Contains(got, want) {
			t.Errorf("Markdown() missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "<script>") {
		t.Errorf("Markdown() passed raw HTML through:\n%s", got)
	}
}

func TestShowEscapes(t *testing.T) {
	h := NewHTML()
	got, err := h.Show(ShowData{
		Ident:       "x-a1",
		TypeName:    "Task",
		Description: "<b>bold</b>",
		Open:        true,
		Ready:       true,
		Text:        "*hi*",
	})
	if err != nil {
		t.Fatalf("Show() failed: %v", err)
	}
	if strings.Contains(got, "<b>bold</b>") {
		t.Errorf("Show() did not escape the description:\n%s", got)
	}
	if !strings.Contains(got, "<em>hi</em>") || !strings.Contains(got, "ready") {
		t.Errorf("Show() output:\n%s", got)
	}
}

func TestEditForm(t *testing.T) {
	h := NewHTML()
	got, err := h.Edit(EditData{
		TypeName: "Task",
		IsNew:    true,
		Values:   map[string]string{"name": "n", "priority": "10", "text": "body"},
		Contexts: []Option{{Ident: "default_context", Label: "Default context", Selected: true}},
	})
	if err != nil {
		t.Fatalf("Edit() failed: %v", err)
	}
	for _, want := range []string{`name="name" value="n"`, `id="priority-error"`, "<textarea name=\"text\">body</textarea>", "Create", "selected"} {
		if !strings.Contains(got, want) {
			t.Errorf("Edit() missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "data-ident") {
		t.Errorf("Edit() of a new item carries an ident:\n%s", got)
	}
}

func TestListNesting(t *testing.T) {
	l := &item.EntryList{Entries: []*item.ListEntry{
		{Ident: "a", Description: "A", Level: 0},
		{Ident: "b", Description: "B", Level: 1},
	}}
	l.SetLevelChanges()
	got, err := NewHTML().List(ListData{Title: "Ready", List: l})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if strings.Count(got, `<ul class="nested">`) != 1 || !strings.Contains(got, "</ul></ul>") {
		t.Errorf("List() nesting wrong:\n%s", got)
	}
	if !strings.Contains(got, `<span class="caret">`) {
		t.Errorf("List() did not mark the parent:\n%s", got)
	}
}

func TestAlwaysAndCheck(t *testing.T) {
	h := NewHTML()
	if got, _ := h.Always(true); !strings.Contains(got, "unpushed") {
		t.Errorf("Always(true) = %q", got)
	}
	got, err := h.Check(CheckData{InStore: 2, InIndex: 1, MissingFromIndex: []string{"x-a1"}})
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !strings.Contains(got, "2 in store, 1 in index") || !strings.Contains(got, "<li>x-a1</li>") {
		t.Errorf("Check() output:\n%s", got)
	}
	if got := h.Error(errors.New("a < b")); got != "a &lt; b" {
		t.Errorf("Error() = %q", got)
	}
}

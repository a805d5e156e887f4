package render

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"

	"github.com/fanling-notes/fanling/internal/item"
)

// Field is a labelled value shown on an item page.
type Field struct {
	Name  string
	Value string
}

// ShowData is an item page.
type ShowData struct {
	Ident       string
	TypeName    string
	Description string
	Open        bool
	Ready       bool
	Parent      string
	Text        string // markdown
	Fields      []Field
	Children    *item.EntryList
}

// Option is one choice in a select element.
type Option struct {
	Ident    string
	Label    string
	Selected bool
}

// EditData is an item form.
type EditData struct {
	Ident    string
	TypeName string
	IsNew    bool
	Base     item.BaseFields
	Values   map[string]string
	Parents  []Option
	Contexts []Option
}

// ListData is a titled item list.
type ListData struct {
	Title string
	List  *item.EntryList
}

// CheckData is the result of a consistency check.
type CheckData struct {
	InStore          int
	InIndex          int
	MissingFromIndex []string
	MissingFromStore []string
}

// Renderer produces response fragments.
type Renderer interface {
	Show(ShowData) (string, error)
	Edit(EditData) (string, error)
	List(ListData) (string, error)
	Always(needsPush bool) (string, error)
	Check(CheckData) (string, error)
	Error(err error) string
}

// HTML renders fragments with html/template.
type HTML struct {
	t *template.Template
}

// NewHTML parses the fragment templates.
func NewHTML() *HTML {
	return &HTML{t: template.Must(template.New("fragments").Funcs(template.FuncMap{
		"markup": func(s string) template.HTML { return template.HTML(s) },
	}).Parse(fragments))}
}

func (h *HTML) exec(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := h.t.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Show renders an item page.
func (h *HTML) Show(d ShowData) (string, error) {
	text, err := Markdown(d.Text)
	if err != nil {
		return "", err
	}
	return h.exec("show", struct {
		ShowData
		HTMLText template.HTML
	}{d, template.HTML(text)})
}

// Edit renders an item form. Values are shown sorted by field name.
func (h *HTML) Edit(d EditData) (string, error) {
	fields := make([]Field, 0, len(d.Values))
	for k, v := range d.Values {
		fields = append(fields, Field{Name: k, Value: v})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return h.exec("edit", struct {
		EditData
		Fields []Field
	}{d, fields})
}

// List renders an item list with its nesting.
func (h *HTML) List(d ListData) (string, error) {
	if d.List == nil {
		d.List = &item.EntryList{}
	}
	return h.exec("list", d)
}

// Always renders the status fragment refreshed after every command.
func (h *HTML) Always(needsPush bool) (string, error) {
	return h.exec("always", needsPush)
}

// Check renders a consistency report.
func (h *HTML) Check(d CheckData) (string, error) {
	return h.exec("check", d)
}

// Error renders an error message.
func (h *HTML) Error(err error) string {
	return template.HTMLEscapeString(err.Error())
}

const fragments = `
{{define "show"}}<article class="item {{.TypeName}}" data-ident="{{.Ident}}">
<h1>{{.Description}}</h1>
<p class="meta">{{.TypeName}}{{if not .Open}} · closed{{else if .Ready}} · ready{{end}}{{if .Parent}} · in <a data-ident="{{.Parent}}">{{.Parent}}</a>{{end}}</p>
{{if .Fields}}<dl>{{range .Fields}}<dt>{{.Name}}</dt><dd>{{.Value}}</dd>{{end}}</dl>{{end}}
<div class="text">{{.HTMLText}}</div>
{{if .Children}}{{template "entries" .Children}}{{end}}
</article>{{end}}

{{define "edit"}}<form class="item-edit" data-type="{{.TypeName}}"{{if not .IsNew}} data-ident="{{.Ident}}"{{end}}>
<input type="hidden" name="sort" value="{{.Base.Sort}}">
<label><input type="checkbox" name="can_be_parent"{{if .Base.CanBeParent}} checked{{end}}> can be parent</label>
<label><input type="checkbox" name="can_be_context"{{if .Base.CanBeContext}} checked{{end}}> can be context</label>
{{if .Parents}}<select name="parent"><option value="">(none)</option>{{range .Parents}}<option value="{{.Ident}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}</select>{{end}}
{{if .Contexts}}<select name="context">{{range .Contexts}}<option value="{{.Ident}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}</select>{{end}}
{{range .Fields}}{{if eq .Name "text"}}<textarea name="text">{{.Value}}</textarea>{{else if ne .Name "context"}}<input name="{{.Name}}" value="{{.Value}}"><span id="{{.Name}}-error" class="error"></span>{{end}}
{{end}}<button type="submit">{{if .IsNew}}Create{{else}}Update{{end}}</button>
<span id="message"></span>
</form>{{end}}

{{define "list"}}{{if .Title}}<h2>{{.Title}}</h2>{{end}}{{template "entries" .List}}{{end}}

{{define "entries"}}<ul class="items">{{range .Entries}}{{markup .LevelShift}}<li data-ident="{{.Ident}}">{{if .IsParent}}<span class="caret"></span>{{end}}{{.Description}}</li>{{end}}{{markup .Closing}}</ul>{{end}}

{{define "always"}}<span class="sync">{{if .}}unpushed changes{{else}}synced{{end}}</span>{{end}}

{{define "check"}}<section class="check">
<p>{{.InStore}} in store, {{.InIndex}} in index.</p>
{{if .MissingFromIndex}}<p>Missing from index:</p><ul>{{range .MissingFromIndex}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .MissingFromStore}}<p>Missing from store:</p><ul>{{range .MissingFromStore}}<li>{{.}}</li>{{end}}</ul>{{end}}
</section>{{end}}
`

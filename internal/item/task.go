package item

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"go.uber.org/multierr"

	"github.com/fanling-notes/fanling/internal/protocol"
)

// DefaultContext is the ident of the context a task has when none is set.
const DefaultContext = "default_context"

// DefaultPriority is given to tasks created without one.
const DefaultPriority = 10

// Status is the state of a task.
type Status int

const (
	StatusOpen Status = iota
	StatusClosed
)

func (s Status) String() string {
	if s == StatusClosed {
		return "Closed"
	}
	return "Open"
}

// ParseStatus reads a status case-insensitively. Anything but "closed" is
// open.
func ParseStatus(s string) Status {
	if strings.EqualFold(strings.TrimSpace(s), "closed") {
		return StatusClosed
	}
	return StatusOpen
}

// userDateLayouts are tried before natural-language parsing.
var userDateLayouts = []string{"2006-01-02 15:04:05", "2006-01-02"}

var naturalDates = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseUserDate reads a date typed by a user. Besides the fixed layouts it
// understands phrases such as "next friday" or "in 2 weeks", relative to now.
func ParseUserDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range userDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	r, err := naturalDates.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %w: %v", s, ErrBadDate, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%q: %w", s, ErrBadDate)
	}
	return r.Time.UTC(), nil
}

func formatUserDate(t time.Time) string {
	if DateUnset(t) {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// Task is an item with a status, a priority, dates and blockers.
type Task struct {
	Name       string
	Text       string
	Context    *Link // nil means DefaultContext
	Status     Status
	Priority   int
	WhenClosed time.Time
	Deadline   time.Time
	ShowAfter  time.Time
	BlockedBy  []*Link
	Project    string // legacy
}

// ContextIdent returns the ident of the task's context.
func (t *Task) ContextIdent() string {
	if id := t.Context.Ident(); id != "" {
		return id
	}
	return DefaultContext
}

// Blockers returns the idents of the blocking items.
func (t *Task) Blockers() []string {
	out := make([]string, len(t.BlockedBy))
	for i, l := range t.BlockedBy {
		out[i] = l.Ident()
	}
	return out
}

func (t *Task) IsOpen() bool { return t.Status == StatusOpen }

// IsReady reports whether the task is open, visible now, and not blocked
// by any open item.
func (t *Task) IsReady(ctx context.Context, w World) (bool, error) {
	if !t.IsOpen() {
		return false, nil
	}
	if !DateUnset(t.ShowAfter) && t.ShowAfter.After(w.Now()) {
		return false, nil
	}
	for _, l := range t.BlockedBy {
		b, err := l.Resolve(ctx, w)
		if err != nil {
			return false, err
		}
		if b.IsOpen() {
			return false, nil
		}
	}
	return true, nil
}

func (t *Task) Description() string {
	var sb strings.Builder
	sb.WriteString("→ ")
	if !t.IsOpen() {
		fmt.Fprintf(&sb, "[%s] ", t.Status)
	}
	if !DateUnset(t.Deadline) {
		fmt.Fprintf(&sb, "[%s] ", t.Deadline.UTC().Format("2006-01-02"))
	}
	sb.WriteString(t.Name)
	return sb.String()
}

func (t *Task) DescriptionForList() string { return t.Name }

func (t *Task) Fields() Fields {
	f := Fields{
		"name":     t.Name,
		"context":  t.ContextIdent(),
		"priority": t.Priority,
	}
	if t.Text != "" {
		f["text"] = t.Text
	}
	if t.Status != StatusOpen {
		f["status"] = t.Status.String()
	}
	for k, v := range map[string]time.Time{
		"when_closed":     t.WhenClosed,
		"deadline":        t.Deadline,
		"show_after_date": t.ShowAfter,
	} {
		if !DateUnset(v) {
			f[k] = FormatDate(v)
		}
	}
	if len(t.BlockedBy) > 0 {
		f["blockedby"] = t.Blockers()
	}
	if t.Project != "" {
		f["project"] = t.Project
	}
	return f
}

func (t *Task) SetFromFields(f Fields) error {
	t.Name = f.String("name", "heading")
	t.Text = f.String("text")
	t.Context = nil
	if c := f.String("context"); c != "" {
		t.Context = NewLink(c, ContextPlaceholder)
	}
	t.Status = ParseStatus(f.String("status"))
	if f.Bool("closed") {
		t.Status = StatusClosed
	}
	p, ok, err := f.Int("priority")
	if err != nil {
		return fmt.Errorf("priority: %w", err)
	}
	t.Priority = DefaultPriority
	if ok {
		t.Priority = p
	}

	var errs []error
	date := func(dst *time.Time, keys ...string) {
		d, err := f.Date(keys...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", keys[0], err))
			return
		}
		*dst = d
	}
	date(&t.WhenClosed, "when_closed", "whenclosed")
	date(&t.Deadline, "deadline")
	date(&t.ShowAfter, "show_after_date", "showafterdate")

	t.BlockedBy = nil
	for _, id := range f.Strings("blockedby", "waitingon") {
		t.BlockedBy = append(t.BlockedBy, NewLink(id, BlockerPlaceholder))
	}
	t.Project = f.String("project")
	return multierr.Combine(errs...)
}

func (t *Task) SetData(vals map[string]string, w World) error {
	name, ok := vals["name"]
	if !ok || strings.TrimSpace(name) == "" {
		return ErrNoName
	}
	t.Name = name
	t.Text = vals["text"]

	t.Priority = DefaultPriority
	if p := strings.TrimSpace(vals["priority"]); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("priority: %w", err)
		}
		t.Priority = n
	}
	if s, ok := vals["status"]; ok {
		t.Status = ParseStatus(s)
	}

	t.Context = nil
	if c := strings.TrimSpace(vals["context"]); c != "" && c != DefaultContext {
		t.Context = NewLink(c, ContextPlaceholder)
	}

	var err error
	if t.Deadline, err = userDate(vals["deadline"], w.Now()); err != nil {
		return fmt.Errorf("deadline: %w", err)
	}
	if t.ShowAfter, err = userDate(vals["show_after_date"], w.Now()); err != nil {
		return fmt.Errorf("show_after_date: %w", err)
	}
	return nil
}

func userDate(s string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return ParseUserDate(s, now)
}

func (t *Task) Values() map[string]string {
	return map[string]string{
		"name":            t.Name,
		"text":            t.Text,
		"context":         t.ContextIdent(),
		"status":          t.Status.String(),
		"priority":        strconv.Itoa(t.Priority),
		"when_closed":     formatUserDate(t.WhenClosed),
		"deadline":        formatUserDate(t.Deadline),
		"show_after_date": formatUserDate(t.ShowAfter),
		"blockedby":       strings.Join(t.Blockers(), " "),
	}
}

func (t *Task) DoAction(ctx context.Context, it *Item, act protocol.Action, w World) error {
	switch act.Name {
	case protocol.Close:
		t.Status = StatusClosed
		t.WhenClosed = w.Now()
	case protocol.Reopen:
		t.Status = StatusOpen
		t.WhenClosed = time.Time{}
	case protocol.BlockBy:
		if act.Ident == "" || act.Ident == it.Ident {
			return fmt.Errorf("%s cannot be blocked by %q: %w", it.Ident, act.Ident, ErrInvalidReference)
		}
		l := NewLink(act.Ident, BlockerPlaceholder)
		if _, err := l.Resolve(ctx, w); err != nil {
			return err
		}
		for _, b := range t.BlockedBy {
			if b.Ident() == act.Ident {
				return nil
			}
		}
		t.BlockedBy = append(t.BlockedBy, l)
	case protocol.UnblockBy:
		kept := t.BlockedBy[:0]
		for _, b := range t.BlockedBy {
			if b.Ident() != act.Ident {
				kept = append(kept, b)
			}
		}
		t.BlockedBy = kept
	default:
		return fmt.Errorf("%s on %s: %w", act.Name, it.Ident, ErrNoAction)
	}
	return nil
}

// CloneData keeps name, text, context, priority and project. The clone is
// open, unblocked and has no dates.
func (t *Task) CloneData() Data {
	return &Task{
		Name:     t.Name,
		Text:     t.Text,
		Context:  t.Context.Clone(),
		Status:   StatusOpen,
		Priority: t.Priority,
		Project:  t.Project,
	}
}

// FixLegacy turns a legacy project into the parent.
func (t *Task) FixLegacy(_ Fields, b *Base) bool {
	if b.Parent != nil || t.Project == "" {
		return false
	}
	b.Parent = NewLink(t.Project, ParentPlaceholder)
	return true
}

// TaskPolicy is the type policy for Task.
type TaskPolicy struct{}

func (TaskPolicy) Kind() Kind { return KindTask }

func (TaskPolicy) MakeBlank(ty *Type) *Item {
	return &Item{
		Base: Base{Type: ty, Classify: ClassifyNormal},
		Data: &Task{Priority: DefaultPriority},
	}
}

func (TaskPolicy) Validate(base BaseFields, vals map[string]string) *ActionResponse {
	ar := NewActionResponse()
	validateIdent(ar, base)
	validateName(ar, vals)
	if p := strings.TrimSpace(vals["priority"]); p != "" {
		_, err := strconv.Atoi(p)
		ar.Assert(err == nil, "priority-error", "Priority must be numeric")
	}
	now := time.Now()
	_, err := userDate(vals["deadline"], now)
	ar.Assert(err == nil, "deadline-error", "Invalid deadline date")
	_, err = userDate(vals["show_after_date"], now)
	ar.Assert(err == nil, "show-after-date-error", "Invalid show-after date")
	return ar
}

// MergeThreeWay merges two task versions: closed wins, the lower priority
// and earlier dates win, blockers are united, text is merged and the
// context is ours.
func (TaskPolicy) MergeThreeWay(ancestor, ours, theirs Fields) (Data, error) {
	var a, o, t Task
	if ancestor != nil {
		if err := a.SetFromFields(ancestor); err != nil {
			return nil, fmt.Errorf("ancestor: %w", err)
		}
	}
	if err := o.SetFromFields(ours); err != nil {
		return nil, fmt.Errorf("ours: %w", err)
	}
	if err := t.SetFromFields(theirs); err != nil {
		return nil, fmt.Errorf("theirs: %w", err)
	}

	m := &Task{
		Name:      mergeField(a.Name, o.Name, t.Name),
		Text:      mergeField(a.Text, o.Text, t.Text),
		Context:   o.Context,
		Status:    StatusOpen,
		Priority:  min(o.Priority, t.Priority),
		Deadline:  earliest(o.Deadline, t.Deadline),
		ShowAfter: earliest(o.ShowAfter, t.ShowAfter),
		Project:   o.Project,
	}
	switch {
	case !o.IsOpen():
		m.Status, m.WhenClosed = StatusClosed, o.WhenClosed
	case !t.IsOpen():
		m.Status, m.WhenClosed = StatusClosed, t.WhenClosed
	}

	seen := map[string]bool{}
	for _, l := range append(o.BlockedBy, t.BlockedBy...) {
		if !seen[l.Ident()] {
			seen[l.Ident()] = true
			m.BlockedBy = append(m.BlockedBy, l)
		}
	}
	return m, nil
}

// earliest returns the earlier of the set dates.
func earliest(a, b time.Time) time.Time {
	switch {
	case DateUnset(a):
		return b
	case DateUnset(b):
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}

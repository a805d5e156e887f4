package item

import "strings"

const (
	openLevel  = `<ul class="nested">`
	closeLevel = `</ul>`
)

// ListEntry is one row of an item list.
type ListEntry struct {
	Ident       string
	Description string
	Special     SpecialKinds
	Level       int
	// LevelShift is the markup that opens or closes nesting before the row.
	LevelShift string
	IsParent   bool
}

// EntryList is an ordered item list.
type EntryList struct {
	Entries []*ListEntry
	// Closing is the markup that closes the nesting left open by the last row.
	Closing string
}

// Len returns the number of entries.
func (l *EntryList) Len() int {
	return len(l.Entries)
}

// SetLevelChanges computes the nesting markup and marks rows followed by a
// deeper row as parents.
func (l *EntryList) SetLevelChanges() {
	next := 0
	for i := len(l.Entries) - 1; i >= 0; i-- {
		e := l.Entries[i]
		e.IsParent = next > e.Level
		next = e.Level
	}

	prev := 0
	for _, e := range l.Entries {
		switch d := e.Level - prev; {
		case d > 0:
			e.LevelShift = strings.Repeat(openLevel, d)
		case d < 0:
			e.LevelShift = strings.Repeat(closeLevel, -d)
		default:
			e.LevelShift = ""
		}
		prev = e.Level
	}
	l.Closing = strings.Repeat(closeLevel, prev)
}

// Filter keeps the entries for which keep returns true.
func (l *EntryList) Filter(keep func(*ListEntry) bool) {
	out := l.Entries[:0]
	for _, e := range l.Entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	for i := len(out); i < len(l.Entries); i++ {
		l.Entries[i] = nil
	}
	l.Entries = out
}

// Idents returns the entry idents in order.
func (l *EntryList) Idents() []string {
	out := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		out[i] = e.Ident
	}
	return out
}

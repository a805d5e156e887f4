package store

import (
	"strings"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// Op is the kind of a pending change.
type Op int

const (
	OpAdd Op = iota
	OpModify
	OpDelete
	OpConflict
	OpFix
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpConflict:
		return "conflict"
	case OpFix:
		return "fix"
	default:
		return "unknown"
	}
}

// hasPayload reports whether the operation writes a blob.
func (o Op) hasPayload() bool {
	return o != OpDelete
}

// Change is a pending mutation against the store. Oid is left empty until
// the change is applied and its payload hashed.
type Change struct {
	Op          Op
	Path        string
	Description string
	Data        []byte
	Oid         vcs.Oid
}

// ChangeList is an ordered batch of changes.
type ChangeList []Change

// Message joins the change descriptions into a commit message.
func (cl ChangeList) Message() string {
	descs := make([]string, 0, len(cl))
	for _, c := range cl {
		if c.Description != "" {
			descs = append(descs, c.Description)
		}
	}
	if len(descs) == 0 {
		return "update items"
	}
	return strings.Join(descs, "\n")
}

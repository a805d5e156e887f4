package item

import (
	"fmt"
	"strings"
)

// Kind identifies an item type.
type Kind int

const (
	KindUnknown Kind = iota
	KindSimple
	KindTask
)

// String returns the serialized type name.
func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "Simple"
	case KindTask:
		return "Task"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a type name to a Kind. Matching is case-insensitive and
// "todo" is accepted for Task.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "simple":
		return KindSimple, nil
	case "task", "todo":
		return KindTask, nil
	default:
		return KindUnknown, fmt.Errorf("%q: %w", name, ErrNoSuchType)
	}
}

// SpecialKind is a role an item may play for other items.
type SpecialKind uint8

const (
	// SpecialParent marks items offered as parents.
	SpecialParent SpecialKind = 0
	// SpecialContext marks items offered as task contexts.
	SpecialContext SpecialKind = 1
)

func (s SpecialKind) String() string {
	switch s {
	case SpecialParent:
		return "parent"
	case SpecialContext:
		return "context"
	default:
		return fmt.Sprintf("special(%d)", uint8(s))
	}
}

// SpecialKinds is a bitset of SpecialKind, bit n for kind n.
type SpecialKinds uint8

// Has reports whether k is set.
func (s SpecialKinds) Has(k SpecialKind) bool {
	return s&(1<<k) != 0
}

// With returns s with k set or cleared.
func (s SpecialKinds) With(k SpecialKind, on bool) SpecialKinds {
	if on {
		return s | 1<<k
	}
	return s &^ (1 << k)
}

// Specials builds a bitset from kinds.
func Specials(kinds ...SpecialKind) SpecialKinds {
	var s SpecialKinds
	for _, k := range kinds {
		s = s.With(k, true)
	}
	return s
}

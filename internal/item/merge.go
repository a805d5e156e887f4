package item

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// MergeText merges two versions of free text word by word. Equal runs are
// kept once, a replaced run keeps ours then theirs, and deleted or inserted
// runs are kept. Each run's words are joined by a space and runs are
// concatenated as they are.
func MergeText(ours, theirs string) string {
	a := strings.Fields(ours)
	b := strings.Fields(theirs)
	m := difflib.NewMatcher(a, b)

	var sb strings.Builder
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e', 'd':
			sb.WriteString(strings.Join(a[op.I1:op.I2], " "))
		case 'i':
			sb.WriteString(strings.Join(b[op.J1:op.J2], " "))
		case 'r':
			sb.WriteString(strings.Join(a[op.I1:op.I2], " "))
			sb.WriteString(strings.Join(b[op.J1:op.J2], " "))
		}
	}
	return sb.String()
}

// mergeField merges one text field. When only one side changed it wins
// unmodified.
func mergeField(ancestor, ours, theirs string) string {
	switch {
	case ours == theirs:
		return ours
	case ours == ancestor:
		return theirs
	case theirs == ancestor:
		return ours
	default:
		return MergeText(ours, theirs)
	}
}

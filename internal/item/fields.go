package item

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fields is the decoded form of a serialized item or of a command payload.
// Values are whatever the decoder produced: strings, bools, numbers, lists.
type Fields map[string]any

// lookup returns the first present key.
func (f Fields) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first present key as a string.
func (f Fields) String(keys ...string) string {
	v, ok := f.lookup(keys...)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return FormatDate(x)
	default:
		return fmt.Sprint(x)
	}
}

// Bool returns the first present key as a bool. Form values "true", "on"
// and "1" count as true.
func (f Fields) Bool(keys ...string) bool {
	v, ok := f.lookup(keys...)
	if !ok {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "on", "1", "yes":
			return true
		}
	case int:
		return x != 0
	case float64:
		return x != 0
	}
	return false
}

// Int returns the first present key as an int. ok is false when absent.
func (f Fields) Int(keys ...string) (n int, ok bool, err error) {
	v, ok := f.lookup(keys...)
	if !ok {
		return 0, false, nil
	}
	switch x := v.(type) {
	case int:
		return x, true, nil
	case int64:
		return int(x), true, nil
	case uint64:
		return int(x), true, nil
	case float64:
		return int(x), true, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, true, err
	default:
		return 0, true, fmt.Errorf("not a number: %v", v)
	}
}

// Strings returns the first present key as a list. A single string is
// split on whitespace and commas.
func (f Fields) Strings(keys ...string) []string {
	v, ok := f.lookup(keys...)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s := strings.TrimSpace(fmt.Sprint(e)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case string:
		return splitList(x)
	default:
		return nil
	}
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// Date returns the first present key as a time. An absent key, the zero
// time and the Unix epoch are all unset and return the zero time.
func (f Fields) Date(keys ...string) (time.Time, error) {
	v, ok := f.lookup(keys...)
	if !ok {
		return time.Time{}, nil
	}
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case string:
		if strings.TrimSpace(x) == "" {
			return time.Time{}, nil
		}
		var err error
		if t, err = ParseDate(x); err != nil {
			return time.Time{}, err
		}
	default:
		return time.Time{}, fmt.Errorf("%v: %w", v, ErrBadDate)
	}
	if DateUnset(t) {
		return time.Time{}, nil
	}
	return t, nil
}

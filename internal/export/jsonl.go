// Package export copies items in and out of a world as JSON lines, one
// object per item:
//
//	{"base":{"ident":"buy-milk-a3","type":"Task"},"data":{"name":"Buy milk"}}
package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/fanling-notes/fanling/internal/item"
	"github.com/fanling-notes/fanling/internal/world"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoIdent is recorded for an imported item without an ident.
var ErrNoIdent = errors.New("record has no ident")

// maxLine bounds one exported item.
const maxLine = 4 << 20

// Record is one line of an export.
type Record struct {
	Base map[string]any    `json:"base"`
	Data map[string]string `json:"data"`
}

// Result contains statistics about an import.
type Result struct {
	Created int
	Skipped int
	Errors  []string
}

// Export writes every item in w to out. It returns the number written.
func Export(ctx context.Context, w *world.World, out io.Writer) (int, error) {
	items, err := w.Items(ctx)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)
	for _, it := range items {
		rec := Record{Base: it.Base.Fields().Map(), Data: it.Data.Values()}
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("failed to encode %s: %w", it.Ident, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return len(items), nil
}

// Import creates the items read from in. An item whose ident is already
// stored is skipped; a line that is not JSON stops the import.
func Import(ctx context.Context, w *world.World, in io.Reader) (*Result, error) {
	res := &Result{}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.UnmarshalFromString(text, &rec); err != nil {
			return res, fmt.Errorf("invalid JSON at line %d: %w", line, err)
		}
		created, err := importRecord(ctx, w, rec)
		switch {
		case err != nil:
			if ve, ok := item.AsValidation(err); ok {
				for _, fe := range ve.Response.Errors() {
					res.Errors = append(res.Errors, fmt.Sprintf("line %d: %s", line, fe.Message))
				}
				continue
			}
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
		case created:
			res.Created++
		default:
			res.Skipped++
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("failed to read import: %w", err)
	}
	return res, nil
}

func importRecord(ctx context.Context, w *world.World, rec Record) (bool, error) {
	base := item.ParseBaseFields(item.Fields(rec.Base))
	if base.Ident == "" {
		return false, ErrNoIdent
	}
	kind, err := item.ParseKind(base.Type)
	if err != nil {
		return false, err
	}
	exists, err := w.Has(ctx, base.Ident)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	t, err := w.Registry().Get(kind)
	if err != nil {
		return false, err
	}
	if ar := t.Policy().Validate(base, rec.Data); !ar.OK() {
		return false, &item.ValidationError{Response: ar}
	}
	if _, err := w.MakeItem(ctx, kind, base, rec.Data); err != nil {
		return false, err
	}
	return true, nil
}

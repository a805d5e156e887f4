package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Entry is one item row.
type Entry struct {
	Ident    string
	TypeName string
	Name     string
	Open     bool
	Ready    bool
	Parent   string // empty when the item has no parent
	Sort     string
	Classify string
	Special  uint8
	Targeted bool
}

// HierEntry is an entry annotated with its depth in the parent hierarchy.
type HierEntry struct {
	Entry
	Level    int
	HierSort string
}

const entryColumns = `ident, type_name, name, open, ready, parent, sort, classify, special, targeted`

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Add inserts a new row. An existing row for the ident is an error.
func (db *DB) Add(e Entry) error {
	return db.AddContext(context.Background(), e)
}

// AddContext inserts a new row with context support.
func (db *DB) AddContext(ctx context.Context, e Entry) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO item (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Ident, e.TypeName, e.Name, e.Open, e.Ready, nullable(e.Parent),
		e.Sort, e.Classify, int(e.Special), e.Targeted)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", e.Ident, err)
	}
	return nil
}

// Upsert inserts or replaces a row.
func (db *DB) Upsert(e Entry) error {
	return db.UpsertContext(context.Background(), e)
}

// UpsertContext inserts or replaces a row with context support.
func (db *DB) UpsertContext(ctx context.Context, e Entry) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO item (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(ident) DO UPDATE SET
		type_name = excluded.type_name,
		name = excluded.name,
		open = excluded.open,
		ready = excluded.ready,
		parent = excluded.parent,
		sort = excluded.sort,
		classify = excluded.classify,
		special = excluded.special,
		targeted = excluded.targeted
	`,
		e.Ident, e.TypeName, e.Name, e.Open, e.Ready, nullable(e.Parent),
		e.Sort, e.Classify, int(e.Special), e.Targeted)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", e.Ident, err)
	}
	return nil
}

// Update rewrites an existing row. Exactly one row must exist.
func (db *DB) Update(e Entry) error {
	return db.UpdateContext(context.Background(), e)
}

// UpdateContext rewrites an existing row with context support.
func (db *DB) UpdateContext(ctx context.Context, e Entry) error {
	res, err := db.conn.ExecContext(ctx, `
	UPDATE item SET
		type_name = ?, name = ?, open = ?, ready = ?, parent = ?,
		sort = ?, classify = ?, special = ?, targeted = ?
	WHERE ident = ?`,
		e.TypeName, e.Name, e.Open, e.Ready, nullable(e.Parent),
		e.Sort, e.Classify, int(e.Special), e.Targeted, e.Ident)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", e.Ident, err)
	}
	return expectOne(res, "update", e.Ident)
}

// Delete removes a row. Exactly one row must be removed.
func (db *DB) Delete(ident string) error {
	return db.DeleteContext(context.Background(), ident)
}

// DeleteContext removes a row with context support.
func (db *DB) DeleteContext(ctx context.Context, ident string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM item WHERE ident = ?`, ident)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", ident, err)
	}
	return expectOne(res, "delete", ident)
}

func expectOne(res sql.Result, op, ident string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%s %s touched %d rows: %w", op, ident, n, ErrRowCount)
	}
	return nil
}

// Clear removes every item row, before a full rebuild.
func (db *DB) Clear() error {
	return db.ClearContext(context.Background())
}

// ClearContext removes every item row with context support.
func (db *DB) ClearContext(ctx context.Context) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM item`)
	if err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		db.log.Info("index cleared", zap.Int64("rows", n))
	}
	return nil
}

// ===================
// Queries
// ===================

// Get returns the row for ident.
func (db *DB) Get(ident string) (*Entry, error) {
	return db.GetContext(context.Background(), ident)
}

// GetContext returns the row for ident with context support.
func (db *DB) GetContext(ctx context.Context, ident string) (*Entry, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM item WHERE ident = ?`, ident)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ident, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// All returns every row ordered by sort key then ident.
func (db *DB) All() ([]*Entry, error) {
	return db.AllContext(context.Background())
}

// AllContext returns every row with context support.
func (db *DB) AllContext(ctx context.Context) ([]*Entry, error) {
	return db.queryEntries(ctx, `SELECT `+entryColumns+` FROM item ORDER BY sort, ident`)
}

// OpenItems returns open rows that are not archived.
func (db *DB) OpenItems(ctx context.Context) ([]*Entry, error) {
	return db.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM item WHERE open = 1 AND classify != 'archived' ORDER BY sort, ident`)
}

// BySpecialKind returns open rows whose special bitmask has bit kind set.
func (db *DB) BySpecialKind(kind uint8) ([]*Entry, error) {
	return db.BySpecialKindContext(context.Background(), kind)
}

// BySpecialKindContext is BySpecialKind with context support.
func (db *DB) BySpecialKindContext(ctx context.Context, kind uint8) ([]*Entry, error) {
	return db.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM item WHERE open = 1 AND has_special(special, ?) ORDER BY sort, ident`,
		int(kind))
}

// Children returns rows whose parent is ident.
func (db *DB) Children(parent string) ([]*Entry, error) {
	return db.ChildrenContext(context.Background(), parent)
}

// ChildrenContext returns child rows with context support.
func (db *DB) ChildrenContext(ctx context.Context, parent string) ([]*Entry, error) {
	return db.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM item WHERE parent = ? ORDER BY sort, ident`, parent)
}

// Idents returns every ident in the index, sorted.
func (db *DB) Idents(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT ident FROM item ORDER BY ident`)
	if err != nil {
		return nil, fmt.Errorf("failed to list idents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ident: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Count returns the number of item rows.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM item`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// Hierarchical returns rows in depth-first parent order, each annotated
// with its level. Roots are rows with no parent or a parent that is not in
// the index. With openOnly, closed and archived rows are excluded and the
// open children of an excluded row become roots.
func (db *DB) Hierarchical(openOnly bool) ([]*HierEntry, error) {
	return db.HierarchicalContext(context.Background(), openOnly)
}

// HierarchicalContext is Hierarchical with context support.
func (db *DB) HierarchicalContext(ctx context.Context, openOnly bool) ([]*HierEntry, error) {
	scope := "item"
	if openOnly {
		scope = "(SELECT * FROM item WHERE open = 1 AND classify != 'archived')"
	}
	// char(31) separates levels and char(30) separates sort from ident, so
	// a parent's key is a prefix of its children's keys and sorts first.
	query := `
	WITH RECURSIVE scope AS ` + "(SELECT * FROM " + scope + ")" + `,
	hier(ident, level, hier_sort) AS (
		SELECT s.ident, 0, char(31) || s.sort || char(30) || s.ident
		FROM scope s
		WHERE s.parent IS NULL OR s.parent NOT IN (SELECT ident FROM scope)

		UNION ALL

		SELECT c.ident, h.level + 1, h.hier_sort || char(31) || c.sort || char(30) || c.ident
		FROM scope c
		JOIN hier h ON c.parent = h.ident
		WHERE h.level < ?
	)
	SELECT h.level, h.hier_sort, ` + prefixed("s", entryColumns) + `
	FROM hier h JOIN scope s ON s.ident = h.ident
	ORDER BY h.hier_sort
	`
	rows, err := db.conn.QueryContext(ctx, query, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to query hierarchy: %w", err)
	}
	defer rows.Close()

	var out []*HierEntry
	for rows.Next() {
		var h HierEntry
		e, err := scanEntry(rows, &h.Level, &h.HierSort)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hierarchy: %w", err)
		}
		h.Entry = *e
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hierarchy: %w", err)
	}
	return out, nil
}

func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry scans the leading columns into lead, then entryColumns.
func scanEntry(row scanner, lead ...any) (*Entry, error) {
	var e Entry
	var parent sql.NullString
	var special int
	dest := append(lead,
		&e.Ident, &e.TypeName, &e.Name, &e.Open, &e.Ready,
		&parent, &e.Sort, &e.Classify, &special, &e.Targeted)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	e.Parent = parent.String
	e.Special = uint8(special)
	return &e, nil
}

func (db *DB) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return out, nil
}

package sql

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/syssam/morph"
	"github.com/syssam/morph/dialect"
	"github.com/syssam/morph/schema"
)

// Storage implements morph.Storage over a SQL database. Entity names
// resolve to tables through the model registry, so entities sharing a
// parent's storage read and write the parent's table.
type Storage struct {
	drv dialect.Driver
	reg *schema.Registry
}

// NewStorage returns a SQL-backed storage for the given registry. The
// driver may be wrapped, e.g. by StatsDriver or dialect.Debug.
func NewStorage(drv dialect.Driver, reg *schema.Registry) *Storage {
	return &Storage{drv: drv, reg: reg}
}

// Driver returns the underlying driver.
func (s *Storage) Driver() dialect.Driver { return s.drv }

func (s *Storage) conn() conn {
	return conn{ex: s.drv, dialect: s.drv.Dialect(), reg: s.reg}
}

// FindByIdentity implements morph.Reader.
func (s *Storage) FindByIdentity(ctx context.Context, entity string, id any) (morph.Row, error) {
	return s.conn().FindByIdentity(ctx, entity, id)
}

// FindByFilter implements morph.Reader.
func (s *Storage) FindByFilter(ctx context.Context, entity string, c *morph.Criteria) ([]morph.Row, error) {
	return s.conn().FindByFilter(ctx, entity, c)
}

// Count implements morph.Reader.
func (s *Storage) Count(ctx context.Context, entity string, filters []*morph.Filter) (int, error) {
	return s.conn().Count(ctx, entity, filters)
}

// AssociationTargets implements morph.Reader.
func (s *Storage) AssociationTargets(ctx context.Context, assoc morph.Association, ownerID any) ([]any, error) {
	return s.conn().AssociationTargets(ctx, assoc, ownerID)
}

// Tx begins a transaction. Reads through the returned morph.Tx observe
// the transaction's snapshot.
func (s *Storage) Tx(ctx context.Context) (morph.Tx, error) {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return nil, &morph.TransactionError{Op: "begin", Err: err}
	}
	return &storageTx{
		conn: conn{ex: tx, dialect: s.drv.Dialect(), reg: s.reg},
		tx:   tx,
	}, nil
}

var _ morph.Storage = (*Storage)(nil)

// conn carries the shared read implementation for both auto-commit and
// transactional access.
type conn struct {
	ex      dialect.ExecQuerier
	dialect string
	reg     *schema.Registry
}

func (c conn) table(entity string) (string, error) {
	return c.reg.StorageTable(entity)
}

// ident quotes an identifier for the active dialect.
func (c conn) ident(name string) string {
	if c.dialect == dialect.MySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

// ph returns the i-th statement placeholder, 1-based.
func (c conn) ph(i int) string {
	if c.dialect == dialect.Postgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (c conn) FindByIdentity(ctx context.Context, entity string, id any) (morph.Row, error) {
	table, err := c.table(entity)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", c.ident(table), c.ident("id"), c.ph(1))
	rows, err := c.queryRows(ctx, query, []any{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("morph: %s %v: %w", entity, id, morph.ErrNotFound)
	}
	return rows[0], nil
}

func (c conn) FindByFilter(ctx context.Context, entity string, criteria *morph.Criteria) ([]morph.Row, error) {
	table, err := c.table(entity)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", c.ident(table))
	args := c.appendWhere(&b, criteria.Filters)
	for i, o := range criteria.Order {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(c.ident(o.Field))
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
	if criteria.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", criteria.Limit)
	}
	if criteria.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", criteria.Offset)
	}
	return c.queryRows(ctx, b.String(), args)
}

func (c conn) Count(ctx context.Context, entity string, filters []*morph.Filter) (int, error) {
	table, err := c.table(entity)
	if err != nil {
		return 0, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT COUNT(*) FROM %s", c.ident(table))
	args := c.appendWhere(&b, filters)
	rows, err := c.queryRows(ctx, b.String(), args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		if n, ok := toCount(v); ok {
			return n, nil
		}
	}
	return 0, fmt.Errorf("morph: count query for %s returned no numeric column", entity)
}

func (c conn) AssociationTargets(ctx context.Context, assoc morph.Association, ownerID any) ([]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		c.ident(assoc.TargetColumn), c.ident(assoc.Table), c.ident(assoc.OwnerColumn), c.ph(1))
	rows, err := c.queryRows(ctx, query, []any{ownerID})
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, row[assoc.TargetColumn])
	}
	return out, nil
}

// appendWhere renders the filters as a WHERE clause and returns the
// bound arguments.
func (c conn) appendWhere(b *strings.Builder, filters []*morph.Filter) []any {
	var args []any
	for i, f := range filters {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		col := c.ident(f.Field)
		switch f.Op {
		case morph.OpEQ:
			fmt.Fprintf(b, "%s = %s", col, c.ph(len(args)+1))
			args = append(args, f.Value)
		case morph.OpNEQ:
			fmt.Fprintf(b, "%s <> %s", col, c.ph(len(args)+1))
			args = append(args, f.Value)
		case morph.OpContains:
			fmt.Fprintf(b, "%s LIKE %s", col, c.ph(len(args)+1))
			args = append(args, "%"+fmt.Sprint(f.Value)+"%")
		case morph.OpGT:
			fmt.Fprintf(b, "%s > %s", col, c.ph(len(args)+1))
			args = append(args, f.Value)
		case morph.OpGTE:
			fmt.Fprintf(b, "%s >= %s", col, c.ph(len(args)+1))
			args = append(args, f.Value)
		case morph.OpLT:
			fmt.Fprintf(b, "%s < %s", col, c.ph(len(args)+1))
			args = append(args, f.Value)
		case morph.OpLTE:
			fmt.Fprintf(b, "%s <= %s", col, c.ph(len(args)+1))
			args = append(args, f.Value)
		case morph.OpIn:
			values, _ := f.Value.([]any)
			phs := make([]string, len(values))
			for j, v := range values {
				phs[j] = c.ph(len(args) + 1)
				args = append(args, v)
			}
			if len(phs) == 0 {
				// Empty IN matches nothing.
				b.WriteString("1 = 0")
			} else {
				fmt.Fprintf(b, "%s IN (%s)", col, strings.Join(phs, ", "))
			}
		case morph.OpIsNull:
			fmt.Fprintf(b, "%s IS NULL", col)
		}
	}
	return args
}

// queryRows runs a query and scans every result row into a morph.Row.
func (c conn) queryRows(ctx context.Context, query string, args []any) ([]morph.Row, error) {
	var rows Rows
	if err := c.ex.Query(ctx, query, args, &rows); err != nil {
		return nil, TranslateError(err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []morph.Row
	for rows.Next() {
		dest := make([]any, len(cols))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(morph.Row, len(cols))
		for i, col := range cols {
			v := *dest[i].(*any)
			// Text columns surface as []byte on mysql and sqlite.
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func toCount(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case string:
		var out int
		if _, err := fmt.Sscan(n, &out); err == nil {
			return out, true
		}
	}
	return 0, false
}

// storageTx implements morph.Tx.
type storageTx struct {
	conn
	tx dialect.Tx
}

func (t *storageTx) Insert(ctx context.Context, entity string, values map[string]any) (any, error) {
	table, err := t.table(entity)
	if err != nil {
		return nil, err
	}
	cols := sortedKeys(values)
	phs := make([]string, len(cols))
	args := make([]any, len(cols))
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = t.ident(col)
		phs[i] = t.ph(i + 1)
		args[i] = values[col]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.ident(table), strings.Join(quoted, ", "), strings.Join(phs, ", "))
	if t.dialect == dialect.Postgres {
		query += " RETURNING " + t.ident("id")
		rows, err := t.queryRows(ctx, query, args)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("morph: insert into %s returned no identity", entity)
		}
		return rows[0].ID(), nil
	}
	var res Result
	if err := t.ex.Exec(ctx, query, args, &res); err != nil {
		return nil, TranslateError(err)
	}
	if id, ok := values["id"]; ok {
		return id, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return id, nil
}

func (t *storageTx) InsertBulk(ctx context.Context, entity string, rows []map[string]any) ([]any, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	table, err := t.table(entity)
	if err != nil {
		return nil, err
	}
	// One column set for the whole batch, the union of all row keys.
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = t.ident(col)
	}
	var (
		tuples []string
		args   []any
	)
	for _, row := range rows {
		phs := make([]string, len(cols))
		for i, col := range cols {
			phs[i] = t.ph(len(args) + 1)
			args = append(args, row[col])
		}
		tuples = append(tuples, "("+strings.Join(phs, ", ")+")")
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		t.ident(table), strings.Join(quoted, ", "), strings.Join(tuples, ", "))
	if t.dialect == dialect.Postgres {
		query += " RETURNING " + t.ident("id")
		inserted, err := t.queryRows(ctx, query, args)
		if err != nil {
			return nil, err
		}
		ids := make([]any, len(inserted))
		for i, row := range inserted {
			ids[i] = row.ID()
		}
		return ids, nil
	}
	var res Result
	if err := t.ex.Exec(ctx, query, args, &res); err != nil {
		return nil, TranslateError(err)
	}
	last, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(rows))
	if t.dialect == dialect.MySQL {
		// MySQL reports the first auto-increment id of the batch.
		for i := range rows {
			ids[i] = last + int64(i)
		}
	} else {
		// SQLite reports the last.
		first := last - int64(len(rows)) + 1
		for i := range rows {
			ids[i] = first + int64(i)
		}
	}
	return ids, nil
}

func (t *storageTx) Update(ctx context.Context, entity string, id any, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	table, err := t.table(entity)
	if err != nil {
		return err
	}
	cols := sortedKeys(values)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = %s", t.ident(col), t.ph(i+1))
		args = append(args, values[col])
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		t.ident(table), strings.Join(sets, ", "), t.ident("id"), t.ph(len(args)))
	var res Result
	if err := t.ex.Exec(ctx, query, args, &res); err != nil {
		return TranslateError(err)
	}
	return nil
}

func (t *storageTx) Delete(ctx context.Context, entity string, id any) error {
	table, err := t.table(entity)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", t.ident(table), t.ident("id"), t.ph(1))
	var res Result
	if err := t.ex.Exec(ctx, query, []any{id}, &res); err != nil {
		return TranslateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("morph: %s %v: %w", entity, id, morph.ErrNotFound)
	}
	return nil
}

func (t *storageTx) AddAssociation(ctx context.Context, assoc morph.Association, ownerID, targetID any) error {
	var query string
	cols := fmt.Sprintf("(%s, %s) VALUES (%s, %s)",
		t.ident(assoc.OwnerColumn), t.ident(assoc.TargetColumn), t.ph(1), t.ph(2))
	// Linking twice is a no-op, enforced by the statement itself.
	switch t.dialect {
	case dialect.MySQL:
		query = fmt.Sprintf("INSERT IGNORE INTO %s %s", t.ident(assoc.Table), cols)
	case dialect.SQLite:
		query = fmt.Sprintf("INSERT OR IGNORE INTO %s %s", t.ident(assoc.Table), cols)
	default:
		query = fmt.Sprintf("INSERT INTO %s %s ON CONFLICT DO NOTHING", t.ident(assoc.Table), cols)
	}
	if err := t.ex.Exec(ctx, query, []any{ownerID, targetID}, nil); err != nil {
		return TranslateError(err)
	}
	return nil
}

func (t *storageTx) RemoveAssociation(ctx context.Context, assoc morph.Association, ownerID, targetID any) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		t.ident(assoc.Table), t.ident(assoc.OwnerColumn), t.ph(1), t.ident(assoc.TargetColumn), t.ph(2))
	if err := t.ex.Exec(ctx, query, []any{ownerID, targetID}, nil); err != nil {
		return TranslateError(err)
	}
	return nil
}

func (t *storageTx) ClearAssociation(ctx context.Context, assoc morph.Association, ownerID any) (int, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		t.ident(assoc.Table), t.ident(assoc.OwnerColumn), t.ph(1))
	var res Result
	if err := t.ex.Exec(ctx, query, []any{ownerID}, &res); err != nil {
		return 0, TranslateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (t *storageTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return &morph.TransactionError{Op: "commit", Err: err}
	}
	return nil
}

func (t *storageTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return &morph.RollbackError{Err: err}
	}
	return nil
}

var _ morph.Tx = (*storageTx)(nil)

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-assessment/internal/database"
)

// Store is the relational-store contract for one entity.
// Update returns the post-update rows so conditional writes double as compare-and-set.
type Store[T any] interface {
	Get(ctx context.Context, id uuid.UUID) (*T, error)
	List(ctx context.Context, opts FindOptions) ([]T, error)
	// Count returns how many rows match the filters and search of opts.
	Count(ctx context.Context, opts FindOptions) (int64, error)
	Insert(ctx context.Context, rows ...*T) error
	// InsertIgnore inserts row unless it conflicts on the given columns.
	InsertIgnore(ctx context.Context, row *T, conflict []string) (bool, error)
	Upsert(ctx context.Context, row *T, conflict, update []string) error
	Update(ctx context.Context, filters []Filter, changes map[string]any) ([]T, error)
	Delete(ctx context.Context, filters []Filter) (int64, error)
}

// Table describes how T maps onto a PostgreSQL table.
// Columns must match T's db tags and Values must return them in the same order.
type Table[T any] struct {
	Name         string
	Columns      []string
	SearchColumn string
	Values       func(row *T) []any
}

// PgStore implements Store with pgx. The connection comes from the Transactor so
// calls made inside WithinTransaction join the open transaction.
type PgStore[T any] struct {
	table   Table[T]
	tx      *database.Transactor
	allowed map[string]struct{}
}

// NewPgStore creates a PgStore for table.
func NewPgStore[T any](table Table[T], tx *database.Transactor) *PgStore[T] {
	allowed := make(map[string]struct{}, len(table.Columns))
	for _, c := range table.Columns {
		allowed[c] = struct{}{}
	}
	return &PgStore[T]{table: table, tx: tx, allowed: allowed}
}

func (s *PgStore[T]) columnList() string {
	return strings.Join(s.table.Columns, ", ")
}

func (s *PgStore[T]) checkColumn(c string) error {
	if _, ok := s.allowed[c]; !ok {
		return fmt.Errorf("%s: unknown column %q", s.table.Name, c)
	}
	return nil
}

// Get fetches one row by primary key.
func (s *PgStore[T]) Get(ctx context.Context, id uuid.UUID) (*T, error) {
	rows, err := s.tx.Conn(ctx).Query(ctx,
		`SELECT `+s.columnList()+` FROM `+s.table.Name+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.table.Name, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", s.table.Name, err)
	}
	return row, nil
}

// List runs a filtered, sorted, paginated query.
func (s *PgStore[T]) List(ctx context.Context, opts FindOptions) ([]T, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + s.columnList() + ` FROM ` + s.table.Name)

	where, args, err := s.match(opts)
	if err != nil {
		return nil, err
	}
	sb.WriteString(where)

	if len(opts.Sort) > 0 {
		parts := make([]string, 0, len(opts.Sort))
		for _, o := range opts.Sort {
			if err := s.checkColumn(o.Column); err != nil {
				return nil, err
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, o.Column+" "+dir)
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}
	if opts.ForUpdate && s.tx.InTransaction(ctx) {
		sb.WriteString(" FOR UPDATE")
	}

	rows, err := s.tx.Conn(ctx).Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.table.Name, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.table.Name, err)
	}
	return out, nil
}

// Count returns the number of rows matching opts. Sort and paging are ignored.
func (s *PgStore[T]) Count(ctx context.Context, opts FindOptions) (int64, error) {
	where, args, err := s.match(opts)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.tx.Conn(ctx).QueryRow(ctx, `SELECT count(*) FROM `+s.table.Name+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table.Name, err)
	}
	return n, nil
}

// match builds the WHERE clause shared by List and Count.
func (s *PgStore[T]) match(opts FindOptions) (string, []any, error) {
	where, args, err := s.where(opts.Filters, nil)
	if err != nil {
		return "", nil, err
	}
	if opts.Search != "" {
		if s.table.SearchColumn == "" {
			return "", nil, fmt.Errorf("%s: full-text search not supported", s.table.Name)
		}
		args = append(args, opts.Search)
		clause := fmt.Sprintf("%s @@ plainto_tsquery('simple', $%d)", s.table.SearchColumn, len(args))
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
	}
	return where, args, nil
}

// Insert writes rows in one statement and scans the stored values back into them.
func (s *PgStore[T]) Insert(ctx context.Context, rows ...*T) error {
	if len(rows) == 0 {
		return nil
	}
	n := len(s.table.Columns)
	args := make([]any, 0, n*len(rows))
	tuples := make([]string, 0, len(rows))
	for _, r := range rows {
		vals := s.table.Values(r)
		ph := make([]string, n)
		for i := range vals {
			args = append(args, vals[i])
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		tuples = append(tuples, "("+strings.Join(ph, ", ")+")")
	}

	query := `INSERT INTO ` + s.table.Name + ` (` + s.columnList() + `) VALUES ` +
		strings.Join(tuples, ", ") + ` RETURNING ` + s.columnList()

	res, err := s.tx.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", s.table.Name, translate(err))
	}
	stored, err := pgx.CollectRows(res, pgx.RowToStructByName[T])
	if err != nil {
		return fmt.Errorf("insert %s: %w", s.table.Name, translate(err))
	}
	for i := range stored {
		if i < len(rows) {
			*rows[i] = stored[i]
		}
	}
	return nil
}

// InsertIgnore inserts row with ON CONFLICT DO NOTHING. It reports whether a row was written.
func (s *PgStore[T]) InsertIgnore(ctx context.Context, row *T, conflict []string) (bool, error) {
	for _, c := range conflict {
		if err := s.checkColumn(c); err != nil {
			return false, err
		}
	}
	query, args := s.insertOne(row)
	query += ` ON CONFLICT (` + strings.Join(conflict, ", ") + `) DO NOTHING RETURNING ` + s.columnList()

	res, err := s.tx.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", s.table.Name, translate(err))
	}
	stored, err := pgx.CollectOneRow(res, pgx.RowToStructByName[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert %s: %w", s.table.Name, translate(err))
	}
	*row = stored
	return true, nil
}

// Upsert inserts row or, on conflict, overwrites the update columns.
func (s *PgStore[T]) Upsert(ctx context.Context, row *T, conflict, update []string) error {
	sets := make([]string, 0, len(update))
	for _, c := range append(append([]string{}, conflict...), update...) {
		if err := s.checkColumn(c); err != nil {
			return err
		}
	}
	for _, c := range update {
		sets = append(sets, c+" = EXCLUDED."+c)
	}
	query, args := s.insertOne(row)
	query += ` ON CONFLICT (` + strings.Join(conflict, ", ") + `) DO UPDATE SET ` +
		strings.Join(sets, ", ") + ` RETURNING ` + s.columnList()

	res, err := s.tx.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", s.table.Name, translate(err))
	}
	stored, err := pgx.CollectOneRow(res, pgx.RowToStructByName[T])
	if err != nil {
		return fmt.Errorf("upsert %s: %w", s.table.Name, translate(err))
	}
	*row = stored
	return nil
}

// Update applies changes to every row matching filters and returns the updated rows.
func (s *PgStore[T]) Update(ctx context.Context, filters []Filter, changes map[string]any) ([]T, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("update %s: no changes", s.table.Name)
	}
	args := make([]any, 0, len(changes)+len(filters))
	sets := make([]string, 0, len(changes))
	// Column order only affects placeholder numbering; iterate the table for stable SQL.
	for _, c := range s.table.Columns {
		v, ok := changes[c]
		if !ok {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	if len(sets) != len(changes) {
		for c := range changes {
			if err := s.checkColumn(c); err != nil {
				return nil, err
			}
		}
	}

	where, args, err := s.where(filters, args)
	if err != nil {
		return nil, err
	}

	query := `UPDATE ` + s.table.Name + ` SET ` + strings.Join(sets, ", ") + where +
		` RETURNING ` + s.columnList()
	res, err := s.tx.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", s.table.Name, translate(err))
	}
	out, err := pgx.CollectRows(res, pgx.RowToStructByName[T])
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", s.table.Name, translate(err))
	}
	return out, nil
}

// Delete removes every row matching filters. An empty filter list is refused.
func (s *PgStore[T]) Delete(ctx context.Context, filters []Filter) (int64, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("delete %s: refusing unfiltered delete", s.table.Name)
	}
	where, args, err := s.where(filters, nil)
	if err != nil {
		return 0, err
	}
	tag, err := s.tx.Conn(ctx).Exec(ctx, `DELETE FROM `+s.table.Name+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", s.table.Name, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore[T]) insertOne(row *T) (string, []any) {
	vals := s.table.Values(row)
	ph := make([]string, len(vals))
	for i := range vals {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return `INSERT INTO ` + s.table.Name + ` (` + s.columnList() + `) VALUES (` +
		strings.Join(ph, ", ") + `)`, vals
}

func (s *PgStore[T]) where(filters []Filter, args []any) (string, []any, error) {
	if len(filters) == 0 {
		return "", args, nil
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if err := s.checkColumn(f.Column); err != nil {
			return "", nil, err
		}
		switch f.Op {
		case OpIsNull, OpNotNull:
			parts = append(parts, f.Column+" "+string(f.Op))
		case OpIn:
			args = append(args, f.Value)
			parts = append(parts, fmt.Sprintf("%s = ANY($%d)", f.Column, len(args)))
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
			args = append(args, f.Value)
			parts = append(parts, fmt.Sprintf("%s %s $%d", f.Column, f.Op, len(args)))
		default:
			return "", nil, fmt.Errorf("%s: unsupported operator %q", s.table.Name, f.Op)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

package repotest

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// Unique mirrors a unique index. When, if set, makes it partial.
type Unique[T any] struct {
	Name    string
	Columns []string
	When    func(row *T) bool
}

// Option configures a MemStore.
type Option[T any] func(*MemStore[T])

// WithUnique adds a unique index.
func WithUnique[T any](u Unique[T]) Option[T] {
	return func(s *MemStore[T]) { s.unique = append(s.unique, u) }
}

// WithSearch makes FindOptions.Search a case-insensitive substring match on columns.
func WithSearch[T any](columns ...string) Option[T] {
	return func(s *MemStore[T]) { s.search = columns }
}

// MemStore is an in-memory repository.Store keyed by the "id" column.
// Columns are discovered from db struct tags.
type MemStore[T any] struct {
	mu      sync.Mutex
	rows    []T
	columns map[string]int
	search  []string
	unique  []Unique[T]
	calls   map[string]int
	fail    error
}

var _ repository.Store[struct{}] = (*MemStore[struct{}])(nil)

// NewMemStore creates a MemStore. When tx is non-nil the store takes part in its rollbacks.
func NewMemStore[T any](tx *Transactor, opts ...Option[T]) *MemStore[T] {
	s := &MemStore[T]{columns: map[string]int{}, calls: map[string]int{}}
	rt := reflect.TypeFor[T]()
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		s.columns[tag] = i
	}
	for _, o := range opts {
		o(s)
	}
	if tx != nil {
		tx.register(s)
	}
	return s
}

// FailWith makes every subsequent call return err. nil restores normal operation.
func (s *MemStore[T]) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Calls returns how many times op ("get", "list", "count", "insert", "update", "delete", "upsert") ran.
func (s *MemStore[T]) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Rows returns a copy of every stored row.
func (s *MemStore[T]) Rows() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rows)
}

// Put stores rows directly, bypassing unique checks. Intended for fixtures.
func (s *MemStore[T]) Put(rows ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

func (s *MemStore[T]) snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rows)
}

func (s *MemStore[T]) restore(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = v.([]T)
}

func (s *MemStore[T]) begin(op string) error {
	s.calls[op]++
	return s.fail
}

// ─── Store implementation ───────────────────────────────────────────

func (s *MemStore[T]) Get(_ context.Context, id uuid.UUID) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("get"); err != nil {
		return nil, err
	}
	for i := range s.rows {
		if compare(s.value(&s.rows[i], "id"), id) == 0 {
			row := s.rows[i]
			return &row, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *MemStore[T]) Count(_ context.Context, opts repository.FindOptions) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("count"); err != nil {
		return 0, err
	}

	var n int64
	for i := range s.rows {
		ok, err := s.matches(&s.rows[i], opts.Filters)
		if err != nil {
			return 0, err
		}
		if ok && s.searchHit(&s.rows[i], opts.Search) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore[T]) List(_ context.Context, opts repository.FindOptions) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("list"); err != nil {
		return nil, err
	}

	var out []T
	for i := range s.rows {
		ok, err := s.matches(&s.rows[i], opts.Filters)
		if err != nil {
			return nil, err
		}
		if ok && s.searchHit(&s.rows[i], opts.Search) {
			out = append(out, s.rows[i])
		}
	}

	for _, o := range opts.Sort {
		if _, ok := s.columns[o.Column]; !ok {
			return nil, fmt.Errorf("unknown column %q", o.Column)
		}
	}
	slices.SortStableFunc(out, func(a, b T) int {
		for _, o := range opts.Sort {
			c := compare(s.value(&a, o.Column), s.value(&b, o.Column))
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemStore[T]) Insert(_ context.Context, rows ...*T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("insert"); err != nil {
		return err
	}
	next := slices.Clone(s.rows)
	for _, r := range rows {
		next = append(next, *r)
	}
	if err := s.checkUnique(next); err != nil {
		return err
	}
	s.rows = next
	return nil
}

func (s *MemStore[T]) InsertIgnore(ctx context.Context, row *T, conflict []string) (bool, error) {
	s.mu.Lock()
	if i := s.indexOn(row, conflict); i >= 0 {
		s.calls["insert"]++
		err := s.fail
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()
	if err := s.Insert(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemStore[T]) Upsert(ctx context.Context, row *T, conflict, update []string) error {
	s.mu.Lock()
	i := s.indexOn(row, conflict)
	if i < 0 {
		s.mu.Unlock()
		return s.Insert(ctx, row)
	}
	defer s.mu.Unlock()
	if err := s.begin("upsert"); err != nil {
		return err
	}
	next := slices.Clone(s.rows)
	existing := &next[i]
	src := reflect.ValueOf(row).Elem()
	dst := reflect.ValueOf(existing).Elem()
	for _, c := range update {
		idx, ok := s.columns[c]
		if !ok {
			return fmt.Errorf("unknown column %q", c)
		}
		dst.Field(idx).Set(src.Field(idx))
	}
	if err := s.checkUnique(next); err != nil {
		return err
	}
	s.rows = next
	*row = *existing
	return nil
}

func (s *MemStore[T]) Update(_ context.Context, filters []repository.Filter, changes map[string]any) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("update"); err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("update: no changes")
	}

	next := slices.Clone(s.rows)
	var out []T
	for i := range next {
		ok, err := s.matches(&next[i], filters)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v := reflect.ValueOf(&next[i]).Elem()
		for c, val := range changes {
			idx, ok := s.columns[c]
			if !ok {
				return nil, fmt.Errorf("unknown column %q", c)
			}
			if err := assign(v.Field(idx), val); err != nil {
				return nil, fmt.Errorf("column %s: %w", c, err)
			}
		}
		out = append(out, next[i])
	}
	if err := s.checkUnique(next); err != nil {
		return nil, err
	}
	s.rows = next
	return out, nil
}

func (s *MemStore[T]) Delete(_ context.Context, filters []repository.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("delete"); err != nil {
		return 0, err
	}
	if len(filters) == 0 {
		return 0, fmt.Errorf("delete: refusing unfiltered delete")
	}
	kept := s.rows[:0:0]
	var n int64
	for i := range s.rows {
		ok, err := s.matches(&s.rows[i], filters)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
			continue
		}
		kept = append(kept, s.rows[i])
	}
	s.rows = kept
	return n, nil
}

// ─── Helpers ────────────────────────────────────────────────────────

func (s *MemStore[T]) value(row *T, column string) any {
	idx, ok := s.columns[column]
	if !ok {
		return nil
	}
	return reflect.ValueOf(row).Elem().Field(idx).Interface()
}

func (s *MemStore[T]) indexOn(row *T, columns []string) int {
	for i := range s.rows {
		same := true
		for _, c := range columns {
			if compare(s.value(&s.rows[i], c), s.value(row, c)) != 0 {
				same = false
				break
			}
		}
		if same {
			return i
		}
	}
	return -1
}

func (s *MemStore[T]) checkUnique(rows []T) error {
	for _, u := range s.unique {
		seen := map[string]struct{}{}
		for i := range rows {
			if u.When != nil && !u.When(&rows[i]) {
				continue
			}
			parts := make([]string, len(u.Columns))
			for j, c := range u.Columns {
				parts[j] = fmt.Sprint(normalize(s.value(&rows[i], c)))
			}
			key := strings.Join(parts, "\x00")
			if _, dup := seen[key]; dup {
				return fmt.Errorf("duplicate key violates %s: %w", u.Name, repository.ErrConflict)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

func (s *MemStore[T]) matches(row *T, filters []repository.Filter) (bool, error) {
	for _, f := range filters {
		if _, ok := s.columns[f.Column]; !ok {
			return false, fmt.Errorf("unknown column %q", f.Column)
		}
		v := s.value(row, f.Column)
		var ok bool
		switch f.Op {
		case repository.OpIsNull:
			ok = normalize(v) == nil
		case repository.OpNotNull:
			ok = normalize(v) != nil
		case repository.OpIn:
			list := reflect.ValueOf(f.Value)
			if list.Kind() != reflect.Slice {
				return false, fmt.Errorf("IN on %s needs a slice", f.Column)
			}
			for i := 0; i < list.Len() && !ok; i++ {
				ok = compare(v, list.Index(i).Interface()) == 0
			}
		case repository.OpEq:
			ok = compare(v, f.Value) == 0
		case repository.OpNe:
			ok = compare(v, f.Value) != 0
		case repository.OpLt:
			ok = compare(v, f.Value) < 0
		case repository.OpLte:
			ok = compare(v, f.Value) <= 0
		case repository.OpGt:
			ok = compare(v, f.Value) > 0
		case repository.OpGte:
			ok = compare(v, f.Value) >= 0
		default:
			return false, fmt.Errorf("unsupported operator %q", f.Op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s *MemStore[T]) searchHit(row *T, q string) bool {
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	for _, c := range s.search {
		if str, ok := s.value(row, c).(string); ok && strings.Contains(strings.ToLower(str), q) {
			return true
		}
	}
	return false
}

func normalize(v any) any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	}
	return rv.Interface()
}

// compare orders nil first, then by natural order of the underlying type.
func compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case uuid.UUID:
		if y, ok := b.(uuid.UUID); ok {
			return bytes.Compare(x[:], y[:])
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(v)
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case dst.Kind() == reflect.Pointer && src.Type().AssignableTo(dst.Type().Elem()):
		p := reflect.New(dst.Type().Elem())
		p.Elem().Set(src)
		dst.Set(p)
	case src.Kind() != reflect.String && src.Type().ConvertibleTo(dst.Type()):
		dst.Set(src.Convert(dst.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", v, dst.Type())
	}
	return nil
}

package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Op is a comparison operator usable in a Filter.
type Op string

const (
	OpEq      Op = "="
	OpNe      Op = "<>"
	OpLt      Op = "<"
	OpLte     Op = "<="
	OpGt      Op = ">"
	OpGte     Op = ">="
	OpIn      Op = "IN"
	OpIsNull  Op = "IS NULL"
	OpNotNull Op = "IS NOT NULL"
)

// Filter is one column predicate. Filters are AND-ed.
type Filter struct {
	Column string `json:"c"`
	Op     Op     `json:"o"`
	Value  any    `json:"v,omitempty"`
}

func Eq(column string, value any) Filter  { return Filter{Column: column, Op: OpEq, Value: value} }
func Ne(column string, value any) Filter  { return Filter{Column: column, Op: OpNe, Value: value} }
func Lt(column string, value any) Filter  { return Filter{Column: column, Op: OpLt, Value: value} }
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }
func Gt(column string, value any) Filter  { return Filter{Column: column, Op: OpGt, Value: value} }
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }
func IsNull(column string) Filter         { return Filter{Column: column, Op: OpIsNull} }
func NotNull(column string) Filter        { return Filter{Column: column, Op: OpNotNull} }

// In matches any element of values, which must be a slice.
func In(column string, values any) Filter { return Filter{Column: column, Op: OpIn, Value: values} }

// Sort orders results by one column.
type Sort struct {
	Column string `json:"c"`
	Desc   bool   `json:"d,omitempty"`
}

// FindOptions drives FindAll.
type FindOptions struct {
	// Scope narrows cache invalidation: writes invalidate lists of one scope only.
	Scope   string   `json:"-"`
	Filters []Filter `json:"f,omitempty"`
	Sort    []Sort   `json:"s,omitempty"`
	Limit   int      `json:"l,omitempty"`
	Offset  int      `json:"o,omitempty"`
	// Search is matched against the table's full-text search column.
	Search string `json:"q,omitempty"`
	// ForUpdate locks matched rows. Honored only inside a transaction and never cached.
	ForUpdate bool `json:"-"`
}

// Paginate sets Limit/Offset from a 1-based page.
func (o FindOptions) Paginate(page, perPage int) FindOptions {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	o.Limit = perPage
	o.Offset = (page - 1) * perPage
	return o
}

// Fingerprint is a stable digest of the serialized options. Scope and locking
// are excluded; the transaction handle lives on the context and never reaches it.
// ok is false when a filter value cannot be serialized; such queries are not cached.
func (o FindOptions) Fingerprint() (fp string, ok bool) {
	raw, err := json.Marshal(o)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:12]), true
}

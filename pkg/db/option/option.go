// Package option provides composable query modifiers for the generic repository.
package option

import "gorm.io/gorm"

// QueryOption mutates a gorm query before execution.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type orderBy struct {
	expr string
}

func (o orderBy) Apply(db *gorm.DB) *gorm.DB { return db.Order(o.expr) }

// WithOrder sorts results by the given SQL expression.
func WithOrder(expr string) QueryOption { return orderBy{expr: expr} }

type limit struct {
	n int
}

func (l limit) Apply(db *gorm.DB) *gorm.DB { return db.Limit(l.n) }

// WithLimit caps the number of returned rows.
func WithLimit(n int) QueryOption { return limit{n: n} }

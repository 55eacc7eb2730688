package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base carries the connection (or open transaction) a repository runs on.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx. A nil ctx returns the raw handle.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Bind returns a Base running on tx, or b itself when tx is nil.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// Atomic runs fn in a transaction. Inside an outer transaction gorm uses a
// savepoint, so a failing fn only undoes its own writes before the outer
// caller decides.
func (b Base) Atomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return b.DB(ctx).Transaction(fn)
}

package repository

import (
	"context"

	"gorm.io/gorm"
)

type txCtxKey struct{}

// WithTx returns a context whose InTx calls join tx.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, txCtxKey{}, tx)
}

func TxFromContext(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txCtxKey{}).(*gorm.DB)
	return tx
}

// Package contextx 在 context 中传递事务句柄，使仓储在同一事务内工作
package contextx

import "context"

type txKey struct{}

// WithTx 将事务句柄写入 context
func WithTx(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTx 取出事务句柄，没有则返回 nil
func GetTx(ctx context.Context) any {
	if ctx == nil {
		return nil
	}
	return ctx.Value(txKey{})
}

// InTx 当前 context 是否已处于事务中
func InTx(ctx context.Context) bool {
	return GetTx(ctx) != nil
}

package repository

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// 在庫不足。呼び出し側に現在値と要求値をそのまま見せる。
type InsufficientStockError struct {
	Current   int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock, current %d, requested %d", e.Current, e.Requested)
}

// 調整の結果が負になる場合
type NegativeStockError struct {
	Current int64
	Delta   int64
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("stock cannot go negative, current %d, delta %d", e.Current, e.Delta)
}

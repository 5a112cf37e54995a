package repository

import (
	"context"

	"mall/internal/domain/model"
)

type InventoryRepository interface {
	// 行ロックを取り、足りなければInsufficientStockErrorで失敗し、
	// 減算と監査ログ追記を同一トランザクションで行う
	LockStock(ctx context.Context, ref model.ItemRef, qty int64, reason string, actorUserID int64, orderID *int64) error

	// 在庫戻し（キャンセル・返金）
	ReleaseStock(ctx context.Context, ref model.ItemRef, qty int64, reason string, actorUserID int64, orderID *int64) error

	// 任意の増減。結果が負になるならNegativeStockError。
	AdjustStock(ctx context.Context, ref model.ItemRef, delta int64, reason string, actorUserID int64) error

	// 注文に対して残っているロック量（lockの合計からreleaseの合計を引いたもの）
	NetLockedByOrder(ctx context.Context, orderID int64) ([]model.LockedStock, error)

	// 商品の変動履歴（新しい順、ロックなし）
	ListLogs(ctx context.Context, productID int64, page int, limit int) ([]model.InventoryLog, int64, error)
}

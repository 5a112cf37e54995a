package repository

import (
	"context"
	"time"

	"mall/internal/domain/model"

	"github.com/shopspring/decimal"
)

type AdminOrderListFilter struct {
	Page   int
	Limit  int
	Status string
	UserID *int64
	From   *time.Time
	To     *time.Time
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)

	// 行ロック付き取得（トランザクション内でのみ意味を持つ）
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)

	FindByOrderNo(ctx context.Context, orderNo string) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)

	// stampsはステータスと同時に書くタイムスタンプ等の追加カラム
	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus, stamps map[string]interface{}) error

	// 金額再配分用（order側の合計更新）
	UpdateAmounts(ctx context.Context, orderID int64, total, discount, actual decimal.Decimal) error

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)
	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
}

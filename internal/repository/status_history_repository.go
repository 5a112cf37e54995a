package repository

import (
	"context"

	"mall/internal/domain/model"
)

type StatusHistoryRepository interface {
	Append(ctx context.Context, h model.OrderStatusHistory) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderStatusHistory, error)

	// 指定ステータスへ遷移した直近の履歴（返金失敗時の巻き戻し先の復元）
	LatestByToStatus(ctx context.Context, orderID int64, to model.OrderStatus) (model.OrderStatusHistory, bool, error)
}

package repository

import (
	"context"

	"mall/internal/domain/model"

	"github.com/shopspring/decimal"
)

type OrderItemRepository interface {
	CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error)

	// 金額再配分用（行側の配分更新）
	UpdateAmounts(ctx context.Context, itemID int64, discount, actual decimal.Decimal) error
}

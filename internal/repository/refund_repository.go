package repository

import (
	"context"

	"mall/internal/domain/model"

	"github.com/shopspring/decimal"
)

type RefundRepository interface {
	Create(ctx context.Context, rf model.Refund) (int64, error)

	FindByIDForUpdate(ctx context.Context, refundID int64) (model.Refund, error)

	FindByRefundNo(ctx context.Context, refundNo string) (model.Refund, bool, error)

	// pending/processing の直近返金（order番号でのフォールバック解決）
	FindLatestActionableByOrderNo(ctx context.Context, orderNo string) (model.Refund, bool, error)

	UpdateStatus(ctx context.Context, refundID int64, status model.RefundStatus, stamps map[string]interface{}) error

	// 成功済み返金の合計（返金可能額の分母）
	SumSucceededByOrderID(ctx context.Context, orderID int64) (decimal.Decimal, error)

	AppendLog(ctx context.Context, log model.RefundLog) error
}

package repository

import (
	"context"
	"time"

	"mall/internal/domain/model"

	"github.com/shopspring/decimal"
)

type PaymentRepository interface {
	Create(ctx context.Context, p model.Payment) (int64, error)

	FindByIDForUpdate(ctx context.Context, paymentID int64) (model.Payment, error)

	// コールバック逆引き用
	FindByAttachID(ctx context.Context, attachID string) (model.Payment, bool, error)
	FindLatestByOrderNo(ctx context.Context, orderNo string) (model.Payment, bool, error)

	// 注文に対する直近の支払い（再利用判定）
	FindLatestByOrderID(ctx context.Context, orderID int64) (model.Payment, bool, error)

	UpdateStatus(ctx context.Context, paymentID int64, status model.PaymentStatus, stamps map[string]interface{}) error

	// 成功済み支払いの合計（返金可能額の分子）
	SumSucceededByOrderID(ctx context.Context, orderID int64) (decimal.Decimal, error)

	// processing/succeeded の支払いが存在するか（金額再配分のガード）
	ExistsActive(ctx context.Context, orderID int64) (bool, error)

	AppendLog(ctx context.Context, log model.PaymentLog) error

	// TTL切れのinit/processing支払い（期限切れ掃除用）
	ListExpiredActionable(ctx context.Context, before time.Time, limit int) ([]model.Payment, error)
}

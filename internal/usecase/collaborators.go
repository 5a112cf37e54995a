package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// 通知はfire-and-forget。実装側がエラーを飲み込む。
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string, meta map[string]interface{})
}

// 内部クレジット台帳（ゲートウェイを通らない注文の払い戻し先）
type CreditLedger interface {
	ReversePurchase(ctx context.Context, userID int64, orderID int64, amount decimal.Decimal) error
}

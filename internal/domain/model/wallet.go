package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 内部クレジット残高
type Wallet struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64           `gorm:"not null;uniqueIndex" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

type WalletTxKind string

const (
	WalletTxPay     WalletTxKind = "PAY"
	WalletTxReverse WalletTxKind = "REVERSE"
)

// クレジットの入出金履歴。追記のみ。
type WalletTransaction struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID  int64           `gorm:"not null;index" json:"wallet_id"`
	OrderID   *int64          `gorm:"index" json:"order_id,omitempty"`
	Kind      WalletTxKind    `gorm:"type:varchar(20);not null" json:"kind"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`
	Note      string          `gorm:"type:varchar(255)" json:"note"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusSucceeded  RefundStatus = "SUCCEEDED"
	RefundStatusFailed     RefundStatus = "FAILED"
)

type Refund struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64  `gorm:"not null;index" json:"order_id"`
	OrderNo   string `gorm:"type:varchar(64);not null;index" json:"order_no"`
	PaymentID *int64 `gorm:"index" json:"payment_id,omitempty"`

	RefundNo string `gorm:"type:varchar(64);not null;uniqueIndex" json:"refund_no"`

	Channel PayChannel      `gorm:"type:varchar(20);not null" json:"channel"`
	Amount  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`
	Status  RefundStatus    `gorm:"type:varchar(20);not null;index" json:"status"`
	Reason  string          `gorm:"type:varchar(255)" json:"reason"`

	// ゲートウェイ側の返金ID（受理時に埋まる）
	GatewayRefundID string `gorm:"type:varchar(64);index" json:"gateway_refund_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 返金のイベントタイムライン。追記のみ。
type RefundLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RefundID  int64     `gorm:"not null;index" json:"refund_id"`
	Event     string    `gorm:"type:varchar(50);not null" json:"event"`
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

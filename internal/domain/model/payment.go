package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusInit       PaymentStatus = "INIT"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusSucceeded  PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusCanceled   PaymentStatus = "CANCELED"
	PaymentStatusExpired    PaymentStatus = "EXPIRED"
)

// 成功も含めた終端状態か
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusExpired:
		return true
	}
	return false
}

type Payment struct {
	ID      int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID int64  `gorm:"not null;index" json:"order_id"`
	OrderNo string `gorm:"type:varchar(64);not null;index" json:"order_no"`

	PaymentNo string `gorm:"type:varchar(64);not null;uniqueIndex" json:"payment_no"`

	// ゲートウェイへのリクエストに埋め込む不透明ID。コールバックの逆引きに使う。
	AttachID string `gorm:"type:varchar(64);not null;index" json:"-"`

	Channel PayChannel      `gorm:"type:varchar(20);not null" json:"channel"`
	Amount  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`
	Status  PaymentStatus   `gorm:"type:varchar(20);not null;index" json:"status"`

	// ゲートウェイ側の取引ID（成功時に埋まる）
	TransactionID string `gorm:"type:varchar(64);index" json:"transaction_id,omitempty"`

	ExpiresAt   time.Time  `gorm:"not null;index" json:"expires_at"`
	SucceededAt *time.Time `json:"succeeded_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 支払いのイベントタイムライン。追記のみ。
type PaymentLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID int64     `gorm:"not null;index" json:"payment_id"`
	Event     string    `gorm:"type:varchar(50);not null" json:"event"`
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

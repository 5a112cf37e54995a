package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
	OrderStatusRefunding OrderStatus = "REFUNDING"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

// 支払いチャネル（ゲートウェイ払い / 内部クレジット払い）
type PayChannel string

const (
	PayChannelWechat PayChannel = "WECHAT"
	PayChannelCredit PayChannel = "CREDIT"
)

// 注文ステータスの遷移表。ここに無い遷移は全部不正。
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCanceled},
	OrderStatusPaid:      {OrderStatusShipped, OrderStatusRefunding, OrderStatusCanceled},
	OrderStatusShipped:   {OrderStatusCompleted, OrderStatusRefunding},
	OrderStatusCompleted: {OrderStatusRefunding},
	OrderStatusRefunding: {OrderStatusRefunded, OrderStatusPaid},
	OrderStatusCanceled:  {},
	OrderStatusRefunded:  {},
}

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, t := range orderTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// 現在のステータスから許可されている遷移先
func (s OrderStatus) AllowedTargets() []OrderStatus {
	targets := orderTransitions[s]
	out := make([]OrderStatus, len(targets))
	copy(out, targets)
	return out
}

func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

type Order struct {
	ID      int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo string      `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_no"`
	UserID  int64       `gorm:"not null;index;uniqueIndex:uq_orders_user_idem_key" json:"user_id"`
	Status  OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	// actual = total - discount（常に 0 <= actual <= total）
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"discount_amount"`
	ActualAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"actual_amount"`

	PayChannel PayChannel `gorm:"type:varchar(20);not null" json:"pay_channel"`

	// 注文時点の配送先スナップショット（作成後は不変）
	ReceiverName    string `gorm:"type:varchar(100);not null" json:"receiver_name"`
	ReceiverPhone   string `gorm:"type:varchar(30);not null" json:"receiver_phone"`
	ReceiverAddress string `gorm:"type:varchar(500);not null" json:"receiver_address"`

	// 二重送信防止キー。同じユーザの再利用だけを弾く（ユーザ間では衝突しない）
	IdempotencyKey string `gorm:"type:varchar(255);not null;uniqueIndex:uq_orders_user_idem_key" json:"-"`

	CancelReason string     `gorm:"type:varchar(255)" json:"cancel_reason,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

package model

import "time"

// 状態遷移の監査ログ。追記のみで更新・削除はしない。
type OrderStatusHistory struct {
	ID          int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     int64       `gorm:"not null;index" json:"order_id"`
	FromStatus  OrderStatus `gorm:"type:varchar(20);not null" json:"from_status"`
	ToStatus    OrderStatus `gorm:"type:varchar(20);not null;index" json:"to_status"`
	ActorUserID int64       `gorm:"not null" json:"actor_user_id"`
	Note        string      `gorm:"type:varchar(500)" json:"note"`
	CreatedAt   time.Time   `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

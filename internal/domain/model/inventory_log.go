package model

import "time"

type StockChangeType string

const (
	StockChangeLock    StockChangeType = "LOCK"
	StockChangeRelease StockChangeType = "RELEASE"
	StockChangeAdjust  StockChangeType = "ADJUST"
)

// 在庫の変更対象。variantがnilなら商品本体の在庫行。
type ItemRef struct {
	ProductID int64
	VariantID *int64
}

// 注文に対して残っているロック量の集計結果
type LockedStock struct {
	ProductID int64
	VariantID *int64
	Quantity  int64
}

// 在庫変動の監査ログ。追記のみで更新・削除はしない。
type InventoryLog struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64  `gorm:"not null;index" json:"product_id"`
	VariantID *int64 `gorm:"index" json:"variant_id,omitempty"`
	OrderID   *int64 `gorm:"index" json:"order_id,omitempty"`

	ChangeType StockChangeType `gorm:"type:varchar(20);not null;index" json:"change_type"`

	// 符号付き（LOCKは負、RELEASE/正方向ADJUSTは正）
	Quantity int64 `gorm:"not null" json:"quantity"`

	Reason      string    `gorm:"type:varchar(255);not null" json:"reason"`
	ActorUserID int64     `gorm:"not null" json:"actor_user_id"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

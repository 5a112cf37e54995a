package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderItem struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64  `gorm:"not null;index" json:"order_id"`
	ProductID int64  `gorm:"not null;index" json:"product_id"`
	VariantID *int64 `gorm:"index" json:"variant_id,omitempty"`

	// 注文時点のスナップショット（以後カタログは見ない）
	ProductNameSnapshot  string          `gorm:"type:varchar(255);not null" json:"product_name_snapshot"`
	ProductImageSnapshot string          `gorm:"type:varchar(500)" json:"product_image_snapshot"`
	UnitPriceSnapshot    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"unit_price_snapshot"`

	Quantity int64 `gorm:"not null" json:"quantity"`

	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"discount_amount"`
	ActualAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"actual_amount"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 行の元値（単価×数量）
func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPriceSnapshot.Mul(decimal.NewFromInt(it.Quantity))
}

package repository

import (
	"context"

	"mall/internal/domain/model"
)

type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
	FindVariantByID(ctx context.Context, id int64) (model.ProductVariant, error)

	// 完了時の販売数カウンタ加算
	IncrementSales(ctx context.Context, productID int64, qty int64) error
}

package repository

import (
	"context"
	"errors"

	"mall/internal/domain/model"

	"gorm.io/gorm"
)

type StatusHistoryGormRepository struct {
	db *gorm.DB
}

func NewStatusHistoryGormRepository(db *gorm.DB) *StatusHistoryGormRepository {
	return &StatusHistoryGormRepository{db: db}
}

func (r *StatusHistoryGormRepository) Append(ctx context.Context, h model.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(&h).Error
}

func (r *StatusHistoryGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderStatusHistory, error) {
	var items []model.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *StatusHistoryGormRepository) LatestByToStatus(ctx context.Context, orderID int64, to model.OrderStatus) (model.OrderStatusHistory, bool, error) {
	var h model.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND to_status = ?", orderID, to).
		Order("id desc").
		First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.OrderStatusHistory{}, false, nil
	}
	if err != nil {
		return model.OrderStatusHistory{}, false, err
	}
	return h, true, nil
}

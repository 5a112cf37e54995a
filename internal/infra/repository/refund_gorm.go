package repository

import (
	"context"
	"errors"

	"mall/internal/domain/model"
	repo "mall/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RefundGormRepository struct {
	db *gorm.DB
}

func NewRefundGormRepository(db *gorm.DB) *RefundGormRepository {
	return &RefundGormRepository{db: db}
}

func (r *RefundGormRepository) Create(ctx context.Context, rf model.Refund) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&rf).Error; err != nil {
		return 0, err
	}
	return rf.ID, nil
}

func (r *RefundGormRepository) FindByIDForUpdate(ctx context.Context, refundID int64) (model.Refund, error) {
	var rf model.Refund
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", refundID).
		First(&rf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Refund{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Refund{}, err
	}
	return rf, nil
}

func (r *RefundGormRepository) FindByRefundNo(ctx context.Context, refundNo string) (model.Refund, bool, error) {
	var rf model.Refund
	err := r.db.WithContext(ctx).Where("refund_no = ?", refundNo).First(&rf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Refund{}, false, nil
	}
	if err != nil {
		return model.Refund{}, false, err
	}
	return rf, true, nil
}

func (r *RefundGormRepository) FindLatestActionableByOrderNo(ctx context.Context, orderNo string) (model.Refund, bool, error) {
	var rf model.Refund
	err := r.db.WithContext(ctx).
		Where("order_no = ? AND status IN ?", orderNo,
			[]model.RefundStatus{model.RefundStatusPending, model.RefundStatusProcessing}).
		Order("id desc").
		First(&rf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Refund{}, false, nil
	}
	if err != nil {
		return model.Refund{}, false, err
	}
	return rf, true, nil
}

func (r *RefundGormRepository) UpdateStatus(ctx context.Context, refundID int64, status model.RefundStatus, stamps map[string]interface{}) error {
	updates := map[string]interface{}{"status": status}
	for k, v := range stamps {
		updates[k] = v
	}

	res := r.db.WithContext(ctx).Model(&model.Refund{}).
		Where("id = ?", refundID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *RefundGormRepository) SumSucceededByOrderID(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&model.Refund{}).
		Select("SUM(amount)").
		Where("order_id = ? AND status = ?", orderID, model.RefundStatusSucceeded).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *RefundGormRepository) AppendLog(ctx context.Context, log model.RefundLog) error {
	return r.db.WithContext(ctx).Create(&log).Error
}

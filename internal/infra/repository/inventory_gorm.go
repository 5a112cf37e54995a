package repository

import (
	"context"
	"errors"

	"mall/internal/domain/model"
	repo "mall/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

// 対象の在庫行をFOR UPDATEで取得して現在値を返す。
// 同じ行を狙う並行リクエストはここで直列化される。
func (r *InventoryGormRepository) lockRow(ctx context.Context, ref model.ItemRef) (int64, error) {
	if ref.VariantID != nil {
		var v model.ProductVariant
		err := r.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND product_id = ?", *ref.VariantID, ref.ProductID).
			First(&v).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, repo.ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		return v.Stock, nil
	}

	var p model.Product
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", ref.ProductID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, repo.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}

func (r *InventoryGormRepository) setStock(ctx context.Context, ref model.ItemRef, newStock int64) error {
	var res *gorm.DB
	if ref.VariantID != nil {
		res = r.db.WithContext(ctx).Model(&model.ProductVariant{}).
			Where("id = ?", *ref.VariantID).
			Update("stock", newStock)
	} else {
		res = r.db.WithContext(ctx).Model(&model.Product{}).
			Where("id = ?", ref.ProductID).
			Update("stock", newStock)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *InventoryGormRepository) appendLog(ctx context.Context, log model.InventoryLog) error {
	return r.db.WithContext(ctx).Create(&log).Error
}

// ロック取得→残量チェック→減算→監査ログ。呼び出し元のトランザクション内で動く。
func (r *InventoryGormRepository) LockStock(ctx context.Context, ref model.ItemRef, qty int64, reason string, actorUserID int64, orderID *int64) error {
	current, err := r.lockRow(ctx, ref)
	if err != nil {
		return err
	}
	if current < qty {
		return &repo.InsufficientStockError{Current: current, Requested: qty}
	}
	if err := r.setStock(ctx, ref, current-qty); err != nil {
		return err
	}
	return r.appendLog(ctx, model.InventoryLog{
		ProductID:   ref.ProductID,
		VariantID:   ref.VariantID,
		OrderID:     orderID,
		ChangeType:  model.StockChangeLock,
		Quantity:    -qty,
		Reason:      reason,
		ActorUserID: actorUserID,
	})
}

func (r *InventoryGormRepository) ReleaseStock(ctx context.Context, ref model.ItemRef, qty int64, reason string, actorUserID int64, orderID *int64) error {
	current, err := r.lockRow(ctx, ref)
	if err != nil {
		return err
	}
	if err := r.setStock(ctx, ref, current+qty); err != nil {
		return err
	}
	return r.appendLog(ctx, model.InventoryLog{
		ProductID:   ref.ProductID,
		VariantID:   ref.VariantID,
		OrderID:     orderID,
		ChangeType:  model.StockChangeRelease,
		Quantity:    qty,
		Reason:      reason,
		ActorUserID: actorUserID,
	})
}

func (r *InventoryGormRepository) AdjustStock(ctx context.Context, ref model.ItemRef, delta int64, reason string, actorUserID int64) error {
	current, err := r.lockRow(ctx, ref)
	if err != nil {
		return err
	}
	if current+delta < 0 {
		return &repo.NegativeStockError{Current: current, Delta: delta}
	}
	if err := r.setStock(ctx, ref, current+delta); err != nil {
		return err
	}
	return r.appendLog(ctx, model.InventoryLog{
		ProductID:   ref.ProductID,
		VariantID:   ref.VariantID,
		ChangeType:  model.StockChangeAdjust,
		Quantity:    delta,
		Reason:      reason,
		ActorUserID: actorUserID,
	})
}

// ロック合計から解放合計を引いた残り。二重解放のガードに使う。
func (r *InventoryGormRepository) NetLockedByOrder(ctx context.Context, orderID int64) ([]model.LockedStock, error) {
	var rows []model.LockedStock
	err := r.db.WithContext(ctx).
		Model(&model.InventoryLog{}).
		Select("product_id, variant_id, -SUM(quantity) AS quantity").
		Where("order_id = ? AND change_type IN ?", orderID, []model.StockChangeType{model.StockChangeLock, model.StockChangeRelease}).
		Group("product_id, variant_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]model.LockedStock, 0, len(rows))
	for _, row := range rows {
		if row.Quantity > 0 {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *InventoryGormRepository) ListLogs(ctx context.Context, productID int64, page int, limit int) ([]model.InventoryLog, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	q := r.db.WithContext(ctx).Model(&model.InventoryLog{}).Where("product_id = ?", productID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.InventoryLog{}, 0, err
	}

	var logs []model.InventoryLog
	offset := (page - 1) * limit
	if err := q.Order("id desc").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return []model.InventoryLog{}, 0, err
	}
	return logs, total, nil
}

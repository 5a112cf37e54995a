package repository

import (
	"context"

	repo "mall/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	orders        repo.OrderRepository
	orderItems    repo.OrderItemRepository
	payments      repo.PaymentRepository
	refunds       repo.RefundRepository
	inventory     repo.InventoryRepository
	products      repo.ProductRepository
	histories     repo.StatusHistoryRepository
	notifications repo.NotificationRepository
}

func (r *txReposGorm) Orders() repo.OrderRepository                    { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository            { return r.orderItems }
func (r *txReposGorm) Payments() repo.PaymentRepository                { return r.payments }
func (r *txReposGorm) Refunds() repo.RefundRepository                  { return r.refunds }
func (r *txReposGorm) Inventory() repo.InventoryRepository             { return r.inventory }
func (r *txReposGorm) Products() repo.ProductRepository                { return r.products }
func (r *txReposGorm) StatusHistories() repo.StatusHistoryRepository   { return r.histories }
func (r *txReposGorm) Notifications() repo.NotificationRepository      { return r.notifications }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		r := &txReposGorm{
			orders:        NewOrderGormRepository(tx),
			orderItems:    NewOrderItemGormRepository(tx),
			payments:      NewPaymentGormRepository(tx),
			refunds:       NewRefundGormRepository(tx),
			inventory:     NewInventoryGormRepository(tx),
			products:      NewProductGormRepository(tx),
			histories:     NewStatusHistoryGormRepository(tx),
			notifications: NewNotificationGormRepository(tx),
		}
		return fn(r)
	})
}

package usecase

import (
	"context"
	"net/http"
	"strings"

	"mall/internal/domain/model"
	repo "mall/internal/repository"

	"github.com/shopspring/decimal"
)

type AdminOrderUsecase struct {
	tx       repo.TransactionManager
	payments *PaymentUsecase
	notifier Notifier
	sm       *StateMachine
	clock    Clock
}

func NewAdminOrderUsecase(
	tx repo.TransactionManager,
	payments *PaymentUsecase,
	notifier Notifier,
	sm *StateMachine,
	clock Clock,
) *AdminOrderUsecase {
	return &AdminOrderUsecase{
		tx:       tx,
		payments: payments,
		notifier: notifier,
		sm:       sm,
		clock:    clock,
	}
}

type AdminOrderListOutput struct {
	Orders []OrderOutput `json:"orders"`
	Total  int64         `json:"total"`
	Page   int           `json:"page"`
	Limit  int           `json:"limit"`
}

func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) (AdminOrderListOutput, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Status != "" && !validOrderStatus(f.Status) {
		return AdminOrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	var out AdminOrderListOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListAdmin(ctx, f)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		outs := make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		out = AdminOrderListOutput{Orders: outs, Total: total, Page: f.Page, Limit: f.Limit}
		return nil
	})
	if err != nil {
		return AdminOrderListOutput{}, err
	}
	return out, nil
}

func validOrderStatus(s string) bool {
	switch model.OrderStatus(s) {
	case model.OrderStatusPending, model.OrderStatusPaid, model.OrderStatusShipped,
		model.OrderStatusCompleted, model.OrderStatusCanceled,
		model.OrderStatusRefunding, model.OrderStatusRefunded:
		return true
	}
	return false
}

// 出荷。PAID以外は遷移表が弾く。
func (u *AdminOrderUsecase) Ship(ctx context.Context, adminUserID int64, orderID int64, trackingNo string) (OrderOutput, error) {
	note := "shipped"
	if trackingNo != "" {
		note = "shipped, tracking " + trackingNo
	}
	return u.transitionTo(ctx, adminUserID, orderID, model.OrderStatusShipped, note)
}

// 受領確認。SHIPPED以外は遷移表が弾く。
func (u *AdminOrderUsecase) Complete(ctx context.Context, adminUserID int64, orderID int64) (OrderOutput, error) {
	return u.transitionTo(ctx, adminUserID, orderID, model.OrderStatusCompleted, "completed")
}

func (u *AdminOrderUsecase) transitionTo(ctx context.Context, adminUserID int64, orderID int64, target model.OrderStatus, note string) (OrderOutput, error) {
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput
	var notifyUserID int64

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		updated, err := u.sm.Transition(ctx, r, o, target, adminUserID, note)
		if err != nil {
			if te, ok := err.(*IllegalTransitionError); ok {
				return NewHTTPError(http.StatusBadRequest, te.Error())
			}
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out = toOrderOutput(updated, items)
		notifyUserID = updated.UserID
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	if u.notifier != nil && target == model.OrderStatusShipped {
		u.notifier.Notify(ctx, notifyUserID, "order shipped", note,
			map[string]interface{}{"order_no": out.OrderNo})
	}
	return out, nil
}

type AdjustAmountInput struct {
	OrderID int64
	// 調整後の実請求額。0以上、現在の実請求額以下。
	NewActual decimal.Decimal
	Note      string
}

// 請求額の調整。支払い前のPENDING注文のみ。
// 明細行へは最大剰余法で配分し、行の合計と注文の実請求額を常に一致させる。
func (u *AdminOrderUsecase) AdjustAmount(ctx context.Context, adminUserID int64, in AdjustAmountInput) (OrderOutput, error) {
	if in.OrderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if in.NewActual.LessThan(decimal.Zero) {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "negative amount")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, in.OrderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.Status != model.OrderStatusPending {
			return NewHTTPError(http.StatusBadRequest, "only pending orders can be adjusted")
		}
		if in.NewActual.GreaterThan(o.ActualAmount) {
			return NewHTTPError(http.StatusBadRequest, "amount can only be reduced")
		}

		// 支払いが走り出していたら金額を動かさない
		active, err := r.Payments().ExistsActive(ctx, o.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if active {
			return NewHTTPError(http.StatusBadRequest, "a payment is in progress, amount is frozen")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if len(items) == 0 {
			return NewHTTPError(http.StatusInternalServerError, "order has no items")
		}

		shares := make([]int64, len(items))
		for i, it := range items {
			shares[i] = it.LineTotal().Shift(2).IntPart()
		}
		allocated := allocateByLargestRemainder(shares, in.NewActual.Shift(2).IntPart())

		for i, it := range items {
			actual := decimal.New(allocated[i], -2)
			discount := it.LineTotal().Sub(actual)
			if err := r.OrderItems().UpdateAmounts(ctx, it.ID, discount, actual); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			items[i].DiscountAmount = discount
			items[i].ActualAmount = actual
		}

		// 元値は据え置き、値引きで実請求額を合わせる
		discount := o.TotalAmount.Sub(in.NewActual)
		if err := r.Orders().UpdateAmounts(ctx, o.ID, o.TotalAmount, discount, in.NewActual); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		note := "amount adjusted to " + in.NewActual.StringFixed(2)
		if in.Note != "" {
			note += ": " + in.Note
		}
		if err := r.StatusHistories().Append(ctx, model.OrderStatusHistory{
			OrderID:     o.ID,
			FromStatus:  o.Status,
			ToStatus:    o.Status,
			ActorUserID: adminUserID,
			Note:        note,
			CreatedAt:   u.clock.Now(),
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		o.DiscountAmount = discount
		o.ActualAmount = in.NewActual
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// 管理者起点のゲートウェイ返金
func (u *AdminOrderUsecase) Refund(ctx context.Context, adminUserID int64, in StartRefundInput) (StartRefundOutput, error) {
	return u.payments.StartOrderRefund(ctx, adminUserID, in)
}

type AdjustStockInput struct {
	ProductID int64
	VariantID *int64
	Delta     int64
	Reason    string
}

// 手動の在庫増減。監査ログ付き。
func (u *AdminOrderUsecase) AdjustStock(ctx context.Context, adminUserID int64, in AdjustStockInput) error {
	if in.ProductID <= 0 || in.Delta == 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid adjustment")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return NewHTTPError(http.StatusBadRequest, "reason required")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		ref := model.ItemRef{ProductID: in.ProductID, VariantID: in.VariantID}
		err := r.Inventory().AdjustStock(ctx, ref, in.Delta, reason, adminUserID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if nse, ok := err.(*repo.NegativeStockError); ok {
			return NewHTTPError(http.StatusBadRequest, nse.Error())
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
}

type StockLogListOutput struct {
	Logs  []model.InventoryLog `json:"logs"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

func (u *AdminOrderUsecase) StockLogs(ctx context.Context, productID int64, page, limit int) (StockLogListOutput, error) {
	if productID <= 0 {
		return StockLogListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var out StockLogListOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		logs, total, err := r.Inventory().ListLogs(ctx, productID, page, limit)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out = StockLogListOutput{Logs: logs, Total: total, Page: page, Limit: limit}
		return nil
	})
	if err != nil {
		return StockLogListOutput{}, err
	}
	return out, nil
}

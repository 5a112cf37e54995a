package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"mall/internal/domain/model"
	repo "mall/internal/repository"

	"github.com/shopspring/decimal"
)

type CancelUsecase struct {
	tx       repo.TransactionManager
	payments *PaymentUsecase
	credit   CreditLedger
	notifier Notifier
	sm       *StateMachine
	clock    Clock
}

func NewCancelUsecase(
	tx repo.TransactionManager,
	payments *PaymentUsecase,
	credit CreditLedger,
	notifier Notifier,
	sm *StateMachine,
	clock Clock,
) *CancelUsecase {
	return &CancelUsecase{
		tx:       tx,
		payments: payments,
		credit:   credit,
		notifier: notifier,
		sm:       sm,
		clock:    clock,
	}
}

type CancelResult struct {
	Order model.Order `json:"order"`

	// 既に終端だった場合true。エラーにはしない。
	Skipped bool `json:"skipped"`

	// ゲートウェイ返金を起票した場合の情報
	RefundStarted bool   `json:"refund_started"`
	RefundID      int64  `json:"refund_id,omitempty"`
	RefundChannel string `json:"refund_channel,omitempty"`

	// 返金の起票に失敗したが注文自体はキャンセルした場合の注記
	RefundErr string `json:"refund_err,omitempty"`
}

// 注文キャンセルの振り分け。支払い状況とチャネルで4パターンに分かれる。
//   - クレジット注文: 台帳を即時巻き戻してキャンセル
//   - ゲートウェイ注文で入金あり: 返金を起票してREFUNDINGへ
//   - それ以外: そのままキャンセル
func (u *CancelUsecase) Cancel(ctx context.Context, actorUserID int64, orderID int64, reason string, asAdmin bool) (CancelResult, error) {
	if orderID <= 0 {
		return CancelResult{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if reason == "" {
		reason = "canceled by user"
	}

	var result CancelResult
	var startRefund bool
	var refundChannel model.PayChannel

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !asAdmin && o.UserID != actorUserID {
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		if o.Status.Terminal() || o.Status == model.OrderStatusRefunding {
			result = CancelResult{Order: o, Skipped: true}
			return nil
		}
		if !asAdmin && o.Status != model.OrderStatusPending && o.Status != model.OrderStatusPaid {
			return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("order is %s, contact support to cancel", o.Status))
		}

		if o.PayChannel == model.PayChannelCredit {
			return u.cancelCreditOrder(ctx, r, o, actorUserID, reason, &result)
		}

		paid, err := refundableAmount(ctx, r, o.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if paid.GreaterThan(decimal.Zero) {
			// ロックを持ったままゲートウェイを呼ばない。起票はTxの外で行う。
			startRefund = true
			refundChannel = o.PayChannel
			result = CancelResult{Order: o}
			return nil
		}

		updated, err := u.sm.Transition(ctx, r, o, model.OrderStatusCanceled, actorUserID, reason)
		if err != nil {
			return err
		}
		result = CancelResult{Order: updated}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	if result.Skipped {
		return result, nil
	}

	if startRefund {
		refundOut, rerr := u.payments.StartOrderRefund(ctx, actorUserID, StartRefundInput{
			OrderID: orderID,
			Reason:  reason,
		})
		if rerr != nil {
			//返金の起票に失敗しても注文は畳む。入金分は手動対応の注記を残す。
			result.RefundErr = rerr.Error()
			cerr := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
				o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
				if err != nil {
					return err
				}
				if o.Status.Terminal() {
					result.Order = o
					return nil
				}
				var updated model.Order
				if o.Status.CanTransitionTo(model.OrderStatusCanceled) {
					updated, err = u.sm.Transition(ctx, r, o, model.OrderStatusCanceled, actorUserID, reason+" (refund failed, manual review)")
				} else {
					updated, err = u.sm.ForceCancel(ctx, r, o, actorUserID, reason+" (refund failed, manual review)")
				}
				if err != nil {
					return err
				}
				result.Order = updated
				return nil
			})
			if cerr != nil {
				return CancelResult{}, cerr
			}
		} else {
			result.RefundStarted = true
			result.RefundID = refundOut.RefundID
			result.RefundChannel = string(refundChannel)
			// 注文はStartOrderRefund内でREFUNDINGに遷移済み
			result.Order.Status = model.OrderStatusRefunding
		}
	}

	u.notifyCanceled(ctx, result)
	return result, nil
}

// クレジット注文のキャンセル。台帳の巻き戻しと遷移を同一トランザクションで行う。
func (u *CancelUsecase) cancelCreditOrder(ctx context.Context, r repo.TxRepos, o model.Order, actorUserID int64, reason string, result *CancelResult) error {
	if o.Status == model.OrderStatusPaid && o.ActualAmount.GreaterThan(decimal.Zero) {
		if err := u.credit.ReversePurchase(ctx, o.UserID, o.ID, o.ActualAmount); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "credit reversal failed")
		}
	}

	var updated model.Order
	var err error
	if o.Status.CanTransitionTo(model.OrderStatusCanceled) {
		updated, err = u.sm.Transition(ctx, r, o, model.OrderStatusCanceled, actorUserID, reason)
	} else {
		// 出荷後のクレジット注文。キャンセルは通すが払い戻しは手動対応。
		updated, err = u.sm.ForceCancel(ctx, r, o, actorUserID, reason)
		result.RefundErr = "credit reversal requires manual review"
	}
	if err != nil {
		return err
	}
	result.Order = updated
	return nil
}

func (u *CancelUsecase) notifyCanceled(ctx context.Context, result CancelResult) {
	if u.notifier == nil || result.Order.UserID <= 0 {
		return
	}
	title := "order canceled"
	body := fmt.Sprintf("order %s has been canceled", result.Order.OrderNo)
	if result.RefundStarted {
		title = "refund started"
		body = fmt.Sprintf("a refund for order %s has been started", result.Order.OrderNo)
	}
	u.notifier.Notify(ctx, result.Order.UserID, title, body,
		map[string]interface{}{"order_no": result.Order.OrderNo})
}

// 期限切れ支払いの掃除。支払いをEXPIREDに畳み、未払いのままの注文をキャンセルする。
// 定期実行を想定。1回で処理する件数はlimitで抑える。
func (u *CancelUsecase) CancelExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := u.clock.Now()

	var stale []model.Payment
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		stale, err = r.Payments().ListExpiredActionable(ctx, now, limit)
		return err
	})
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, p := range stale {
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			locked, err := r.Payments().FindByIDForUpdate(ctx, p.ID)
			if err != nil {
				return err
			}
			if locked.Status.Terminal() {
				return nil
			}
			if err := r.Payments().UpdateStatus(ctx, locked.ID, model.PaymentStatusExpired, nil); err != nil {
				return err
			}
			if err := r.Payments().AppendLog(ctx, model.PaymentLog{
				PaymentID: locked.ID,
				Event:     "expired",
				Detail:    "payment ttl elapsed",
				CreatedAt: now,
			}); err != nil {
				return err
			}

			o, err := r.Orders().FindByIDForUpdate(ctx, locked.OrderID)
			if err != nil {
				return err
			}
			if o.Status == model.OrderStatusPending {
				if _, err := u.sm.Transition(ctx, r, o, model.OrderStatusCanceled, 0, "payment expired"); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			slog.Warn("expire payment failed", "payment_id", p.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

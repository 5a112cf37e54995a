package usecase

import (
	"context"
	"fmt"

	"mall/internal/domain/model"
	repo "mall/internal/repository"
)

// 注文ステータスの遷移を一手に引き受ける。
// ステータス更新・履歴追記・遷移後フックを呼び出し元のトランザクション内で実行する。
type StateMachine struct {
	clock Clock
}

func NewStateMachine(clock Clock) *StateMachine {
	return &StateMachine{clock: clock}
}

// 遷移表に無い遷移はIllegalTransitionErrorで拒否する。
func (m *StateMachine) Transition(ctx context.Context, r repo.TxRepos, o model.Order, target model.OrderStatus, actorUserID int64, note string) (model.Order, error) {
	if !o.Status.CanTransitionTo(target) {
		return model.Order{}, &IllegalTransitionError{
			From:    o.Status,
			Target:  target,
			Allowed: o.Status.AllowedTargets(),
		}
	}
	return m.apply(ctx, r, o, target, actorUserID, note, true)
}

// 返金失敗時の巻き戻し。遷移先は履歴から復元するため表の検査を通さないが、
// 履歴行は通常どおり残す。フックは再実行しない（完了時の販売数を二重加算しない）。
func (m *StateMachine) RollbackRefunding(ctx context.Context, r repo.TxRepos, o model.Order, actorUserID int64, note string) (model.Order, error) {
	if o.Status != model.OrderStatusRefunding {
		return o, nil
	}

	prev := model.OrderStatusPaid
	if h, ok, err := r.StatusHistories().LatestByToStatus(ctx, o.ID, model.OrderStatusRefunding); err != nil {
		return model.Order{}, err
	} else if ok && h.FromStatus != "" {
		prev = h.FromStatus
	}
	return m.apply(ctx, r, o, prev, actorUserID, note, false)
}

// キャンセル指示は遷移表の外からも来る（クレジット注文の出荷後キャンセル等）。
// 通常の遷移と同じくステータス・履歴・フックをまとめて書く。
func (m *StateMachine) ForceCancel(ctx context.Context, r repo.TxRepos, o model.Order, actorUserID int64, note string) (model.Order, error) {
	return m.apply(ctx, r, o, model.OrderStatusCanceled, actorUserID, note, true)
}

func (m *StateMachine) apply(ctx context.Context, r repo.TxRepos, o model.Order, target model.OrderStatus, actorUserID int64, note string, runHooks bool) (model.Order, error) {
	now := m.clock.Now()

	stamps := map[string]interface{}{}
	switch target {
	case model.OrderStatusPaid:
		if o.PaidAt == nil {
			stamps["paid_at"] = now
		}
	case model.OrderStatusCanceled:
		stamps["canceled_at"] = now
		if note != "" {
			stamps["cancel_reason"] = note
		}
	case model.OrderStatusCompleted:
		stamps["finished_at"] = now
	}

	if err := r.Orders().UpdateStatus(ctx, o.ID, target, stamps); err != nil {
		return model.Order{}, err
	}

	if err := r.StatusHistories().Append(ctx, model.OrderStatusHistory{
		OrderID:     o.ID,
		FromStatus:  o.Status,
		ToStatus:    target,
		ActorUserID: actorUserID,
		Note:        note,
		CreatedAt:   now,
	}); err != nil {
		return model.Order{}, err
	}

	if runHooks {
		if err := m.runHook(ctx, r, o, target, actorUserID); err != nil {
			return model.Order{}, err
		}
	}

	updated := o
	updated.Status = target
	switch target {
	case model.OrderStatusPaid:
		if updated.PaidAt == nil {
			updated.PaidAt = &now
		}
	case model.OrderStatusCanceled:
		updated.CanceledAt = &now
		if note != "" {
			updated.CancelReason = note
		}
	case model.OrderStatusCompleted:
		updated.FinishedAt = &now
	}
	return updated, nil
}

// 遷移後フック。遷移本体と同一トランザクションで動くので、
// ここで失敗すればステータスも履歴も巻き戻る。
func (m *StateMachine) runHook(ctx context.Context, r repo.TxRepos, o model.Order, target model.OrderStatus, actorUserID int64) error {
	switch target {
	case model.OrderStatusCanceled, model.OrderStatusRefunded:
		return m.releaseLockedStock(ctx, r, o, target, actorUserID)

	case model.OrderStatusCompleted:
		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := r.Products().IncrementSales(ctx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
	}
	// PAIDは在庫に触らない（在庫は注文作成時に確保済み）
	return nil
}

// 注文に残っているロック分だけ戻す。二重に呼ばれても戻し過ぎない。
func (m *StateMachine) releaseLockedStock(ctx context.Context, r repo.TxRepos, o model.Order, target model.OrderStatus, actorUserID int64) error {
	locked, err := r.Inventory().NetLockedByOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	reason := fmt.Sprintf("order %s", target)
	for _, l := range locked {
		ref := model.ItemRef{ProductID: l.ProductID, VariantID: l.VariantID}
		if err := r.Inventory().ReleaseStock(ctx, ref, l.Quantity, reason, actorUserID, &o.ID); err != nil {
			return err
		}
	}
	return nil
}

package usecase

import (
	"context"
	"testing"
	"time"

	"mall/internal/domain/model"
	repo "mall/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func seedOrder(s *memStore, status model.OrderStatus, channel model.PayChannel, actual string) model.Order {
	amount, _ := decimal.NewFromString(actual)
	o := model.Order{
		OrderNo:      "SO20260101000000000001",
		UserID:       10,
		Status:       status,
		TotalAmount:  amount,
		ActualAmount: amount,
		PayChannel:   channel,
	}
	id, _ := memOrders{s}.Create(context.Background(), o)
	o.ID = id
	return o
}

func TestStateMachine_TransitionTable(t *testing.T) {
	all := []model.OrderStatus{
		model.OrderStatusPending, model.OrderStatusPaid, model.OrderStatusShipped,
		model.OrderStatusCompleted, model.OrderStatusCanceled,
		model.OrderStatusRefunding, model.OrderStatusRefunded,
	}
	allowed := map[model.OrderStatus][]model.OrderStatus{
		model.OrderStatusPending:   {model.OrderStatusPaid, model.OrderStatusCanceled},
		model.OrderStatusPaid:      {model.OrderStatusShipped, model.OrderStatusRefunding, model.OrderStatusCanceled},
		model.OrderStatusShipped:   {model.OrderStatusCompleted, model.OrderStatusRefunding},
		model.OrderStatusCompleted: {model.OrderStatusRefunding},
		model.OrderStatusRefunding: {model.OrderStatusRefunded, model.OrderStatusPaid},
		model.OrderStatusCanceled:  {},
		model.OrderStatusRefunded:  {},
	}
	isAllowed := func(from, to model.OrderStatus) bool {
		for _, a := range allowed[from] {
			if a == to {
				return true
			}
		}
		return false
	}

	clock := fixedClock{t: time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)}
	sm := NewStateMachine(clock)

	for _, from := range all {
		for _, to := range all {
			s := newMemStore()
			o := seedOrder(s, from, model.PayChannelWechat, "100.00")

			_, err := sm.Transition(context.Background(), memRepos{s}, o, to, 1, "test")
			if isAllowed(from, to) {
				assert.NoError(t, err, "%s -> %s should be allowed", from, to)
			} else {
				var te *IllegalTransitionError
				assert.ErrorAs(t, err, &te, "%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestStateMachine_WritesHistoryAndStamps(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	sm := NewStateMachine(fixedClock{t: now})
	s := newMemStore()
	o := seedOrder(s, model.OrderStatusPending, model.PayChannelWechat, "100.00")

	updated, err := sm.Transition(context.Background(), memRepos{s}, o, model.OrderStatusPaid, 0, "payment succeeded")
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, updated.Status)
	assert.NotNil(t, updated.PaidAt)
	assert.Equal(t, now, *updated.PaidAt)

	assert.Len(t, s.histories, 1)
	h := s.histories[0]
	assert.Equal(t, model.OrderStatusPending, h.FromStatus)
	assert.Equal(t, model.OrderStatusPaid, h.ToStatus)
	assert.Equal(t, "payment succeeded", h.Note)
}

func TestStateMachine_CancelReleasesLockedStock(t *testing.T) {
	sm := NewStateMachine(fixedClock{t: time.Now()})
	s := newMemStore()
	s.products[1] = &model.Product{ID: 1, Name: "widget", Stock: 7, IsActive: true}
	o := seedOrder(s, model.OrderStatusPending, model.PayChannelWechat, "100.00")

	ctx := context.Background()
	ref := model.ItemRef{ProductID: 1}
	assert.NoError(t, memInventory{s}.LockStock(ctx, ref, 3, "order create", o.UserID, &o.ID))
	assert.Equal(t, int64(4), s.products[1].Stock)

	_, err := sm.Transition(ctx, memRepos{s}, o, model.OrderStatusCanceled, o.UserID, "changed my mind")
	assert.NoError(t, err)
	assert.Equal(t, int64(7), s.products[1].Stock)

	// 二重キャンセル相当のフックが来ても戻し過ぎない
	err = sm.runHook(ctx, memRepos{s}, o, model.OrderStatusCanceled, o.UserID)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), s.products[1].Stock)
}

func TestStateMachine_CompleteIncrementsSales(t *testing.T) {
	sm := NewStateMachine(fixedClock{t: time.Now()})
	s := newMemStore()
	s.products[1] = &model.Product{ID: 1, Name: "widget", Stock: 5, IsActive: true}
	o := seedOrder(s, model.OrderStatusShipped, model.PayChannelWechat, "100.00")

	ctx := context.Background()
	assert.NoError(t, memItems{s}.CreateBulk(ctx, o.ID, []model.OrderItem{
		{ProductID: 1, Quantity: 2, UnitPriceSnapshot: decimal.NewFromInt(50)},
	}))

	updated, err := sm.Transition(ctx, memRepos{s}, o, model.OrderStatusCompleted, 99, "completed")
	assert.NoError(t, err)
	assert.NotNil(t, updated.FinishedAt)
	assert.Equal(t, int64(2), s.products[1].Sales)
}

func TestStateMachine_RollbackRefunding(t *testing.T) {
	sm := NewStateMachine(fixedClock{t: time.Now()})
	s := newMemStore()
	o := seedOrder(s, model.OrderStatusShipped, model.PayChannelWechat, "100.00")

	ctx := context.Background()

	refunding, err := sm.Transition(ctx, memRepos{s}, o, model.OrderStatusRefunding, 1, "refund RF1")
	assert.NoError(t, err)

	rolled, err := sm.RollbackRefunding(ctx, memRepos{s}, refunding, 1, "refund failed")
	assert.NoError(t, err)
	// 遷移表ではREFUNDING→SHIPPEDは無いが、巻き戻しは履歴から元の状態へ戻る
	assert.Equal(t, model.OrderStatusShipped, rolled.Status)

	// 履歴は巻き戻し分も残る
	histories, _ := memHistories{s}.ListByOrderID(ctx, o.ID)
	assert.Len(t, histories, 2)
	assert.Equal(t, model.OrderStatusRefunding, histories[1].FromStatus)
	assert.Equal(t, model.OrderStatusShipped, histories[1].ToStatus)
}

func TestStateMachine_RollbackRefundingDefaultsToPaid(t *testing.T) {
	sm := NewStateMachine(fixedClock{t: time.Now()})
	s := newMemStore()
	// 履歴なしでいきなりREFUNDINGの注文
	o := seedOrder(s, model.OrderStatusRefunding, model.PayChannelWechat, "100.00")

	rolled, err := sm.RollbackRefunding(context.Background(), memRepos{s}, o, 1, "refund failed")
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, rolled.Status)
}

func TestStateMachine_RollbackRefundingIgnoresOtherStatus(t *testing.T) {
	sm := NewStateMachine(fixedClock{t: time.Now()})
	s := newMemStore()
	o := seedOrder(s, model.OrderStatusPaid, model.PayChannelWechat, "100.00")

	rolled, err := sm.RollbackRefunding(context.Background(), memRepos{s}, o, 1, "noop")
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, rolled.Status)
	assert.Empty(t, s.histories)
}

func TestStateMachine_ForceCancelBypassesTable(t *testing.T) {
	sm := NewStateMachine(fixedClock{t: time.Now()})
	s := newMemStore()
	o := seedOrder(s, model.OrderStatusShipped, model.PayChannelCredit, "100.00")

	updated, err := sm.ForceCancel(context.Background(), memRepos{s}, o, 1, "admin cancel")
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusCanceled, updated.Status)
	assert.Equal(t, "admin cancel", updated.CancelReason)
}

func TestNetLockedByOrder_GuardsDoubleRelease(t *testing.T) {
	s := newMemStore()
	s.products[1] = &model.Product{ID: 1, Stock: 10}
	orderID := int64(5)

	ctx := context.Background()
	inv := memInventory{s}
	ref := model.ItemRef{ProductID: 1}
	assert.NoError(t, inv.LockStock(ctx, ref, 4, "order create", 1, &orderID))
	assert.NoError(t, inv.ReleaseStock(ctx, ref, 4, "order CANCELED", 1, &orderID))

	locked, err := inv.NetLockedByOrder(ctx, orderID)
	assert.NoError(t, err)
	assert.Empty(t, locked)
}

var _ repo.TxRepos = memRepos{}

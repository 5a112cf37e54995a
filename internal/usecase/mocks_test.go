package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"mall/internal/domain/model"
	repo "mall/internal/repository"

	"github.com/shopspring/decimal"
)

// =====================
// インメモリのTxRepos。ユニットテストはこれで回す。
// =====================

type memStore struct {
	orders   map[int64]*model.Order
	orderSeq int64

	items   map[int64]*model.OrderItem
	itemSeq int64

	payments    map[int64]*model.Payment
	paySeq      int64
	paymentLogs []model.PaymentLog

	refunds    map[int64]*model.Refund
	refundSeq  int64
	refundLogs []model.RefundLog

	products map[int64]*model.Product
	variants map[int64]*model.ProductVariant

	invLogs []model.InventoryLog

	histories []model.OrderStatusHistory
	histSeq   int64

	notifications []model.Notification
}

func newMemStore() *memStore {
	return &memStore{
		orders:   map[int64]*model.Order{},
		items:    map[int64]*model.OrderItem{},
		payments: map[int64]*model.Payment{},
		refunds:  map[int64]*model.Refund{},
		products: map[int64]*model.Product{},
		variants: map[int64]*model.ProductVariant{},
	}
}

type memRepos struct{ s *memStore }

func (r memRepos) Orders() repo.OrderRepository                  { return memOrders{r.s} }
func (r memRepos) OrderItems() repo.OrderItemRepository          { return memItems{r.s} }
func (r memRepos) Payments() repo.PaymentRepository              { return memPayments{r.s} }
func (r memRepos) Refunds() repo.RefundRepository                { return memRefunds{r.s} }
func (r memRepos) Inventory() repo.InventoryRepository           { return memInventory{r.s} }
func (r memRepos) Products() repo.ProductRepository              { return memProducts{r.s} }
func (r memRepos) StatusHistories() repo.StatusHistoryRepository { return memHistories{r.s} }
func (r memRepos) Notifications() repo.NotificationRepository    { return memNotifications{r.s} }

// ロールバックはしない。テストはエラーの有無だけを見る。
type memTx struct{ s *memStore }

func (t memTx) WithinTx(_ context.Context, fn func(r repo.TxRepos) error) error {
	return fn(memRepos{t.s})
}

// ---- orders ----

type memOrders struct{ s *memStore }

func (m memOrders) FindByID(_ context.Context, id int64) (model.Order, error) {
	o, ok := m.s.orders[id]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return *o, nil
}

func (m memOrders) FindByIDForUpdate(ctx context.Context, id int64) (model.Order, error) {
	return m.FindByID(ctx, id)
}

func (m memOrders) FindByOrderNo(_ context.Context, orderNo string) (model.Order, error) {
	for _, o := range m.s.orders {
		if o.OrderNo == orderNo {
			return *o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (m memOrders) ListByUserID(_ context.Context, userID int64, _ int, _ int) ([]model.Order, int64, error) {
	var out []model.Order
	for _, o := range m.s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	return out, int64(len(out)), nil
}

func (m memOrders) Create(_ context.Context, o model.Order) (int64, error) {
	for _, ex := range m.s.orders {
		// キーの一意性はユーザ単位
		if ex.UserID == o.UserID && ex.IdempotencyKey == o.IdempotencyKey {
			return 0, errors.New("duplicate idempotency key")
		}
		if ex.OrderNo == o.OrderNo {
			return 0, errors.New("duplicate order no")
		}
	}
	m.s.orderSeq++
	o.ID = m.s.orderSeq
	m.s.orders[o.ID] = &o
	return o.ID, nil
}

func (m memOrders) UpdateStatus(_ context.Context, id int64, status model.OrderStatus, stamps map[string]interface{}) error {
	o, ok := m.s.orders[id]
	if !ok {
		return repo.ErrNotFound
	}
	o.Status = status
	for k, v := range stamps {
		switch k {
		case "paid_at":
			t := v.(time.Time)
			o.PaidAt = &t
		case "canceled_at":
			t := v.(time.Time)
			o.CanceledAt = &t
		case "cancel_reason":
			o.CancelReason = v.(string)
		case "finished_at":
			t := v.(time.Time)
			o.FinishedAt = &t
		}
	}
	return nil
}

func (m memOrders) UpdateAmounts(_ context.Context, id int64, total, discount, actual decimal.Decimal) error {
	o, ok := m.s.orders[id]
	if !ok {
		return repo.ErrNotFound
	}
	o.TotalAmount = total
	o.DiscountAmount = discount
	o.ActualAmount = actual
	return nil
}

func (m memOrders) FindByIdempotencyKey(_ context.Context, userID int64, key string) (model.Order, bool, error) {
	for _, o := range m.s.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return *o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (m memOrders) ListAdmin(_ context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	var out []model.Order
	for _, o := range m.s.orders {
		if f.Status != "" && string(o.Status) != f.Status {
			continue
		}
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	return out, int64(len(out)), nil
}

// ---- order items ----

type memItems struct{ s *memStore }

func (m memItems) CreateBulk(_ context.Context, orderID int64, items []model.OrderItem) error {
	for _, it := range items {
		m.s.itemSeq++
		it.ID = m.s.itemSeq
		it.OrderID = orderID
		m.s.items[it.ID] = &it
	}
	return nil
}

func (m memItems) ListByOrderID(_ context.Context, orderID int64) ([]model.OrderItem, error) {
	var out []model.OrderItem
	for _, it := range m.s.items {
		if it.OrderID == orderID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m memItems) UpdateAmounts(_ context.Context, itemID int64, discount, actual decimal.Decimal) error {
	it, ok := m.s.items[itemID]
	if !ok {
		return repo.ErrNotFound
	}
	it.DiscountAmount = discount
	it.ActualAmount = actual
	return nil
}

// ---- payments ----

type memPayments struct{ s *memStore }

func (m memPayments) Create(_ context.Context, p model.Payment) (int64, error) {
	m.s.paySeq++
	p.ID = m.s.paySeq
	m.s.payments[p.ID] = &p
	return p.ID, nil
}

func (m memPayments) FindByIDForUpdate(_ context.Context, id int64) (model.Payment, error) {
	p, ok := m.s.payments[id]
	if !ok {
		return model.Payment{}, repo.ErrNotFound
	}
	return *p, nil
}

func (m memPayments) FindByAttachID(_ context.Context, attachID string) (model.Payment, bool, error) {
	for _, p := range m.s.payments {
		if p.AttachID == attachID {
			return *p, true, nil
		}
	}
	return model.Payment{}, false, nil
}

func (m memPayments) FindLatestByOrderNo(_ context.Context, orderNo string) (model.Payment, bool, error) {
	var latest *model.Payment
	for _, p := range m.s.payments {
		if p.OrderNo == orderNo && (latest == nil || p.ID > latest.ID) {
			latest = p
		}
	}
	if latest == nil {
		return model.Payment{}, false, nil
	}
	return *latest, true, nil
}

func (m memPayments) FindLatestByOrderID(_ context.Context, orderID int64) (model.Payment, bool, error) {
	var latest *model.Payment
	for _, p := range m.s.payments {
		if p.OrderID == orderID && (latest == nil || p.ID > latest.ID) {
			latest = p
		}
	}
	if latest == nil {
		return model.Payment{}, false, nil
	}
	return *latest, true, nil
}

func (m memPayments) UpdateStatus(_ context.Context, id int64, status model.PaymentStatus, stamps map[string]interface{}) error {
	p, ok := m.s.payments[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.Status = status
	for k, v := range stamps {
		switch k {
		case "transaction_id":
			p.TransactionID = v.(string)
		case "succeeded_at":
			t := v.(time.Time)
			p.SucceededAt = &t
		}
	}
	return nil
}

func (m memPayments) SumSucceededByOrderID(_ context.Context, orderID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range m.s.payments {
		if p.OrderID == orderID && p.Status == model.PaymentStatusSucceeded {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (m memPayments) ExistsActive(_ context.Context, orderID int64) (bool, error) {
	for _, p := range m.s.payments {
		if p.OrderID == orderID &&
			(p.Status == model.PaymentStatusProcessing || p.Status == model.PaymentStatusSucceeded) {
			return true, nil
		}
	}
	return false, nil
}

func (m memPayments) AppendLog(_ context.Context, log model.PaymentLog) error {
	m.s.paymentLogs = append(m.s.paymentLogs, log)
	return nil
}

func (m memPayments) ListExpiredActionable(_ context.Context, before time.Time, limit int) ([]model.Payment, error) {
	var out []model.Payment
	for _, p := range m.s.payments {
		if p.Status.Terminal() {
			continue
		}
		if p.ExpiresAt.Before(before) {
			out = append(out, *p)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ---- refunds ----

type memRefunds struct{ s *memStore }

func (m memRefunds) Create(_ context.Context, rf model.Refund) (int64, error) {
	m.s.refundSeq++
	rf.ID = m.s.refundSeq
	m.s.refunds[rf.ID] = &rf
	return rf.ID, nil
}

func (m memRefunds) FindByIDForUpdate(_ context.Context, id int64) (model.Refund, error) {
	rf, ok := m.s.refunds[id]
	if !ok {
		return model.Refund{}, repo.ErrNotFound
	}
	return *rf, nil
}

func (m memRefunds) FindByRefundNo(_ context.Context, refundNo string) (model.Refund, bool, error) {
	for _, rf := range m.s.refunds {
		if rf.RefundNo == refundNo {
			return *rf, true, nil
		}
	}
	return model.Refund{}, false, nil
}

func (m memRefunds) FindLatestActionableByOrderNo(_ context.Context, orderNo string) (model.Refund, bool, error) {
	var latest *model.Refund
	for _, rf := range m.s.refunds {
		if rf.OrderNo != orderNo {
			continue
		}
		if rf.Status != model.RefundStatusPending && rf.Status != model.RefundStatusProcessing {
			continue
		}
		if latest == nil || rf.ID > latest.ID {
			latest = rf
		}
	}
	if latest == nil {
		return model.Refund{}, false, nil
	}
	return *latest, true, nil
}

func (m memRefunds) UpdateStatus(_ context.Context, id int64, status model.RefundStatus, stamps map[string]interface{}) error {
	rf, ok := m.s.refunds[id]
	if !ok {
		return repo.ErrNotFound
	}
	rf.Status = status
	for k, v := range stamps {
		if k == "gateway_refund_id" {
			rf.GatewayRefundID = v.(string)
		}
	}
	return nil
}

func (m memRefunds) SumSucceededByOrderID(_ context.Context, orderID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, rf := range m.s.refunds {
		if rf.OrderID == orderID && rf.Status == model.RefundStatusSucceeded {
			sum = sum.Add(rf.Amount)
		}
	}
	return sum, nil
}

func (m memRefunds) AppendLog(_ context.Context, log model.RefundLog) error {
	m.s.refundLogs = append(m.s.refundLogs, log)
	return nil
}

// ---- inventory ----

type memInventory struct{ s *memStore }

func (m memInventory) currentStock(ref model.ItemRef) (int64, error) {
	if ref.VariantID != nil {
		v, ok := m.s.variants[*ref.VariantID]
		if !ok {
			return 0, repo.ErrNotFound
		}
		return v.Stock, nil
	}
	p, ok := m.s.products[ref.ProductID]
	if !ok {
		return 0, repo.ErrNotFound
	}
	return p.Stock, nil
}

func (m memInventory) setStock(ref model.ItemRef, stock int64) {
	if ref.VariantID != nil {
		m.s.variants[*ref.VariantID].Stock = stock
		return
	}
	m.s.products[ref.ProductID].Stock = stock
}

func (m memInventory) appendLog(ref model.ItemRef, orderID *int64, change model.StockChangeType, qty int64, reason string, actor int64) {
	m.s.invLogs = append(m.s.invLogs, model.InventoryLog{
		ProductID:   ref.ProductID,
		VariantID:   ref.VariantID,
		OrderID:     orderID,
		ChangeType:  change,
		Quantity:    qty,
		Reason:      reason,
		ActorUserID: actor,
	})
}

func (m memInventory) LockStock(_ context.Context, ref model.ItemRef, qty int64, reason string, actor int64, orderID *int64) error {
	cur, err := m.currentStock(ref)
	if err != nil {
		return err
	}
	if cur < qty {
		return &repo.InsufficientStockError{Current: cur, Requested: qty}
	}
	m.setStock(ref, cur-qty)
	m.appendLog(ref, orderID, model.StockChangeLock, -qty, reason, actor)
	return nil
}

func (m memInventory) ReleaseStock(_ context.Context, ref model.ItemRef, qty int64, reason string, actor int64, orderID *int64) error {
	cur, err := m.currentStock(ref)
	if err != nil {
		return err
	}
	m.setStock(ref, cur+qty)
	m.appendLog(ref, orderID, model.StockChangeRelease, qty, reason, actor)
	return nil
}

func (m memInventory) AdjustStock(_ context.Context, ref model.ItemRef, delta int64, reason string, actor int64) error {
	cur, err := m.currentStock(ref)
	if err != nil {
		return err
	}
	if cur+delta < 0 {
		return &repo.NegativeStockError{Current: cur, Delta: delta}
	}
	m.setStock(ref, cur+delta)
	m.appendLog(ref, nil, model.StockChangeAdjust, delta, reason, actor)
	return nil
}

func (m memInventory) NetLockedByOrder(_ context.Context, orderID int64) ([]model.LockedStock, error) {
	type key struct {
		productID int64
		variantID int64
	}
	net := map[key]*model.LockedStock{}
	for _, l := range m.s.invLogs {
		if l.OrderID == nil || *l.OrderID != orderID {
			continue
		}
		if l.ChangeType != model.StockChangeLock && l.ChangeType != model.StockChangeRelease {
			continue
		}
		k := key{productID: l.ProductID}
		if l.VariantID != nil {
			k.variantID = *l.VariantID
		}
		if net[k] == nil {
			net[k] = &model.LockedStock{ProductID: l.ProductID, VariantID: l.VariantID}
		}
		net[k].Quantity -= l.Quantity
	}
	var out []model.LockedStock
	for _, v := range net {
		if v.Quantity > 0 {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ProductID < out[b].ProductID })
	return out, nil
}

func (m memInventory) ListLogs(_ context.Context, productID int64, _ int, _ int) ([]model.InventoryLog, int64, error) {
	var out []model.InventoryLog
	for _, l := range m.s.invLogs {
		if l.ProductID == productID {
			out = append(out, l)
		}
	}
	return out, int64(len(out)), nil
}

// ---- products ----

type memProducts struct{ s *memStore }

func (m memProducts) FindByID(_ context.Context, id int64) (model.Product, error) {
	p, ok := m.s.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return *p, nil
}

func (m memProducts) FindVariantByID(_ context.Context, id int64) (model.ProductVariant, error) {
	v, ok := m.s.variants[id]
	if !ok {
		return model.ProductVariant{}, repo.ErrNotFound
	}
	return *v, nil
}

func (m memProducts) IncrementSales(_ context.Context, productID int64, qty int64) error {
	p, ok := m.s.products[productID]
	if !ok {
		return repo.ErrNotFound
	}
	p.Sales += qty
	return nil
}

// ---- histories ----

type memHistories struct{ s *memStore }

func (m memHistories) Append(_ context.Context, h model.OrderStatusHistory) error {
	m.s.histSeq++
	h.ID = m.s.histSeq
	m.s.histories = append(m.s.histories, h)
	return nil
}

func (m memHistories) ListByOrderID(_ context.Context, orderID int64) ([]model.OrderStatusHistory, error) {
	var out []model.OrderStatusHistory
	for _, h := range m.s.histories {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m memHistories) LatestByToStatus(_ context.Context, orderID int64, to model.OrderStatus) (model.OrderStatusHistory, bool, error) {
	for i := len(m.s.histories) - 1; i >= 0; i-- {
		h := m.s.histories[i]
		if h.OrderID == orderID && h.ToStatus == to {
			return h, true, nil
		}
	}
	return model.OrderStatusHistory{}, false, nil
}

// ---- notifications ----

type memNotifications struct{ s *memStore }

func (m memNotifications) Create(_ context.Context, n model.Notification) error {
	m.s.notifications = append(m.s.notifications, n)
	return nil
}

// =====================
// コラボレータのフェイク
// =====================

type fakeGateway struct {
	prepay       PrepayResult
	prepayErr    error
	refundOK     RefundAccepted
	refundErr    error
	paymentCalls []CreatePaymentInput
	refundCalls  []CreateRefundInput
}

func (g *fakeGateway) CreatePayment(_ context.Context, in CreatePaymentInput) (PrepayResult, error) {
	g.paymentCalls = append(g.paymentCalls, in)
	if g.prepayErr != nil {
		return PrepayResult{}, g.prepayErr
	}
	return g.prepay, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, in CreateRefundInput) (RefundAccepted, error) {
	g.refundCalls = append(g.refundCalls, in)
	if g.refundErr != nil {
		return RefundAccepted{}, g.refundErr
	}
	return g.refundOK, nil
}

type fakeDecoder struct {
	payment    PaymentNotify
	paymentErr error
	refund     RefundNotify
	refundErr  error
}

func (d *fakeDecoder) DecodePaymentNotify(NotifyHeaders, []byte) (PaymentNotify, error) {
	if d.paymentErr != nil {
		return PaymentNotify{}, d.paymentErr
	}
	return d.payment, nil
}

func (d *fakeDecoder) DecodeRefundNotify(NotifyHeaders, []byte) (RefundNotify, error) {
	if d.refundErr != nil {
		return RefundNotify{}, d.refundErr
	}
	return d.refund, nil
}

type notifyCall struct {
	UserID int64
	Title  string
}

type fakeNotifier struct{ calls []notifyCall }

func (n *fakeNotifier) Notify(_ context.Context, userID int64, title, _ string, _ map[string]interface{}) {
	n.calls = append(n.calls, notifyCall{UserID: userID, Title: title})
}

type reverseCall struct {
	UserID  int64
	OrderID int64
	Amount  decimal.Decimal
}

type fakeLedger struct {
	calls []reverseCall
	err   error
}

func (l *fakeLedger) ReversePurchase(_ context.Context, userID, orderID int64, amount decimal.Decimal) error {
	if l.err != nil {
		return l.err
	}
	l.calls = append(l.calls, reverseCall{UserID: userID, OrderID: orderID, Amount: amount})
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// allowAll は制限にかからないリミッター
type allowAllLimiter struct{}

func (allowAllLimiter) Allow(context.Context, string, string, int64, time.Duration) (bool, error) {
	return true, nil
}

// denyAll は常に制限にかかるリミッター
type denyAllLimiter struct{}

func (denyAllLimiter) Allow(context.Context, string, string, int64, time.Duration) (bool, error) {
	return false, nil
}

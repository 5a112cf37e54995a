package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"mall/internal/domain/model"
	repo "mall/internal/repository"

	"github.com/shopspring/decimal"
)

type OrderUsecase struct {
	tx    repo.TransactionManager
	clock Clock
}

func NewOrderUsecase(tx repo.TransactionManager, clock Clock) *OrderUsecase {
	return &OrderUsecase{tx: tx, clock: clock}
}

type PlaceOrderItemInput struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Quantity  int64  `json:"quantity"`
}

type PlaceOrderInput struct {
	Items           []PlaceOrderItemInput
	PayChannel      string
	ReceiverName    string
	ReceiverPhone   string
	ReceiverAddress string
	IdempotencyKey  string
}

type OrderItemOutput struct {
	ProductID int64           `json:"product_id"`
	VariantID *int64          `json:"variant_id,omitempty"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
	Actual    decimal.Decimal `json:"actual_amount"`
}

type OrderOutput struct {
	ID             int64             `json:"id"`
	OrderNo        string            `json:"order_no"`
	UserID         int64             `json:"user_id"`
	Status         string            `json:"status"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	ActualAmount   decimal.Decimal   `json:"actual_amount"`
	CreatedAt      time.Time         `json:"created_at"`
	Items          []OrderItemOutput `json:"items"`
}

func (u *OrderUsecase) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if len(in.Items) == 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "empty items")
	}
	for _, it := range in.Items {
		if it.ProductID <= 0 || it.Quantity <= 0 {
			return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid item")
		}
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency_key")
	}
	if strings.TrimSpace(in.ReceiverName) == "" || strings.TrimSpace(in.ReceiverAddress) == "" {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid receiver")
	}

	channel := model.PayChannelWechat
	if in.PayChannel != "" {
		switch model.PayChannel(in.PayChannel) {
		case model.PayChannelWechat, model.PayChannelCredit:
			channel = model.PayChannel(in.PayChannel)
		default:
			return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid pay_channel")
		}
	}

	var out OrderOutput

	//注文作成と在庫確保は同一トランザクション
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			out = toOrderOutput(existing, items)
			return nil
		}

		now := u.clock.Now()

		//スナップショットを取りつつ合計を出す
		orderItems := make([]model.OrderItem, 0, len(in.Items))
		total := decimal.Zero
		for _, it := range in.Items {
			p, err := r.Products().FindByID(ctx, it.ProductID)
			if err == repo.ErrNotFound {
				return NewHTTPError(http.StatusBadRequest, "invalid product")
			}
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !p.IsActive {
				return NewHTTPError(http.StatusBadRequest, "invalid product")
			}

			price := p.Price
			name := p.Name
			if it.VariantID != nil {
				v, err := r.Products().FindVariantByID(ctx, *it.VariantID)
				if err == repo.ErrNotFound || (err == nil && v.ProductID != it.ProductID) {
					return NewHTTPError(http.StatusBadRequest, "invalid variant")
				}
				if err != nil {
					return NewHTTPError(http.StatusInternalServerError, "db error")
				}
				price = v.Price
				name = p.Name + " " + v.Name
			}

			line := price.Mul(decimal.NewFromInt(it.Quantity))
			orderItems = append(orderItems, model.OrderItem{
				ProductID:            it.ProductID,
				VariantID:            it.VariantID,
				ProductNameSnapshot:  name,
				ProductImageSnapshot: p.ImageURL,
				UnitPriceSnapshot:    price,
				Quantity:             it.Quantity,
				DiscountAmount:       decimal.Zero,
				ActualAmount:         line,
				CreatedAt:            now,
			})
			total = total.Add(line)
		}

		order := model.Order{
			OrderNo:         generateNo("SO"),
			UserID:          userID,
			Status:          model.OrderStatusPending,
			TotalAmount:     total,
			DiscountAmount:  decimal.Zero,
			ActualAmount:    total,
			PayChannel:      channel,
			ReceiverName:    in.ReceiverName,
			ReceiverPhone:   in.ReceiverPhone,
			ReceiverAddress: in.ReceiverAddress,
			IdempotencyKey:  key,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		orderID, err := r.Orders().Create(ctx, order)
		if err != nil {
			//競合（同時で同じキーが入った等）はもう一回検索して同じ結果を返す
			ex2, found2, err2 := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err2 == nil && found2 {
				items2, err3 := r.OrderItems().ListByOrderID(ctx, ex2.ID)
				if err3 != nil {
					return NewHTTPError(http.StatusInternalServerError, "db error")
				}
				out = toOrderOutput(ex2, items2)
				return nil
			}
			return NewHTTPError(http.StatusBadRequest, "idempotency conflict")
		}

		//在庫ロック（行ロックで直列化、足りなければ全体を巻き戻す）
		for _, it := range orderItems {
			ref := model.ItemRef{ProductID: it.ProductID, VariantID: it.VariantID}
			err := r.Inventory().LockStock(ctx, ref, it.Quantity, "order create", userID, &orderID)
			if err != nil {
				if ise, ok := err.(*repo.InsufficientStockError); ok {
					return NewHTTPError(http.StatusBadRequest, ise.Error())
				}
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
		}

		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		//作成の履歴行（fromは空）
		if err := r.StatusHistories().Append(ctx, model.OrderStatusHistory{
			OrderID:     orderID,
			FromStatus:  "",
			ToStatus:    model.OrderStatusPending,
			ActorUserID: userID,
			Note:        "order created",
			CreatedAt:   now,
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		order.ID = orderID
		out = toOrderOutput(order, orderItems)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.ProductNameSnapshot,
			UnitPrice: it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			Actual:    it.ActualAmount,
		})
	}

	return OrderOutput{
		ID:             o.ID,
		OrderNo:        o.OrderNo,
		UserID:         o.UserID,
		Status:         string(o.Status),
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		ActualAmount:   o.ActualAmount,
		CreatedAt:      o.CreatedAt,
		Items:          outItems,
	}
}

// 番号生成（prefix + 時刻 + 乱数6桁）
func generateNo(prefix string) string {
	now := time.Now().Format("20060102150405")
	var b strings.Builder
	for i := 0; i < 6; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteString("0")
			continue
		}
		b.WriteString(fmt.Sprintf("%d", n.Int64()))
	}
	return prefix + now + b.String()
}

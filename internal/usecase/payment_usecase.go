package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mall/internal/domain/model"
	"mall/internal/ratelimit"
	repo "mall/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// コールバックのPayment逆引き。最初に解決できたリゾルバが勝つ。
type PaymentResolver interface {
	Resolve(ctx context.Context, r repo.TxRepos, n PaymentNotify) (model.Payment, bool, error)
}

type attachIDResolver struct{}

func (attachIDResolver) Resolve(ctx context.Context, r repo.TxRepos, n PaymentNotify) (model.Payment, bool, error) {
	if n.AttachID == "" {
		return model.Payment{}, false, nil
	}
	return r.Payments().FindByAttachID(ctx, n.AttachID)
}

type latestByOrderNoResolver struct{}

func (latestByOrderNoResolver) Resolve(ctx context.Context, r repo.TxRepos, n PaymentNotify) (model.Payment, bool, error) {
	if n.OrderNo == "" {
		return model.Payment{}, false, nil
	}
	return r.Payments().FindLatestByOrderNo(ctx, n.OrderNo)
}

func DefaultPaymentResolvers() []PaymentResolver {
	return []PaymentResolver{attachIDResolver{}, latestByOrderNoResolver{}}
}

type PaymentConfig struct {
	MchID string
	AppID string

	// 支払いの有効期限
	PaymentTTL time.Duration

	// 1件あたりの上限額。ゼロ以下なら無制限。
	MaxAmount decimal.Decimal

	// ユーザ単位のクールダウンとIP単位のウィンドウ制限
	UserCooldown time.Duration
	IPWindow     time.Duration
	IPWindowMax  int64
}

type PaymentUsecase struct {
	tx        repo.TransactionManager
	gw        GatewayClient
	decoder   NotifyDecoder
	limiter   ratelimit.Limiter
	notifier  Notifier
	sm        *StateMachine
	clock     Clock
	resolvers []PaymentResolver
	cfg       PaymentConfig
}

func NewPaymentUsecase(
	tx repo.TransactionManager,
	gw GatewayClient,
	decoder NotifyDecoder,
	limiter ratelimit.Limiter,
	notifier Notifier,
	sm *StateMachine,
	clock Clock,
	resolvers []PaymentResolver,
	cfg PaymentConfig,
) *PaymentUsecase {
	return &PaymentUsecase{
		tx:        tx,
		gw:        gw,
		decoder:   decoder,
		limiter:   limiter,
		notifier:  notifier,
		sm:        sm,
		clock:     clock,
		resolvers: resolvers,
		cfg:       cfg,
	}
}

type StartPaymentInput struct {
	OrderID  int64
	ClientIP string
}

type StartPaymentOutput struct {
	PaymentID    int64             `json:"payment_id"`
	PaymentNo    string            `json:"payment_no"`
	Amount       decimal.Decimal   `json:"amount"`
	ExpiresAt    time.Time         `json:"expires_at"`
	ClientParams map[string]string `json:"client_params"`
}

// 支払い開始。行ロック付きの準備→ロック外のゲートウェイ呼び出し→反映の三段構え。
func (u *PaymentUsecase) StartPayment(ctx context.Context, userID int64, in StartPaymentInput) (StartPaymentOutput, error) {
	if userID <= 0 {
		return StartPaymentOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.OrderID <= 0 {
		return StartPaymentOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if err := u.checkRateLimits(ctx, userID, in.ClientIP); err != nil {
		return StartPaymentOutput{}, err
	}

	now := u.clock.Now()

	var payment model.Payment
	var order model.Order

	//準備フェーズ。支払い行を確定してからロックを手放す。
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, in.OrderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.UserID != userID {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if o.Status != model.OrderStatusPending && o.Status != model.OrderStatusPaid {
			return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("order is %s, not payable", o.Status))
		}
		if o.PayChannel != model.PayChannelWechat {
			return NewHTTPError(http.StatusBadRequest, "order is not a gateway order")
		}
		if o.ActualAmount.LessThanOrEqual(decimal.Zero) {
			return NewHTTPError(http.StatusBadRequest, "nothing to pay")
		}
		if u.cfg.MaxAmount.GreaterThan(decimal.Zero) && o.ActualAmount.GreaterThan(u.cfg.MaxAmount) {
			return NewHTTPError(http.StatusBadRequest, "amount exceeds limit")
		}

		// PAIDの注文も通すが、全額入金済みなら新しい支払いは二重請求になる
		settled, err := r.Payments().SumSucceededByOrderID(ctx, o.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if settled.GreaterThanOrEqual(o.ActualAmount) {
			return NewHTTPError(http.StatusBadRequest, "order is already paid in full")
		}
		order = o

		// 生きている支払いがあれば使い回す
		latest, found, err := r.Payments().FindLatestByOrderID(ctx, o.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found && !latest.Status.Terminal() {
			if latest.ExpiresAt.After(now) && latest.Amount.Equal(o.ActualAmount) {
				payment = latest
				return nil
			}
			//期限切れ・金額不一致はここで畳んでから作り直す
			if err := r.Payments().UpdateStatus(ctx, latest.ID, model.PaymentStatusExpired, nil); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if err := r.Payments().AppendLog(ctx, model.PaymentLog{
				PaymentID: latest.ID,
				Event:     "expired",
				Detail:    "superseded before gateway call",
				CreatedAt: now,
			}); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
		}

		p := model.Payment{
			OrderID:   o.ID,
			OrderNo:   o.OrderNo,
			PaymentNo: generateNo("PAY"),
			AttachID:  uuid.NewString(),
			Channel:   o.PayChannel,
			Amount:    o.ActualAmount,
			Status:    model.PaymentStatusInit,
			ExpiresAt: now.Add(u.cfg.PaymentTTL),
			CreatedAt: now,
			UpdatedAt: now,
		}
		id, err := r.Payments().Create(ctx, p)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		p.ID = id
		if err := r.Payments().AppendLog(ctx, model.PaymentLog{
			PaymentID: id,
			Event:     "created",
			Detail:    fmt.Sprintf("amount %s", p.Amount.StringFixed(2)),
			CreatedAt: now,
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		payment = p
		return nil
	})
	if err != nil {
		return StartPaymentOutput{}, err
	}

	// ゲートウェイ呼び出し。DBロックは既に解放済み。
	prepay, gerr := u.gw.CreatePayment(ctx, CreatePaymentInput{
		OrderNo:     order.OrderNo,
		AttachID:    payment.AttachID,
		Amount:      payment.Amount,
		Description: fmt.Sprintf("order %s", order.OrderNo),
		ExpireAt:    payment.ExpiresAt,
		ClientIP:    in.ClientIP,
	})

	if gerr != nil {
		//失敗してもINITのまま残す。後続のリトライか期限切れ掃除に任せる。
		logErr := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			return r.Payments().AppendLog(ctx, model.PaymentLog{
				PaymentID: payment.ID,
				Event:     "gateway_error",
				Detail:    gerr.Error(),
				CreatedAt: u.clock.Now(),
			})
		})
		if logErr != nil {
			slog.Warn("append payment log failed", "payment_id", payment.ID, "error", logErr)
		}
		return StartPaymentOutput{}, &GatewayError{Op: "create payment", Err: gerr}
	}

	//反映フェーズ
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		current, err := r.Payments().FindByIDForUpdate(ctx, payment.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		// コールバックが先に来ていたら触らない
		if current.Status != model.PaymentStatusInit {
			payment = current
			return nil
		}
		if err := r.Payments().UpdateStatus(ctx, payment.ID, model.PaymentStatusProcessing, nil); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if err := r.Payments().AppendLog(ctx, model.PaymentLog{
			PaymentID: payment.ID,
			Event:     "prepay_ok",
			Detail:    prepay.PrepayID,
			CreatedAt: u.clock.Now(),
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		payment.Status = model.PaymentStatusProcessing
		return nil
	})
	if err != nil {
		return StartPaymentOutput{}, err
	}

	return StartPaymentOutput{
		PaymentID:    payment.ID,
		PaymentNo:    payment.PaymentNo,
		Amount:       payment.Amount,
		ExpiresAt:    payment.ExpiresAt,
		ClientParams: prepay.ClientParams,
	}, nil
}

func (u *PaymentUsecase) checkRateLimits(ctx context.Context, userID int64, clientIP string) error {
	if u.limiter == nil {
		return nil
	}
	if u.cfg.UserCooldown > 0 {
		ok, err := u.limiter.Allow(ctx, "pay:user", fmt.Sprintf("%d", userID), 1, u.cfg.UserCooldown)
		if err != nil {
			slog.Warn("rate limit check failed", "error", err)
		} else if !ok {
			return NewHTTPError(http.StatusTooManyRequests, "too many payment attempts")
		}
	}
	if u.cfg.IPWindow > 0 && u.cfg.IPWindowMax > 0 && clientIP != "" {
		ok, err := u.limiter.Allow(ctx, "pay:ip", clientIP, u.cfg.IPWindowMax, u.cfg.IPWindow)
		if err != nil {
			slog.Warn("rate limit check failed", "error", err)
		} else if !ok {
			return NewHTTPError(http.StatusTooManyRequests, "too many payment attempts")
		}
	}
	return nil
}

// 返金可能額 = 成功した支払いの合計 − 成功済み返金の合計（下限0）
func refundableAmount(ctx context.Context, r repo.TxRepos, orderID int64) (decimal.Decimal, error) {
	paid, err := r.Payments().SumSucceededByOrderID(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	refunded, err := r.Refunds().SumSucceededByOrderID(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	rest := paid.Sub(refunded)
	if rest.LessThan(decimal.Zero) {
		return decimal.Zero, nil
	}
	return rest, nil
}

func (u *PaymentUsecase) RefundableAmount(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		amount, err = refundableAmount(ctx, r, orderID)
		return err
	})
	return amount, err
}

type StartRefundInput struct {
	OrderID int64
	// ゼロなら返金可能額の全額
	Amount decimal.Decimal
	Reason string
}

type StartRefundOutput struct {
	RefundID int64           `json:"refund_id"`
	RefundNo string          `json:"refund_no"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status"`
}

// ゲートウェイ返金の開始。予約→ロック外の呼び出し→反映の三段構え。
// 成功しても返金自体は非同期で、確定はコールバックで行う。
func (u *PaymentUsecase) StartOrderRefund(ctx context.Context, actorUserID int64, in StartRefundInput) (StartRefundOutput, error) {
	if in.OrderID <= 0 {
		return StartRefundOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	now := u.clock.Now()

	var refund model.Refund
	var order model.Order
	var total decimal.Decimal

	// 予約フェーズ。PENDINGの返金行と注文のREFUNDING遷移をまとめて確定する。
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, in.OrderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.PayChannel != model.PayChannelWechat {
			return NewHTTPError(http.StatusBadRequest, "order is not a gateway order")
		}

		// 進行中の返金があれば新規は受けない
		if existing, found, err := r.Refunds().FindLatestActionableByOrderNo(ctx, o.OrderNo); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		} else if found {
			return NewHTTPError(http.StatusConflict, fmt.Sprintf("refund %s already in progress", existing.RefundNo))
		}

		refundable, err := refundableAmount(ctx, r, o.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if refundable.LessThanOrEqual(decimal.Zero) {
			return NewHTTPError(http.StatusBadRequest, "nothing to refund")
		}

		amount := in.Amount
		if amount.LessThanOrEqual(decimal.Zero) {
			amount = refundable
		}
		if amount.GreaterThan(refundable) {
			return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("amount exceeds refundable %s", refundable.StringFixed(2)))
		}

		var paymentID *int64
		if p, found, err := r.Payments().FindLatestByOrderID(ctx, o.ID); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		} else if found && p.Status == model.PaymentStatusSucceeded {
			paymentID = &p.ID
		}

		rf := model.Refund{
			OrderID:   o.ID,
			OrderNo:   o.OrderNo,
			PaymentID: paymentID,
			RefundNo:  generateNo("RF"),
			Channel:   o.PayChannel,
			Amount:    amount,
			Status:    model.RefundStatusPending,
			Reason:    in.Reason,
			CreatedAt: now,
			UpdatedAt: now,
		}
		id, err := r.Refunds().Create(ctx, rf)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		rf.ID = id
		if err := r.Refunds().AppendLog(ctx, model.RefundLog{
			RefundID:  id,
			Event:     "created",
			Detail:    fmt.Sprintf("amount %s", amount.StringFixed(2)),
			CreatedAt: now,
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		if o.Status.CanTransitionTo(model.OrderStatusRefunding) {
			updated, err := u.sm.Transition(ctx, r, o, model.OrderStatusRefunding, actorUserID, "refund "+rf.RefundNo)
			if err != nil {
				return err
			}
			o = updated
		}

		refund = rf
		order = o
		total = o.ActualAmount
		return nil
	})
	if err != nil {
		return StartRefundOutput{}, err
	}

	// ゲートウェイ呼び出し。ここはロック外。
	accepted, gerr := u.gw.CreateRefund(ctx, CreateRefundInput{
		RefundNo: refund.RefundNo,
		OrderNo:  order.OrderNo,
		Amount:   refund.Amount,
		Total:    total,
		Reason:   in.Reason,
	})

	if gerr != nil {
		//失敗を反映して注文を巻き戻す
		ferr := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			if err := r.Refunds().UpdateStatus(ctx, refund.ID, model.RefundStatusFailed, nil); err != nil {
				return err
			}
			if err := r.Refunds().AppendLog(ctx, model.RefundLog{
				RefundID:  refund.ID,
				Event:     "gateway_error",
				Detail:    gerr.Error(),
				CreatedAt: u.clock.Now(),
			}); err != nil {
				return err
			}
			o, err := r.Orders().FindByIDForUpdate(ctx, order.ID)
			if err != nil {
				return err
			}
			_, err = u.sm.RollbackRefunding(ctx, r, o, actorUserID, "refund request failed")
			return err
		})
		if ferr != nil {
			slog.Error("refund failure reconcile failed", "refund_id", refund.ID, "error", ferr)
		}
		return StartRefundOutput{}, &GatewayError{Op: "create refund", Err: gerr}
	}

	// 反映フェーズ
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		current, err := r.Refunds().FindByIDForUpdate(ctx, refund.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		// コールバックが先に確定させていたら触らない
		if current.Status != model.RefundStatusPending {
			refund = current
			return nil
		}
		stamps := map[string]interface{}{}
		if accepted.GatewayRefundID != "" {
			stamps["gateway_refund_id"] = accepted.GatewayRefundID
		}
		if err := r.Refunds().UpdateStatus(ctx, refund.ID, model.RefundStatusProcessing, stamps); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if err := r.Refunds().AppendLog(ctx, model.RefundLog{
			RefundID:  refund.ID,
			Event:     "accepted",
			Detail:    accepted.GatewayRefundID,
			CreatedAt: u.clock.Now(),
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		refund.Status = model.RefundStatusProcessing
		refund.GatewayRefundID = accepted.GatewayRefundID
		return nil
	})
	if err != nil {
		return StartRefundOutput{}, err
	}

	return StartRefundOutput{
		RefundID: refund.ID,
		RefundNo: refund.RefundNo,
		Amount:   refund.Amount,
		Status:   string(refund.Status),
	}, nil
}

// 支払いコールバック。何度届いても結果は一度しか適用しない。
func (u *PaymentUsecase) ProcessPaymentNotify(ctx context.Context, h NotifyHeaders, body []byte) error {
	n, err := u.decoder.DecodePaymentNotify(h, body)
	if err != nil {
		return NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	if n.MchID != u.cfg.MchID || n.AppID != u.cfg.AppID {
		return NewHTTPError(http.StatusBadRequest, "merchant mismatch")
	}

	var notifyUserID int64
	var notifyOrderNo string

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var payment model.Payment
		resolved := false
		for _, res := range u.resolvers {
			p, found, err := res.Resolve(ctx, r, n)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if found {
				payment = p
				resolved = true
				break
			}
		}
		if !resolved {
			return NewHTTPError(http.StatusNotFound, "payment not found")
		}

		// 金額不一致は状態を動かさずに拒否する
		if !n.Amount.Equal(payment.Amount) {
			return NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("amount mismatch, expected %s got %s", payment.Amount.StringFixed(2), n.Amount.StringFixed(2)))
		}

		if n.TradeState != TradeStateSuccess {
			// 成功以外は記録だけして受領
			if err := r.Payments().AppendLog(ctx, model.PaymentLog{
				PaymentID: payment.ID,
				Event:     "notify_ignored",
				Detail:    fmt.Sprintf("trade_state %s", n.TradeState),
				CreatedAt: u.clock.Now(),
			}); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			return nil
		}

		// 再配達は即受領
		if payment.Status == model.PaymentStatusSucceeded {
			return nil
		}

		locked, err := r.Payments().FindByIDForUpdate(ctx, payment.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if locked.Status == model.PaymentStatusSucceeded {
			return nil
		}
		if locked.Status.Terminal() {
			// 失敗・取消済みの支払いに成功通知が来ても動かさない
			if err := r.Payments().AppendLog(ctx, model.PaymentLog{
				PaymentID: locked.ID,
				Event:     "notify_ignored",
				Detail:    fmt.Sprintf("payment already %s", locked.Status),
				CreatedAt: u.clock.Now(),
			}); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			return nil
		}

		now := u.clock.Now()

		// 期限切れ後に届いた成功通知は支払いを畳むだけ（入金側の処理は運用対応）
		if now.After(locked.ExpiresAt) {
			if err := r.Payments().UpdateStatus(ctx, locked.ID, model.PaymentStatusExpired, nil); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if err := r.Payments().AppendLog(ctx, model.PaymentLog{
				PaymentID: locked.ID,
				Event:     "notify_after_expiry",
				Detail:    n.TransactionID,
				CreatedAt: now,
			}); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			return nil
		}

		if err := r.Payments().UpdateStatus(ctx, locked.ID, model.PaymentStatusSucceeded, map[string]interface{}{
			"transaction_id": n.TransactionID,
			"succeeded_at":   now,
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if err := r.Payments().AppendLog(ctx, model.PaymentLog{
			PaymentID: locked.ID,
			Event:     "succeeded",
			Detail:    n.TransactionID,
			CreatedAt: now,
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		o, err := r.Orders().FindByIDForUpdate(ctx, locked.OrderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.Status == model.OrderStatusPending {
			if _, err := u.sm.Transition(ctx, r, o, model.OrderStatusPaid, 0, "payment succeeded"); err != nil {
				return err
			}
		}

		notifyUserID = o.UserID
		notifyOrderNo = o.OrderNo
		return nil
	})
	if err != nil {
		return err
	}

	if notifyUserID > 0 && u.notifier != nil {
		u.notifier.Notify(ctx, notifyUserID, "payment received",
			fmt.Sprintf("order %s has been paid", notifyOrderNo),
			map[string]interface{}{"order_no": notifyOrderNo})
	}
	return nil
}

// 返金コールバック。成功で確定、closed/abnormalで失敗＋注文の巻き戻し。
func (u *PaymentUsecase) ProcessRefundNotify(ctx context.Context, h NotifyHeaders, body []byte) error {
	n, err := u.decoder.DecodeRefundNotify(h, body)
	if err != nil {
		return NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	if n.MchID != u.cfg.MchID {
		return NewHTTPError(http.StatusBadRequest, "merchant mismatch")
	}

	var notifyUserID int64
	var notifyOrderNo string
	var notifyTitle, notifyBody string

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		refund, found, err := r.Refunds().FindByRefundNo(ctx, n.RefundNo)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !found {
			// 番号で引けなければ注文番号の進行中返金にフォールバック
			refund, found, err = r.Refunds().FindLatestActionableByOrderNo(ctx, n.OrderNo)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !found {
				return NewHTTPError(http.StatusNotFound, "refund not found")
			}
		}

		locked, err := r.Refunds().FindByIDForUpdate(ctx, refund.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		// 再配達は即受領
		if locked.Status == model.RefundStatusSucceeded || locked.Status == model.RefundStatusFailed {
			return nil
		}

		now := u.clock.Now()

		switch n.RefundStatus {
		case RefundStateSuccess:
			stamps := map[string]interface{}{}
			if n.GatewayRefundID != "" {
				stamps["gateway_refund_id"] = n.GatewayRefundID
			}
			if err := r.Refunds().UpdateStatus(ctx, locked.ID, model.RefundStatusSucceeded, stamps); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if err := r.Refunds().AppendLog(ctx, model.RefundLog{
				RefundID:  locked.ID,
				Event:     "succeeded",
				Detail:    n.GatewayRefundID,
				CreatedAt: now,
			}); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}

			o, err := r.Orders().FindByIDForUpdate(ctx, locked.OrderID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if o.Status == model.OrderStatusRefunding {
				refunded, err := r.Refunds().SumSucceededByOrderID(ctx, o.ID)
				if err != nil {
					return NewHTTPError(http.StatusInternalServerError, "db error")
				}
				// 全額戻ったらREFUNDED、部分ならREFUNDINGのまま
				if refunded.GreaterThanOrEqual(o.ActualAmount) {
					if _, err := u.sm.Transition(ctx, r, o, model.OrderStatusRefunded, 0, "refund completed"); err != nil {
						return err
					}
				}
			}

			notifyUserID = o.UserID
			notifyOrderNo = o.OrderNo
			notifyTitle = "refund completed"
			notifyBody = fmt.Sprintf("refund of %s for order %s has been completed", locked.Amount.StringFixed(2), o.OrderNo)
			return nil

		case RefundStateClosed, RefundStateAbnormal:
			if err := r.Refunds().UpdateStatus(ctx, locked.ID, model.RefundStatusFailed, nil); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if err := r.Refunds().AppendLog(ctx, model.RefundLog{
				RefundID:  locked.ID,
				Event:     "failed",
				Detail:    fmt.Sprintf("refund_status %s", n.RefundStatus),
				CreatedAt: now,
			}); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}

			o, err := r.Orders().FindByIDForUpdate(ctx, locked.OrderID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if _, err := u.sm.RollbackRefunding(ctx, r, o, 0, "refund "+locked.RefundNo+" failed"); err != nil {
				return err
			}

			notifyUserID = o.UserID
			notifyOrderNo = o.OrderNo
			notifyTitle = "refund failed"
			notifyBody = fmt.Sprintf("refund for order %s failed, please contact support", o.OrderNo)
			return nil

		default:
			// 未知のステータスは記録だけして受領
			if err := r.Refunds().AppendLog(ctx, model.RefundLog{
				RefundID:  locked.ID,
				Event:     "notify_ignored",
				Detail:    fmt.Sprintf("refund_status %s", n.RefundStatus),
				CreatedAt: now,
			}); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			return nil
		}
	})
	if err != nil {
		return err
	}

	if notifyUserID > 0 && u.notifier != nil {
		u.notifier.Notify(ctx, notifyUserID, notifyTitle, notifyBody,
			map[string]interface{}{"order_no": notifyOrderNo})
	}
	return nil
}

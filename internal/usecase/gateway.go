package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ゲートウェイへの支払い作成リクエスト
type CreatePaymentInput struct {
	OrderNo     string
	AttachID    string
	Amount      decimal.Decimal
	Description string
	ExpireAt    time.Time
	ClientIP    string
}

// クライアントへ返す、再署名済みの支払いパラメータ
type PrepayResult struct {
	PrepayID     string
	ClientParams map[string]string
}

type CreateRefundInput struct {
	RefundNo string
	OrderNo  string
	Amount   decimal.Decimal
	Total    decimal.Decimal
	Reason   string
}

type RefundAccepted struct {
	GatewayRefundID string
}

// 外部決済ゲートウェイへの送信側
type GatewayClient interface {
	CreatePayment(ctx context.Context, in CreatePaymentInput) (PrepayResult, error)
	CreateRefund(ctx context.Context, in CreateRefundInput) (RefundAccepted, error)
}

// Webhookの転送層ヘッダ
type NotifyHeaders struct {
	Timestamp string
	Nonce     string
	Signature string
	Serial    string
}

const (
	TradeStateSuccess = "SUCCESS"

	RefundStateSuccess  = "SUCCESS"
	RefundStateClosed   = "CLOSED"
	RefundStateAbnormal = "ABNORMAL"
)

// 署名検証・復号済みの支払いコールバック
type PaymentNotify struct {
	MchID         string
	AppID         string
	OrderNo       string
	TransactionID string
	TradeState    string
	Amount        decimal.Decimal
	AttachID      string
}

// 署名検証・復号済みの返金コールバック
type RefundNotify struct {
	MchID           string
	RefundNo        string
	GatewayRefundID string
	OrderNo         string
	RefundStatus    string
	Amount          decimal.Decimal
}

// 検証と復号だけをやる受信側。解決や状態更新はusecaseの仕事。
type NotifyDecoder interface {
	DecodePaymentNotify(h NotifyHeaders, body []byte) (PaymentNotify, error)
	DecodeRefundNotify(h NotifyHeaders, body []byte) (RefundNotify, error)
}

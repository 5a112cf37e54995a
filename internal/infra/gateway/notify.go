package gateway

import (
	"encoding/json"
	"fmt"

	"mall/internal/usecase"

	"github.com/shopspring/decimal"
)

// Webhookの署名検証と復号。usecase.NotifyDecoderを実装する。
type Decoder struct {
	verifier *Verifier
	aead     *AEAD
}

func NewDecoder(verifier *Verifier, aead *AEAD) *Decoder {
	return &Decoder{verifier: verifier, aead: aead}
}

type notifyEnvelope struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		Algorithm      string `json:"algorithm"`
		Ciphertext     string `json:"ciphertext"`
		Nonce          string `json:"nonce"`
		AssociatedData string `json:"associated_data"`
	} `json:"resource"`
}

func (d *Decoder) decrypt(h usecase.NotifyHeaders, body []byte) ([]byte, error) {
	if err := d.verifier.Verify(h.Timestamp, h.Nonce, body, h.Signature); err != nil {
		return nil, err
	}

	var env notifyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode notify envelope: %w", err)
	}
	return d.aead.Decrypt(env.Resource.Nonce, env.Resource.AssociatedData, env.Resource.Ciphertext)
}

type paymentResourceJSON struct {
	MchID         string `json:"mchid"`
	AppID         string `json:"appid"`
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	Attach        string `json:"attach"`
	Amount        struct {
		Total int64 `json:"total"`
	} `json:"amount"`
}

func (d *Decoder) DecodePaymentNotify(h usecase.NotifyHeaders, body []byte) (usecase.PaymentNotify, error) {
	plain, err := d.decrypt(h, body)
	if err != nil {
		return usecase.PaymentNotify{}, err
	}

	var res paymentResourceJSON
	if err := json.Unmarshal(plain, &res); err != nil {
		return usecase.PaymentNotify{}, fmt.Errorf("decode payment resource: %w", err)
	}

	return usecase.PaymentNotify{
		MchID:         res.MchID,
		AppID:         res.AppID,
		OrderNo:       res.OutTradeNo,
		TransactionID: res.TransactionID,
		TradeState:    res.TradeState,
		Amount:        decimal.New(res.Amount.Total, -2),
		AttachID:      res.Attach,
	}, nil
}

type refundResourceJSON struct {
	MchID       string `json:"mchid"`
	OutRefundNo string `json:"out_refund_no"`
	RefundID    string `json:"refund_id"`
	OutTradeNo  string `json:"out_trade_no"`
	RefundState string `json:"refund_status"`
	Amount      struct {
		Refund int64 `json:"refund"`
	} `json:"amount"`
}

func (d *Decoder) DecodeRefundNotify(h usecase.NotifyHeaders, body []byte) (usecase.RefundNotify, error) {
	plain, err := d.decrypt(h, body)
	if err != nil {
		return usecase.RefundNotify{}, err
	}

	var res refundResourceJSON
	if err := json.Unmarshal(plain, &res); err != nil {
		return usecase.RefundNotify{}, fmt.Errorf("decode refund resource: %w", err)
	}

	return usecase.RefundNotify{
		MchID:           res.MchID,
		RefundNo:        res.OutRefundNo,
		GatewayRefundID: res.RefundID,
		OrderNo:         res.OutTradeNo,
		RefundStatus:    res.RefundState,
		Amount:          decimal.New(res.Amount.Refund, -2),
	}, nil
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mall/internal/usecase"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Config struct {
	BaseURL   string
	MchID     string
	AppID     string
	NotifyURL string
}

// 送信側のゲートウェイクライアント。usecase.GatewayClientを実装する。
type Client struct {
	cfg    Config
	signer *Signer
	http   *http.Client
}

func NewClient(cfg Config, signer *Signer, timeout time.Duration) *Client {
	return &Client{
		cfg:    cfg,
		signer: signer,
		http:   &http.Client{Timeout: timeout},
	}
}

type amountJSON struct {
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type createPaymentJSON struct {
	AppID       string     `json:"appid"`
	MchID       string     `json:"mchid"`
	Description string     `json:"description"`
	OutTradeNo  string     `json:"out_trade_no"`
	Attach      string     `json:"attach"`
	NotifyURL   string     `json:"notify_url"`
	TimeExpire  string     `json:"time_expire"`
	Amount      amountJSON `json:"amount"`
	SceneInfo   struct {
		PayerClientIP string `json:"payer_client_ip"`
	} `json:"scene_info"`
}

type prepayJSON struct {
	PrepayID string `json:"prepay_id"`
}

func (c *Client) CreatePayment(ctx context.Context, in usecase.CreatePaymentInput) (usecase.PrepayResult, error) {
	body := createPaymentJSON{
		AppID:       c.cfg.AppID,
		MchID:       c.cfg.MchID,
		Description: in.Description,
		OutTradeNo:  in.OrderNo,
		Attach:      in.AttachID,
		NotifyURL:   c.cfg.NotifyURL + "/payments/notify",
		TimeExpire:  in.ExpireAt.Format(time.RFC3339),
		Amount: amountJSON{
			Total:    toCents(in.Amount),
			Currency: "CNY",
		},
	}
	body.SceneInfo.PayerClientIP = in.ClientIP

	raw, err := c.post(ctx, "/v3/pay/transactions/jsapi", body)
	if err != nil {
		return usecase.PrepayResult{}, err
	}

	var resp prepayJSON
	if err := json.Unmarshal(raw, &resp); err != nil {
		return usecase.PrepayResult{}, fmt.Errorf("decode prepay response: %w", err)
	}
	if resp.PrepayID == "" {
		return usecase.PrepayResult{}, fmt.Errorf("prepay response missing prepay_id")
	}

	params, err := c.clientParams(resp.PrepayID)
	if err != nil {
		return usecase.PrepayResult{}, err
	}
	return usecase.PrepayResult{PrepayID: resp.PrepayID, ClientParams: params}, nil
}

// クライアント用の再署名。対象は appid\ntimestamp\nnonce\npackage\n
func (c *Client) clientParams(prepayID string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := uuid.NewString()
	pkg := "prepay_id=" + prepayID

	sig, err := c.signer.Sign(c.cfg.AppID + "\n" + timestamp + "\n" + nonce + "\n" + pkg + "\n")
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"appId":     c.cfg.AppID,
		"timeStamp": timestamp,
		"nonceStr":  nonce,
		"package":   pkg,
		"signType":  "RSA",
		"paySign":   sig,
	}, nil
}

type refundAmountJSON struct {
	Refund   int64  `json:"refund"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type createRefundJSON struct {
	OutRefundNo string           `json:"out_refund_no"`
	OutTradeNo  string           `json:"out_trade_no"`
	Reason      string           `json:"reason"`
	NotifyURL   string           `json:"notify_url"`
	Amount      refundAmountJSON `json:"amount"`
}

type refundRespJSON struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

func (c *Client) CreateRefund(ctx context.Context, in usecase.CreateRefundInput) (usecase.RefundAccepted, error) {
	body := createRefundJSON{
		OutRefundNo: in.RefundNo,
		OutTradeNo:  in.OrderNo,
		Reason:      in.Reason,
		NotifyURL:   c.cfg.NotifyURL + "/refunds/notify",
		Amount: refundAmountJSON{
			Refund:   toCents(in.Amount),
			Total:    toCents(in.Total),
			Currency: "CNY",
		},
	}

	raw, err := c.post(ctx, "/v3/refund/domestic/refunds", body)
	if err != nil {
		return usecase.RefundAccepted{}, err
	}

	var resp refundRespJSON
	if err := json.Unmarshal(raw, &resp); err != nil {
		return usecase.RefundAccepted{}, fmt.Errorf("decode refund response: %w", err)
	}
	return usecase.RefundAccepted{GatewayRefundID: resp.RefundID}, nil
}

// 署名付きPOST。2xx以外はレスポンス本文ごとエラーにする。
func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := uuid.NewString()
	authz, err := c.signer.AuthorizationHeader(http.MethodPost, path, timestamp, nonce, string(raw))
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", authz)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway returned %d for %s: %s", resp.StatusCode, path, string(respBody))
	}
	return respBody, nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

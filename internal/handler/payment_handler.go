package handler

import (
	"io"
	"net/http"
	"strconv"

	"mall/internal/config"
	"mall/internal/middleware"
	"mall/internal/usecase"

	"github.com/labstack/echo/v4"
)

type PaymentHandler struct {
	uc *usecase.PaymentUsecase
}

func NewPaymentHandler(uc *usecase.PaymentUsecase) *PaymentHandler {
	return &PaymentHandler{uc: uc}
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/orders")
	g.Use(middleware.AuthJWT(cfg))
	g.POST("/:id/payment", h.startPayment)

	//コールバックは認証なし。署名検証がゲートキーパー。
	e.POST("/payments/notify", h.paymentNotify)
	e.POST("/refunds/notify", h.refundNotify)
}

func (h *PaymentHandler) startPayment(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.uc.StartPayment(c.Request().Context(), userID, usecase.StartPaymentInput{
		OrderID:  id,
		ClientIP: c.RealIP(),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// ゲートウェイが期待する応答形式
type notifyAck struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func notifyHeadersFrom(c echo.Context) usecase.NotifyHeaders {
	req := c.Request()
	return usecase.NotifyHeaders{
		Timestamp: req.Header.Get("Wechatpay-Timestamp"),
		Nonce:     req.Header.Get("Wechatpay-Nonce"),
		Signature: req.Header.Get("Wechatpay-Signature"),
		Serial:    req.Header.Get("Wechatpay-Serial"),
	}
}

func writeNotifyError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	msg := "internal error"
	if he, ok := usecase.AsHTTPError(err); ok {
		status = he.Status
		msg = he.Message
	}
	return c.JSON(status, notifyAck{Code: "FAIL", Message: msg})
}

func (h *PaymentHandler) paymentNotify(c echo.Context) error {
	//署名対象は生のボディ。Bindを通すと順序が壊れるので読み切る。
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, notifyAck{Code: "FAIL", Message: "read body"})
	}

	if err := h.uc.ProcessPaymentNotify(c.Request().Context(), notifyHeadersFrom(c), body); err != nil {
		return writeNotifyError(c, err)
	}
	return c.JSON(http.StatusOK, notifyAck{Code: "SUCCESS"})
}

func (h *PaymentHandler) refundNotify(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, notifyAck{Code: "FAIL", Message: "read body"})
	}

	if err := h.uc.ProcessRefundNotify(c.Request().Context(), notifyHeadersFrom(c), body); err != nil {
		return writeNotifyError(c, err)
	}
	return c.JSON(http.StatusOK, notifyAck{Code: "SUCCESS"})
}

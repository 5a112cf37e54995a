package usecase

import (
	"errors"
	"fmt"

	"mall/internal/domain/model"
)

type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// 遷移表に無い遷移。現在地から行ける先も持たせる。
type IllegalTransitionError struct {
	From    model.OrderStatus
	Target  model.OrderStatus
	Allowed []model.OrderStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s, allowed targets %v", e.From, e.Target, e.Allowed)
}

// ゲートウェイ呼び出しの失敗。ローカル状態は壊さずに呼び出し元へ返す。
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

package server

import (
	"mall/internal/config"
	"mall/internal/handler"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type Handlers struct {
	Orders     *handler.OrderHandler
	Payments   *handler.PaymentHandler
	AdminOrder *handler.AdminOrderHandler
}

func Start(addr string, cfg config.Config, h Handlers) error {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	registerRoutes(e, cfg, h)

	return e.Start(addr)
}

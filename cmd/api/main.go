package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"mall/internal/config"
	"mall/internal/domain/model"
	"mall/internal/handler"
	"mall/internal/infra/cache"
	"mall/internal/infra/credit"
	"mall/internal/infra/db"
	"mall/internal/infra/gateway"
	"mall/internal/infra/notify"
	infraRepo "mall/internal/infra/repository"
	"mall/internal/ratelimit"
	"mall/internal/server"
	"mall/internal/usecase"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	//.envは無ければ環境変数だけで動かす
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using environment")
	}

	logLevel := slog.LevelInfo
	if os.Getenv("GO_ENV") == "dev" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}

	//DB接続
	gormDB, err := db.Connect()
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	if err := gormDB.AutoMigrate(
		&model.Product{},
		&model.ProductVariant{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderStatusHistory{},
		&model.Payment{},
		&model.PaymentLog{},
		&model.Refund{},
		&model.RefundLog{},
		&model.InventoryLog{},
		&model.Notification{},
		&model.Wallet{},
		&model.WalletTransaction{},
	); err != nil {
		slog.Error("migrate failed", "error", err)
		os.Exit(1)
	}

	//ゲートウェイ部品（署名・検証・復号）
	privateKeyPEM, err := os.ReadFile(cfg.GatewayPrivateKeyPath)
	if err != nil {
		slog.Error("read gateway private key failed", "error", err)
		os.Exit(1)
	}
	publicKeyPEM, err := os.ReadFile(cfg.GatewayPublicKeyPath)
	if err != nil {
		slog.Error("read gateway public key failed", "error", err)
		os.Exit(1)
	}

	signer, err := gateway.NewSigner(cfg.GatewayMchID, cfg.GatewayKeySerial, privateKeyPEM)
	if err != nil {
		slog.Error("build signer failed", "error", err)
		os.Exit(1)
	}
	verifier, err := gateway.NewVerifier(publicKeyPEM)
	if err != nil {
		slog.Error("build verifier failed", "error", err)
		os.Exit(1)
	}
	aead, err := gateway.NewAEAD(cfg.GatewayAPIv3Key)
	if err != nil {
		slog.Error("build aead failed", "error", err)
		os.Exit(1)
	}

	gwClient := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.GatewayBaseURL,
		MchID:     cfg.GatewayMchID,
		AppID:     cfg.GatewayAppID,
		NotifyURL: cfg.GatewayNotifyURL,
	}, signer, 10*time.Second)
	decoder := gateway.NewDecoder(verifier, aead)

	//レート制限。Redisが無い環境ではインメモリで代用する。
	var counterStore cache.CounterStore
	if cfg.RedisAddr != "" {
		counterStore = cache.NewRedisCounterStore(cfg.RedisAddr, "mall")
	} else {
		slog.Warn("REDIS_ADDR not set, using in-memory rate limit counters")
		counterStore = ratelimit.NewMemoryCounterStore()
	}
	limiter := ratelimit.NewFixedWindowLimiter(counterStore)

	//DI
	txm := infraRepo.NewTxManagerGorm(gormDB)
	clock := usecase.RealClock{}
	sm := usecase.NewStateMachine(clock)
	notifier := notify.NewRepoNotifier(txm)
	ledger := credit.NewGormLedger(gormDB)

	maxAmount := decimal.Zero
	if cfg.PayMaxAmount.GreaterThan(decimal.Zero) {
		maxAmount = cfg.PayMaxAmount
	}

	orderUC := usecase.NewOrderUsecase(txm, clock)
	paymentUC := usecase.NewPaymentUsecase(
		txm, gwClient, decoder, limiter, notifier, sm, clock,
		usecase.DefaultPaymentResolvers(),
		usecase.PaymentConfig{
			MchID:        cfg.GatewayMchID,
			AppID:        cfg.GatewayAppID,
			PaymentTTL:   time.Duration(cfg.PaymentTTLMinutes) * time.Minute,
			MaxAmount:    maxAmount,
			UserCooldown: time.Duration(cfg.PayUserCooldownSeconds) * time.Second,
			IPWindow:     time.Duration(cfg.PayIPWindowSeconds) * time.Second,
			IPWindowMax:  cfg.PayIPWindowMax,
		},
	)
	cancelUC := usecase.NewCancelUsecase(txm, paymentUC, ledger, notifier, sm, clock)
	adminUC := usecase.NewAdminOrderUsecase(txm, paymentUC, notifier, sm, clock)

	//期限切れ支払いの掃除
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			n, err := cancelUC.CancelExpired(context.Background(), 100)
			if err != nil {
				slog.Warn("expire sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired payments swept", "count", n)
			}
		}
	}()

	h := server.Handlers{
		Orders:     handler.NewOrderHandler(orderUC, cancelUC),
		Payments:   handler.NewPaymentHandler(paymentUC),
		AdminOrder: handler.NewAdminOrderHandler(adminUC, cancelUC),
	}

	addr := ":" + cfg.Port
	if cfg.Port[0] == ':' {
		addr = cfg.Port
	}

	slog.Info("server starting", "addr", addr)
	if err := server.Start(addr, cfg, h); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

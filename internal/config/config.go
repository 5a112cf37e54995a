package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5432）

	JWTSecret string // JWT署名シークレット

	GoEnv string // dev/prod

	RedisAddr string // レート制限カウンタ用（host:port）

	// 決済ゲートウェイ
	GatewayBaseURL        string // ゲートウェイのベースURL
	GatewayMchID          string // マーチャントID
	GatewayAppID          string // アプリID
	GatewayAPIv3Key       string // Webhook復号キー（32バイト）
	GatewayPrivateKeyPath string // 署名用RSA秘密鍵（PEM）
	GatewayKeySerial      string // マーチャント証明書シリアル
	GatewayPublicKeyPath  string // Webhook検証用の公開鍵/証明書（PEM）
	GatewayNotifyURL      string // コールバック受け口のベースURL

	PaymentTTLMinutes      int             // 支払い有効期限（分）
	PayMaxAmount           decimal.Decimal // 1件あたりの上限額（0で無制限）
	PayUserCooldownSeconds int             // ユーザ単位のクールダウン（秒）
	PayIPWindowSeconds     int             // IP単位のウィンドウ（秒）
	PayIPWindowMax         int64           // ウィンドウ内の上限回数
}

// Loadは環境変数
func Load() (Config, error) {
	pgPort, err := mustAtoi("POSTGRES_PORT")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port: os.Getenv("PORT"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     pgPort,

		JWTSecret: os.Getenv("JWT_SECRET"),

		GoEnv: os.Getenv("GO_ENV"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		GatewayBaseURL:        os.Getenv("GATEWAY_BASE_URL"),
		GatewayMchID:          os.Getenv("GATEWAY_MCH_ID"),
		GatewayAppID:          os.Getenv("GATEWAY_APP_ID"),
		GatewayAPIv3Key:       os.Getenv("GATEWAY_APIV3_KEY"),
		GatewayPrivateKeyPath: os.Getenv("GATEWAY_PRIVATE_KEY_PATH"),
		GatewayKeySerial:      os.Getenv("GATEWAY_KEY_SERIAL"),
		GatewayPublicKeyPath:  os.Getenv("GATEWAY_PUBLIC_KEY_PATH"),
		GatewayNotifyURL:      os.Getenv("GATEWAY_NOTIFY_URL"),

		PaymentTTLMinutes:      atoiOr("PAYMENT_TTL_MINUTES", 30),
		PayUserCooldownSeconds: atoiOr("PAY_USER_COOLDOWN_SECONDS", 3),
		PayIPWindowSeconds:     atoiOr("PAY_IP_WINDOW_SECONDS", 60),
		PayIPWindowMax:         int64(atoiOr("PAY_IP_WINDOW_MAX", 30)),
	}

	if v := os.Getenv("PAY_MAX_AMOUNT"); v != "" {
		max, err := decimal.NewFromString(v)
		if err != nil {
			return Config{}, fmt.Errorf("PAY_MAX_AMOUNT must be a decimal: %w", err)
		}
		cfg.PayMaxAmount = max
	}

	//必須チェック
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
	if cfg.PostgresUser == "" {
		return Config{}, fmt.Errorf("POSTGRES_USER is required")
	}
	if cfg.PostgresPassword == "" {
		return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if cfg.PostgresDB == "" {
		return Config{}, fmt.Errorf("POSTGRES_DB is required")
	}
	if cfg.PostgresHost == "" {
		return Config{}, fmt.Errorf("POSTGRES_HOST is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}
	if cfg.GatewayBaseURL == "" {
		return Config{}, fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if cfg.GatewayMchID == "" {
		return Config{}, fmt.Errorf("GATEWAY_MCH_ID is required")
	}
	if cfg.GatewayAppID == "" {
		return Config{}, fmt.Errorf("GATEWAY_APP_ID is required")
	}
	if len(cfg.GatewayAPIv3Key) != 32 {
		return Config{}, fmt.Errorf("GATEWAY_APIV3_KEY must be 32 bytes")
	}
	if cfg.GatewayPrivateKeyPath == "" {
		return Config{}, fmt.Errorf("GATEWAY_PRIVATE_KEY_PATH is required")
	}
	if cfg.GatewayKeySerial == "" {
		return Config{}, fmt.Errorf("GATEWAY_KEY_SERIAL is required")
	}
	if cfg.GatewayPublicKeyPath == "" {
		return Config{}, fmt.Errorf("GATEWAY_PUBLIC_KEY_PATH is required")
	}
	if cfg.GatewayNotifyURL == "" {
		return Config{}, fmt.Errorf("GATEWAY_NOTIFY_URL is required")
	}

	return cfg, nil
}

func mustAtoi(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func atoiOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	StorageDriver string // postgres / memory

	DatabaseURL      string // あれば POSTGRES_* より優先
	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5432）
	PostgresSSLMode  string

	GoEnv string // dev/prod

	LockTimeout    time.Duration // 行ロック待ちの上限
	ReportLocation *time.Location

	RedisAddr     string // 空なら冪等キーはメモリ保持
	RedisPassword string
	RedisDB       int

	AMQPURL      string // 空なら注文イベントはログ出力のみ
	AMQPExchange string

	RateLimitRPS   int
	RateLimitBurst int

	IdempotencyTTL time.Duration
}

func (c Config) IsProd() bool {
	return c.GoEnv == "prod"
}

// Loadは環境変数
func Load() (Config, error) {
	pgPort, err := atoiOr("POSTGRES_PORT", 5432)
	if err != nil {
		return Config{}, err
	}
	redisDB, err := atoiOr("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	rps, err := atoiOr("RATE_LIMIT_RPS", 20)
	if err != nil {
		return Config{}, err
	}
	burst, err := atoiOr("RATE_LIMIT_BURST", 40)
	if err != nil {
		return Config{}, err
	}
	lockTimeout, err := durationOr("LOCK_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	idemTTL, err := durationOr("IDEMPOTENCY_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}

	loc := time.Local
	if v := os.Getenv("REPORT_TZ"); v != "" {
		loc, err = time.LoadLocation(v)
		if err != nil {
			return Config{}, fmt.Errorf("REPORT_TZ is invalid: %w", err)
		}
	}

	cfg := Config{
		Port: getenv("PORT", "8080"),

		StorageDriver: getenv("STORAGE_DRIVER", StorageDriverPostgres),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     getenv("POSTGRES_USER", "postgres"),
		PostgresPassword: getenv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getenv("POSTGRES_DB", "app"),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresPort:     pgPort,
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		GoEnv: getenv("GO_ENV", "dev"),

		LockTimeout:    lockTimeout,
		ReportLocation: loc,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getenv("AMQP_EXCHANGE", "orders"),

		RateLimitRPS:   rps,
		RateLimitBurst: burst,

		IdempotencyTTL: idemTTL,
	}

	//必須チェック
	switch cfg.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return Config{}, fmt.Errorf("STORAGE_DRIVER must be %q or %q", StorageDriverPostgres, StorageDriverMemory)
	}
	if cfg.GoEnv != "dev" && cfg.GoEnv != "prod" {
		return Config{}, fmt.Errorf("GO_ENV must be dev or prod")
	}
	if cfg.LockTimeout < 0 {
		return Config{}, fmt.Errorf("LOCK_TIMEOUT must be >= 0")
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}

	return cfg, nil
}

// PostgresDSN は DATABASE_URL があればそれを、無ければ POSTGRES_* から組み立てる。
func (c Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration (e.g. 5s): %w", key, err)
	}
	return d, nil
}

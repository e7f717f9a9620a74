package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// PlaceholderJWTSecret is the development default. Running with it logs a warning.
const PlaceholderJWTSecret = "dev-secret-change-me"

const (
	GateStoreMemory = "memory"
	GateStoreRedis  = "redis"
)

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBType     string `env:"DBType" envDefault:"sqlite"`
	DSNURL     string `env:"DSN_URL" envDefault:""`
	DBUser     string `env:"DBUser" envDefault:""`
	DBPassword string `env:"DBPassword" envDefault:""`
	DBAddr     string `env:"DBAddr" envDefault:""`
	DBName     string `env:"DBName" envDefault:"wellness"`
	DBPath     string `env:"DBPath" envDefault:"datas/wellness.db"`
	DBPort     string `env:"DBPort" envDefault:"3306"`

	JWTSecret       string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"wellness-tracker"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"30m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	TermsTokenTTL   time.Duration `env:"TERMS_TOKEN_TTL" envDefault:"24h"`
	BcryptCost      int           `env:"BCRYPT_COST" envDefault:"12"`

	// 条款网关
	TermsGateRequired  bool          `env:"TERMS_GATE_REQUIRED" envDefault:"true"`
	TermsVersion       string        `env:"TERMS_VERSION" envDefault:"v1"`
	GateTokenTTL       time.Duration `env:"GATE_TOKEN_TTL" envDefault:"1h"`
	GateStore          string        `env:"GATE_STORE" envDefault:"memory"`
	GateSweepInterval  time.Duration `env:"GATE_SWEEP_INTERVAL" envDefault:"10m"`
	RedisAddr          string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword      string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`
	RedisGateKeyPrefix string        `env:"REDIS_GATE_PREFIX" envDefault:"wellness:terms:"`

	// 审计事件投递（可选）
	AuditAMQPURL string `env:"AUDIT_AMQP_URL" envDefault:""`
	AuditQueue   string `env:"AUDIT_QUEUE" envDefault:"wellness.audit"`

	AuditAMQPDialTimeout time.Duration `env:"AUDIT_AMQP_DIAL_TIMEOUT" envDefault:"2s"`

	LoginRatePerSecond float64 `env:"LOGIN_RATE_PER_SECOND" envDefault:"5"`
	LoginRateBurst     int     `env:"LOGIN_RATE_BURST" envDefault:"10"`
	// 可信反向代理（IP 或 CIDR），为空时忽略 X-Forwarded-For
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	AdminUsername string `env:"ADMIN_USERNAME" envDefault:""`
	AdminEmail    string `env:"ADMIN_EMAIL" envDefault:""`
	AdminPassword string `env:"ADMIN_PASSWORD" envDefault:""`
}

// ParseConfig loads .env (when present) and then the process environment.
func ParseConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("failed to load .env file")
	}

	var Conf Config
	err := env.Parse(&Conf)
	if err != nil {
		logrus.WithError(err).Error("env.Parse error")
		return Config{}, err
	}
	if Conf.UsesPlaceholderSecret() {
		logrus.Warn("JWT_SECRET is unset or uses the development placeholder; set a strong secret in production")
	}
	return Conf, nil
}

// UsesPlaceholderSecret reports whether tokens would be signed with the
// development default.
func (c Config) UsesPlaceholderSecret() bool {
	secret := strings.TrimSpace(c.JWTSecret)
	return secret == "" || secret == PlaceholderJWTSecret
}

// NewRedisClient connects to the configured redis server. It fails when the
// server does not answer a ping.
func (c Config) NewRedisClient(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

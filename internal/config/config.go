// Package config предоставляет структуры и функции для парсинга и загрузки конфига клиента.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env             string `yaml:"env" env-default:"local"`
	API             `yaml:"api"`
	Breaker         `yaml:"breaker"`
	Storage         `yaml:"storage"`
	RedisConnection `yaml:"redis_connection"`
	Plans           `yaml:"plans"`
	Notifications   `yaml:"notifications"`
	MockAPI         `yaml:"mock_api"`
}

// API структура для настройки транспорта до бэкенда
type API struct {
	BaseURL      string        `yaml:"base_url" env:"SCOUTCARD_API_URL" env-default:"http://localhost:8080"`
	Timeout      time.Duration `yaml:"timeout" env-default:"10s"`
	MaxRetries   int           `yaml:"max_retries" env-default:"2"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min" env-default:"200ms"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max" env-default:"2s"`
	RateLimit    float64       `yaml:"rate_limit" env-default:"20"`
	RateBurst    int           `yaml:"rate_burst" env-default:"40"`
}

// Breaker структура для настройки circuit breaker
type Breaker struct {
	MaxRequests  uint32        `yaml:"max_requests" env-default:"1"`
	Interval     time.Duration `yaml:"interval" env-default:"60s"`
	Timeout      time.Duration `yaml:"timeout" env-default:"30s"`
	FailureRatio float64       `yaml:"failure_ratio" env-default:"0.5"`
	MinRequests  uint32        `yaml:"min_requests" env-default:"5"`
}

// Storage структура для настройки локального хранилища сессии.
// Backend: memory, file или redis.
type Storage struct {
	Backend        string `yaml:"backend" env-default:"file"`
	Dir            string `yaml:"dir" env-default:".scoutcard"`
	SecurePassword string `yaml:"secure_password" env:"SCOUTCARD_SECURE_PASSWORD"`
	SecureSalt     string `yaml:"secure_salt" env-default:"scoutcard-secure-tier"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// Plans ценовые уровни планов, доступных для покупки в приложении
type Plans struct {
	DirectPriceCents   int64 `yaml:"direct_price_cents" env-default:"2500"`
	ReferralPriceCents int64 `yaml:"referral_price_cents"`
}

// Notifications настройки регистрации push-токена устройства
type Notifications struct {
	PushToken string `yaml:"push_token" env:"SCOUTCARD_PUSH_TOKEN"`
	Platform  string `yaml:"platform" env-default:"ios"`
}

// MockAPI настройки локального бэкенда для разработки
type MockAPI struct {
	Address         string        `yaml:"address" env-default:":8080"`
	JWTSecretKey    string        `yaml:"jwt_secret_key" env-default:"dev-secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env-default:"720h"`
	LoginRateLimit  float64       `yaml:"login_rate_limit" env-default:"5"`
	LoginRateBurst  int           `yaml:"login_rate_burst" env-default:"10"`
	BcryptCost      int           `yaml:"bcrypt_cost" env-default:"10"`
	TimeoutHTTP     time.Duration `yaml:"timeout_http" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла и применяет значения по умолчанию
func Load(path string) (*Config, error) {
	const op = "config.Load"
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Backend == "redis" && cfg.AddressRedis == "" {
		return nil, fmt.Errorf("%s: redis backend requires redis_connection.addressredis", op)
	}
	return &cfg, nil
}

// Default возвращает конфиг только со значениями по умолчанию
func Default() *Config {
	var cfg Config
	_ = cleanenv.ReadEnv(&cfg)
	return &cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"API:\n"+
			"  BaseURL: %s\n"+
			"  Timeout: %s\n"+
			"  MaxRetries: %d\n"+
			"Storage:\n"+
			"  Backend: %s\n"+
			"  Dir: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"Plans:\n"+
			"  DirectPriceCents: %d\n"+
			"  ReferralPriceCents: %d\n",
		c.Env,
		c.BaseURL,
		c.API.Timeout,
		c.API.MaxRetries,
		c.Backend,
		c.Dir,
		c.AddressRedis,
		c.DB,
		c.DirectPriceCents,
		c.ReferralPriceCents,
	)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Cache drivers
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

const devJWTSecret = "default_super_secret_key"

type Config struct {
	Port     string
	Env      string
	LogLevel string

	DB    DBConfig
	Redis RedisConfig
	Cache CacheConfig

	CurrencyPrecision int32
	JWTSecret         string
	CORSOrigins       []string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the postgres connection URL.
func (c DBConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.Name + "?sslmode=" + c.SSLMode
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	Driver              string
	TTL                 time.Duration
	InvalidationRetries int
}

// Load reads configs/.env (when present) and the process environment.
// Environment variables win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{"configs/.env"}
	}
	// A missing .env file is normal outside local development.
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := &Config{
		Port:     v.GetString("PORT"),
		Env:      v.GetString("APP_ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),
		DB: DBConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Cache: CacheConfig{
			Driver:              strings.ToLower(v.GetString("CACHE_DRIVER")),
			TTL:                 v.GetDuration("CACHE_TTL"),
			InvalidationRetries: v.GetInt("CACHE_INVALIDATION_RETRIES"),
		},
		CurrencyPrecision: v.GetInt32("TAX_CURRENCY_PRECISION"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		CORSOrigins:       splitList(v.GetString("CORS_ORIGINS")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("CACHE_DRIVER", CacheMemory)
	v.SetDefault("CACHE_TTL", "10m")
	v.SetDefault("CACHE_INVALIDATION_RETRIES", 3)

	v.SetDefault("TAX_CURRENCY_PRECISION", 2)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if c.Env == "production" {
			return fmt.Errorf("config: JWT_SECRET is required in production")
		}
		c.JWTSecret = devJWTSecret
	}
	switch c.Cache.Driver {
	case CacheMemory, CacheRedis, CacheNone:
	default:
		return fmt.Errorf("config: CACHE_DRIVER must be memory, redis or none, got %q", c.Cache.Driver)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: CACHE_TTL must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.InvalidationRetries < 0 {
		return fmt.Errorf("config: CACHE_INVALIDATION_RETRIES must not be negative")
	}
	if c.CurrencyPrecision < 0 || c.CurrencyPrecision > 8 {
		return fmt.Errorf("config: TAX_CURRENCY_PRECISION must be between 0 and 8, got %d", c.CurrencyPrecision)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

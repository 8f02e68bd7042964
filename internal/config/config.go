// Package config содержит логику чтения конфигурации сервиса лотерей.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultListLimit      = 100
	defaultWinnerCacheTTL = 24 * time.Hour
)

// Config содержит параметры конфигурации сервиса лотерей.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	RedisAddress   string        `env:"REDIS_ADDRESS"`
	ListLimit      int           `env:"LIST_LIMIT"`
	EnableReset    bool          `env:"ENABLE_RESET"`
	WinnerCacheTTL time.Duration `env:"WINNER_CACHE_TTL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Заданная переменная окружения имеет приоритет над флагом, в том числе со значением false или 0.
// Файл .env, если он есть, подгружается в окружение.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage if empty")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for winner cache")
	flag.IntVar(&cfg.ListLimit, "l", defaultListLimit, "maximum number of items in list responses")
	flag.BoolVar(&cfg.EnableReset, "reset", false, "enable POST /reset")
	flag.DurationVar(&cfg.WinnerCacheTTL, "ttl", defaultWinnerCacheTTL, "winner cache TTL")

	flag.Parse()

	// env.Parse трогает только заданные переменные, остальные поля сохраняют значения флагов.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.ListLimit <= 0 {
		return nil, fmt.Errorf("list limit must be positive, got %d", cfg.ListLimit)
	}
	if cfg.WinnerCacheTTL < 0 {
		return nil, fmt.Errorf("winner cache TTL must not be negative, got %s", cfg.WinnerCacheTTL)
	}

	return cfg, nil
}

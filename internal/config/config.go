package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DBPath              string        `env:"DB_PATH"               envDefault:"feedsync.sqlite"`
	LogLevel            slog.Level    `env:"LOG_LEVEL"             envDefault:"INFO"`
	MetricsAddr         string        `env:"METRICS_ADDR"`
	OpenAIAPIKey        string        `env:"OPENAI_API_KEY"`
	OpenAIModel         string        `env:"OPENAI_MODEL"`
	UserAgent           string        `env:"USER_AGENT"            envDefault:"feedsync/1.0"`
	HTTPTimeout         time.Duration `env:"HTTP_TIMEOUT"          envDefault:"30s"`
	SyncTimeout         time.Duration `env:"SYNC_TIMEOUT"          envDefault:"15m"`
	FetchLimit          int           `env:"FETCH_LIMIT"           envDefault:"200"`
	BackfillBatchSize   int           `env:"BACKFILL_BATCH_SIZE"   envDefault:"5"`
	BackfillPause       time.Duration `env:"BACKFILL_PAUSE"        envDefault:"2s"`
	HostRequestInterval time.Duration `env:"HOST_REQUEST_INTERVAL" envDefault:"500ms"`
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig(envFiles ...string) (Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load(envFiles...)

	return env.ParseAs[Config]()
}

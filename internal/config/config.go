package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"dev"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"postgres"` // postgres | memory
	PostgresDSN   string `env:"POSTGRES_DSN"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Only set behind a reverse proxy that overwrites X-Forwarded-For.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	Queue   QueueConfig   `envPrefix:"SHEETS_QUEUE_"`
	Session SessionConfig `envPrefix:"SESSION_"`

	MirrorURL     string        `env:"MIRROR_URL"`
	MirrorToken   string        `env:"MIRROR_TOKEN"`
	MirrorTimeout time.Duration `env:"MIRROR_TIMEOUT" envDefault:"15s"`

	JanitorInterval  time.Duration `env:"JANITOR_INTERVAL" envDefault:"1m"`
	JanitorInProcess bool          `env:"JANITOR_IN_PROCESS" envDefault:"true"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
}

// QueueConfig tunes the spreadsheet write queue.
type QueueConfig struct {
	Concurrency int           `env:"CONCURRENCY" envDefault:"5"`
	MaxSize     int           `env:"MAX_SIZE" envDefault:"10000"`
	Retries     int           `env:"RETRIES" envDefault:"2"`
	RetryDelay  time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
	TaskTimeout time.Duration `env:"TASK_TIMEOUT" envDefault:"0s"`
}

type SessionConfig struct {
	DefaultTTL    time.Duration `env:"DEFAULT_TTL" envDefault:"15m"`
	MaxTTL        time.Duration `env:"MAX_TTL" envDefault:"4h"`
	DefaultRadius float64       `env:"DEFAULT_RADIUS_M" envDefault:"100"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"10m"`
}

// Parse reads the configuration from the process environment.
func Parse() (Config, error) {
	var c Config
	err := env.Parse(&c)
	return c, err
}

func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}
	if c.StoreBackend == "postgres" && c.PostgresDSN == "" {
		log.Fatal("config: POSTGRES_DSN is required when STORE_BACKEND=postgres")
	}
	return c
}

func (c Config) IsDev() bool { return c.AppEnv == "dev" || c.AppEnv == "" }

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/google/uuid"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"live-quiz"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Postgres  Postgres
	Redis     Redis
	Security  Security
	Session   Session
	Locks     Locks
	WebSocket WebSocket
	Instance  Instance
}

// Postgres captures connection info for the SQL database.
type Postgres struct {
	Host     string `env:"PG_HOST,notEmpty"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER,notEmpty"`
	Password string `env:"PG_PASSWORD,notEmpty"`
	Database string `env:"PG_DATABASE,notEmpty"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
	MaxConns int    `env:"PG_MAX_CONNS" envDefault:"10"`
}

// DSN renders the key/value connection string understood by pgx.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// Redis holds shared state, lock and pub/sub configuration.
type Redis struct {
	Addr     string `env:"REDIS_ADDR,notEmpty"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Security stores secrets for token validation.
type Security struct {
	JWTSecret string `env:"JWT_SECRET,notEmpty"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"live-quiz"`
}

// Session groups live-session timing defaults.
type Session struct {
	TTL                   time.Duration `env:"SESSION_TTL" envDefault:"3600s"`
	LeadInDelay           time.Duration `env:"LEAD_IN_DELAY" envDefault:"3s"`
	TimeWarningSeconds    int           `env:"TIME_WARNING_SECONDS" envDefault:"7"`
	DefaultCharacterCount int           `env:"DEFAULT_CHARACTER_COUNT" envDefault:"30"`
	PinAttempts           int           `env:"PIN_ATTEMPTS" envDefault:"20"`
	QuizCacheTTL          time.Duration `env:"QUIZ_CACHE_TTL" envDefault:"5m"`
	ResultSaveTimeout     time.Duration `env:"RESULT_SAVE_TIMEOUT" envDefault:"10s"`
}

// Locks configures distributed lock lifetimes and the retry budget.
type Locks struct {
	CharacterTTL    time.Duration `env:"LOCK_CHARACTER_TTL" envDefault:"5s"`
	SubmitTTL       time.Duration `env:"LOCK_SUBMIT_TTL" envDefault:"3s"`
	StartQuizTTL    time.Duration `env:"LOCK_START_QUIZ_TTL" envDefault:"5s"`
	NextQuestionTTL time.Duration `env:"LOCK_NEXT_QUESTION_TTL" envDefault:"5s"`
	TimeUpTTL       time.Duration `env:"LOCK_TIME_UP_TTL" envDefault:"5s"`
	EndQuizTTL      time.Duration `env:"LOCK_END_QUIZ_TTL" envDefault:"10s"`
	RetryAttempts   int           `env:"LOCK_RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay      time.Duration `env:"LOCK_RETRY_DELAY" envDefault:"50ms"`
}

// WebSocket governs keep-alive behaviour of live sockets.
type WebSocket struct {
	PingInterval time.Duration `env:"WS_PING_INTERVAL" envDefault:"10s"`
	PongWait     time.Duration `env:"WS_PONG_WAIT" envDefault:"5s"`
	SendBuffer   int           `env:"WS_SEND_BUFFER" envDefault:"256"`
}

// Instance identifies this process among its peers.
type Instance struct {
	ID string `env:"INSTANCE_ID" envDefault:""`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Instance.ID == "" {
		cfg.Instance.ID = uuid.NewString()
	}
	if cfg.Session.TTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}
	return cfg, nil
}

// LoadPostgres parses only the database settings, for tooling that needs no
// Redis or secrets.
func LoadPostgres() (Postgres, error) {
	var pg Postgres
	if err := env.ParseWithOptions(&pg, env.Options{RequiredIfNoDef: true}); err != nil {
		return Postgres{}, fmt.Errorf("parse postgres config: %w", err)
	}
	return pg, nil
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/logger"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/store"
	memorystore "github.com/wolfeidau/taskhub/internal/store/memory"
	postgresstore "github.com/wolfeidau/taskhub/internal/store/postgres"
	"github.com/wolfeidau/taskhub/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
}

type PostgresFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Transaction Configuration
	TxTimeout  int32 `help:"transaction timeout in seconds" default:"10" env:"TASKHUB_POSTGRES_TX_TIMEOUT"`
	MaxRetries uint  `help:"retries after a serialization failure or deadlock" default:"3"`
}

func (s *PostgresFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (s *PostgresFlags) poolConfig() *postgresstore.PoolConfig {
	return &postgresstore.PoolConfig{
		ConnString:      s.ConnString,
		MaxConns:        s.MaxConns,
		MinConns:        s.MinConns,
		MaxConnLifetime: s.MaxConnLifetime,
		MaxConnIdleTime: s.MaxConnIdleTime,
	}
}

// StoreFlags selects and configures the storage engine.
type StoreFlags struct {
	StoreType   string        `help:"store type (memory or postgres)" default:"postgres" env:"TASKHUB_STORE_TYPE" enum:"memory,postgres"`
	Postgres    PostgresFlags `embed:"" prefix:"postgres-"`
	AutoMigrate bool          `help:"run database migrations before the command" default:"false" env:"TASKHUB_POSTGRES_AUTO_MIGRATE"`
	Tracing     bool          `help:"export traces and metrics over OTLP" default:"false" env:"TASKHUB_TRACING"`
}

// repositories are the tenant-scoped repositories the commands work through.
type repositories struct {
	orgs  *store.Repository[*models.Organization]
	users *store.Repository[*models.User]
	tasks *store.Repository[*models.Task]
}

// open builds the configured engine and its repositories. The returned close func releases the
// engine's resources and flushes telemetry.
func (s *StoreFlags) open(ctx context.Context, globals *Globals) (*repositories, func(), error) {
	log := zerolog.Ctx(ctx)
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if s.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{ServiceName: "taskhub", Version: globals.Version})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		} else {
			closers = append(closers, func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Failed to shutdown telemetry")
				}
			})
		}
	}

	var engine store.Engine

	switch s.StoreType {
	case "memory":
		log.Info().Msg("Using in-memory store")
		engine = memorystore.NewEngine()

	case "postgres":
		if err := s.Postgres.Validate(); err != nil {
			closeAll()
			return nil, nil, err
		}

		log.Info().Msg("Using PostgreSQL store")
		pool, err := postgresstore.NewPool(ctx, s.Postgres.poolConfig())
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		closers = append(closers, pool.Close)

		if s.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		pgEngine, err := postgresstore.NewEngine(pool, &postgresstore.EngineConfig{
			TxTimeoutSeconds: s.Postgres.TxTimeout,
			MaxRetries:       s.Postgres.MaxRetries,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create postgres engine: %w", err)
		}
		engine = pgEngine

	default:
		closeAll()
		return nil, nil, fmt.Errorf("unknown store type: %s", s.StoreType)
	}

	repos, err := newRepositories(engine)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	return repos, closeAll, nil
}

func newRepositories(engine store.Engine) (*repositories, error) {
	orgs, err := store.NewRepository[*models.Organization](engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create organization repository: %w", err)
	}
	users, err := store.NewRepository[*models.User](engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create user repository: %w", err)
	}
	tasks, err := store.NewRepository[*models.Task](engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create task repository: %w", err)
	}
	return &repositories{orgs: orgs, users: users, tasks: tasks}, nil
}

// withLogger returns ctx carrying the root logger for the command.
func withLogger(ctx context.Context, globals *Globals) context.Context {
	log := logger.Setup(globals.Debug)
	return log.WithContext(ctx)
}

package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-classwall/pkg/config"
)

// DSN renders the lib/pq connection string for the configured database.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

// NewPostgres returns a configured PostgreSQL client.
func NewPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// NewListener opens a dedicated LISTEN/NOTIFY connection. Connection state changes are logged.
func NewListener(cfg config.DatabaseConfig, minReconnect, maxReconnect time.Duration, logger *zap.Logger) *pq.Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minReconnect <= 0 {
		minReconnect = 10 * time.Second
	}
	if maxReconnect < minReconnect {
		maxReconnect = minReconnect
	}
	return pq.NewListener(DSN(cfg), minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Info("pg listener connected")
		case pq.ListenerEventDisconnected:
			logger.Warn("pg listener disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			logger.Info("pg listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("pg listener connection attempt failed", zap.Error(err))
		}
	})
}

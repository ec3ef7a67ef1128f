package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"proptrader/internal/config"
)

var (
	// ErrImmutableTrade is returned when an update would modify a trade
	// that has reached a terminal status.
	ErrImmutableTrade = errors.New("ledger: trade is terminal and immutable")

	// ErrInvalidTransition is returned for a backwards status transition.
	ErrInvalidTransition = errors.New("ledger: invalid trade status transition")

	// ErrNoActiveRiskConfig is returned when no active risk configuration
	// exists. The risk gate treats this as a hard rejection.
	ErrNoActiveRiskConfig = errors.New("ledger: no active risk configuration")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("ledger: not found")
)

// Store wraps the database handle and exposes all persistence operations.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to the configured database and runs migrations.
func Open(cfg config.DatabaseConfig, log *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("ledger: unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}

	if err := db.AutoMigrate(
		&Trade{},
		&RiskConfig{},
		&PropFirmAccount{},
		&StrategyConfig{},
		&BrokerCredential{},
		&OHLCVBar{},
		&WebhookEvent{},
	); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.ensureRiskConfig(); err != nil {
		return nil, err
	}
	log.Info("ledger opened", "driver", cfg.Driver)
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ensureRiskConfig seeds the default limits on a fresh database so the
// gate never runs against empty configuration.
func (s *Store) ensureRiskConfig() error {
	var count int64
	if err := s.db.Model(&RiskConfig{}).Count(&count).Error; err != nil {
		return fmt.Errorf("ledger: count risk configs: %w", err)
	}
	if count > 0 {
		return nil
	}
	rc := DefaultRiskConfig()
	if err := s.db.Create(&rc).Error; err != nil {
		return fmt.Errorf("ledger: seed risk config: %w", err)
	}
	s.log.Info("seeded default risk config", "name", rc.Name)
	return nil
}

// startOfDay returns local midnight for t.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

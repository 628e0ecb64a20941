// Package history persists one record per generation request via GORM.
// SQLite (pure Go, no CGO) is the default backend; PostgreSQL is available
// for shared deployments. All GORM usage is confined to this package.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nerudite/modelgate/internal/config"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500

	asyncWriteTimeout = 5 * time.Second
)

// Record is one persisted generation request.
type Record struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	CorrelationID string    `gorm:"size:36;index" json:"correlation_id,omitempty"`
	Provider      string    `gorm:"size:32;index" json:"provider"`
	Model         string    `gorm:"size:128" json:"model"`
	Prompt        string    `gorm:"type:text" json:"prompt"`
	Success       bool      `json:"success"`
	Fallback      bool      `json:"fallback"`
	Attempts      int       `json:"attempts"`
	ErrorKind     string    `gorm:"size:32" json:"error_kind,omitempty"`
	Error         string    `gorm:"type:text" json:"error,omitempty"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	DurationMS    int64     `json:"duration_ms"`
}

// TableName sets the table name for GORM.
func (Record) TableName() string { return "request_history" }

// Store persists and queries generation records.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured backend and runs migrations.
func Open(cfg *config.Config, slogger *slog.Logger) (*Store, error) {
	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormCfg := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver := cfg.StorageDriverName(); driver {
	case "sqlite":
		db, err = openSQLite(cfg.DatabasePath(), gormCfg)
	case "postgres":
		db, err = openPostgres(cfg.Storage.Postgres, gormCfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: slogger}
	if err := s.db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating request history: %w", err)
	}
	return s, nil
}

func openSQLite(path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	return db, nil
}

func openPostgres(pg *config.PostgresStorageConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	if pg == nil || pg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := gorm.Open(postgres.Open(pg.DSN), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("accessing sql.DB: %w", err)
	}
	maxOpen := pg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := pg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := time.Duration(pg.ConnMaxLifetimeS) * time.Second
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)

	return db, nil
}

// Save persists a record, assigning ID and timestamp when unset.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("saving request record: %w", err)
	}
	return nil
}

// SaveAsync persists a record off the request path. Failures are logged,
// never surfaced; history is best-effort.
func (s *Store) SaveAsync(rec *Record) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		if err := s.Save(ctx, rec); err != nil && s.logger != nil {
			s.logger.Warn("recording request history failed", slog.String("error", err.Error()))
		}
	}()
}

// Recent returns the newest records, newest first. The limit is clamped
// to [1, 500] with a default of 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	var records []Record
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("querying request history: %w", err)
	}
	return records, nil
}

// CountByProvider returns how many records exist per provider.
func (s *Store) CountByProvider(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Provider string
		N        int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("provider, count(*) as n").
		Group("provider").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting request history: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Provider] = r.N
	}
	return out, nil
}

// Ping checks database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Info(fmt.Sprintf(format, args...))
	}
}

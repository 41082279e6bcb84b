package database

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"collabboard-backend/internal/config"
	"collabboard-backend/internal/model"
)

// Manager owns the GORM connection to the SQLite file inside the data root.
//
// The restore swap phase must move the backing file out of the data root, so
// the connection is not a fixed handle: Quiesce closes it before the swap and
// Resume reopens it against whatever file the swap left in place. Callers get
// the current handle through DB on every use instead of caching it.
type Manager struct {
	mu  sync.RWMutex
	db  *gorm.DB
	cfg config.DataConfig
}

// Open 데이터베이스 연결 수립
func Open(cfg config.DataConfig) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	m := &Manager{cfg: cfg}
	db, err := m.open()
	if err != nil {
		return nil, err
	}
	m.db = db
	return m, nil
}

// Path returns the absolute-ish path of the backing file.
func (m *Manager) Path() string {
	return filepath.Join(m.cfg.Dir, m.cfg.DBName)
}

func (m *Manager) open() (*gorm.DB, error) {
	// GORM 로거 설정
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(sqlite.Open(m.Path()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Single writer keeps SQLite happy under concurrent handlers.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	// AutoMigrate - 테이블 스키마 자동 업데이트
	if err := db.AutoMigrate(
		&model.Drawing{},
		&model.Instance{},
	); err != nil {
		log.Printf("⚠️ AutoMigrate warning: %v", err)
	}

	return db, nil
}

// ErrQuiesced is returned while the connection is released for a restore's
// swap phase. Callers surface it as a transient failure.
var ErrQuiesced = errors.New("database is quiesced for restore")

// DB returns the current connection handle, or ErrQuiesced while a restore
// holds the backing file.
func (m *Manager) DB() (*gorm.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, ErrQuiesced
	}
	return m.db, nil
}

// Quiesce releases the connection so the backing file can be moved. Part of
// the restore protocol; new queries fail until Resume.
func (m *Manager) Quiesce() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	m.db = nil
	log.Printf("[Database] Connections released for data swap")
	return nil
}

// Resume reopens the connection after a restore. The new handle may still
// carry schema state from before the swap; a process restart is the only
// full guarantee.
func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	db, err := m.open()
	if err != nil {
		return err
	}
	m.db = db
	log.Printf("[Database] Connections reopened")
	return nil
}

// Ping 데이터베이스 연결 테스트
func (m *Manager) Ping() error {
	db, err := m.DB()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// Close 데이터베이스 연결 종료
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	m.db = nil
	return sqlDB.Close()
}

// Package database opens the GORM connections recordings are written through.
package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OCAP2/rigstream/internal/config"
	"github.com/OCAP2/rigstream/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
	"PRAGMA page_size = 32768;",
}

// PostgresDSN builds a key/value DSN from cfg.
func PostgresDSN(cfg config.PostgresConfig) string {
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslmode)
}

// OpenPostgres connects and pings.
func OpenPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  PostgresDSN(cfg),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	return db, nil
}

// OpenSQLite opens a file database, or a private in-memory one when path is
// empty. Every in-memory database gets its own name so callers never share
// state.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = fmt.Sprintf("file:rigstream-%s?mode=memory&cache=shared", ulid.Make())
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if path == "" {
		// one connection keeps the database alive and serializes writers
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql interface: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}
	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}
	return db, nil
}

// Migrate seeds the server info row, enables PostGIS on postgres and migrates
// every model.
func Migrate(db *gorm.DB, log zerolog.Logger) error {
	if !db.Migrator().HasTable(&model.ServerInfo{}) {
		if err := db.AutoMigrate(&model.ServerInfo{}); err != nil {
			return fmt.Errorf("failed to create server_infos table: %w", err)
		}
		if err := db.Create(&model.ServerInfo{
			Name:        "rigstream",
			Description: "physics rig streaming server",
		}).Error; err != nil {
			return fmt.Errorf("failed to create server_infos entry: %w", err)
		}
	}

	if db.Name() == "postgres" {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS postgis;`).Error; err != nil {
			return fmt.Errorf("failed to create PostGIS extension: %w", err)
		}
		log.Info().Msg("PostGIS extension created")
	}

	log.Info().Msg("Migrating schema")
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Info().Msg("Database setup complete")
	return nil
}

// DumpMemoryDBToDisk snapshots db into path with VACUUM INTO, replacing any
// existing file.
func DumpMemoryDBToDisk(db *gorm.DB, path string) error {
	if path == "" {
		return errors.New("sqlite file path not set")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing existing DB file: %w", err)
	}
	if err := db.Exec("VACUUM INTO 'file:" + strings.ReplaceAll(path, "'", "''") + "';").Error; err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %w", err)
	}
	return nil
}

// BackupDBPaths lists the .db dumps in dir.
func BackupDBPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".db") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// Manager connects to postgres and falls back to an in-memory SQLite
// database when postgres is unreachable.
type Manager struct {
	DB       *gorm.DB
	Fallback bool
	Logger   zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{Logger: log}
}

// Connect opens postgres, or SQLite on failure, and migrates the schema.
func (m *Manager) Connect(cfg config.PostgresConfig) error {
	db, err := OpenPostgres(cfg)
	if err != nil {
		m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
		db, err = OpenSQLite("")
		if err != nil {
			return fmt.Errorf("failed to get local SQLite DB: %w", err)
		}
		m.Fallback = true
	} else {
		m.Logger.Info().Str("host", cfg.Host).Msg("Connected to database")
	}
	m.DB = db
	return Migrate(db, m.Logger)
}

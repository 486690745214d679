package database

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xelth-com/chatrelay/internal/config"
)

const (
	embeddedDataPath = "./data/pg"
	embeddedPort     = 5433
	embeddedPassword = "postgres"
)

// DB wraps gorm.DB and includes a reference to an embedded process if active
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
	log      *zap.Logger
}

// Connect opens PostgreSQL. Localhost without a password starts an embedded
// server under ./data/pg; anything else is treated as an external server.
func Connect(cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var embedded *embeddedpostgres.EmbeddedPostgres
	password := cfg.Password

	if cfg.Host == "localhost" && cfg.Password == "" {
		log.Info("starting embedded PostgreSQL", zap.String("data", embeddedDataPath), zap.Int("port", embeddedPort))

		cleanupStaleEmbeddedPostgres(log)
		if err := waitForPortRelease(embeddedPort); err != nil {
			return nil, err
		}

		embedded = embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
			DataPath(embeddedDataPath).
			Port(uint32(embeddedPort)).
			Database(cfg.Database).
			Username(cfg.Username).
			Password(embeddedPassword))

		if err := embedded.Start(); err != nil {
			return nil, fmt.Errorf("failed to start embedded database: %w", err)
		}
		cfg.Port = strconv.Itoa(embeddedPort)
		password = embeddedPassword
	} else {
		log.Info("connecting to external PostgreSQL", zap.String("host", cfg.Host), zap.String("port", cfg.Port))
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, password, cfg.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), gormConfig(cfg.Alter))
	if err != nil {
		// Clean up embedded process if GORM connection fails
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("database connection established")
	return &DB{DB: db, embedded: embedded, log: log}, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// SQLite allows a single writer.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	log.Info("sqlite database opened", zap.String("path", path))
	return &DB{DB: db, log: log}, nil
}

// Close ensures the database connection and embedded process are shut down
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if db.embedded != nil {
		db.log.Info("stopping embedded PostgreSQL")
		if stopErr := db.embedded.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

func gormConfig(quiet bool) *gorm.Config {
	level := logger.Warn
	if quiet {
		level = logger.Silent
	}
	return &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// cleanupStaleEmbeddedPostgres stops a server left behind by a previous crash
func cleanupStaleEmbeddedPostgres(log *zap.Logger) {
	pidFile := filepath.Join(embeddedDataPath, "postmaster.pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return
	}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	if !scanner.Scan() {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		log.Warn("could not parse postmaster.pid", zap.Error(err))
		return
	}

	// On Unix, FindProcess always succeeds, so signal 0 checks liveness
	process, err := os.FindProcess(pid)
	if err != nil || process.Signal(syscall.Signal(0)) != nil {
		log.Info("removing stale postmaster.pid", zap.Int("pid", pid))
		_ = os.Remove(pidFile)
		return
	}

	log.Warn("stopping orphaned PostgreSQL process", zap.Int("pid", pid))
	_ = process.Signal(syscall.SIGTERM)
	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if process.Signal(syscall.Signal(0)) != nil {
			_ = os.Remove(pidFile)
			return
		}
	}

	log.Warn("orphaned PostgreSQL did not stop, killing", zap.Int("pid", pid))
	_ = process.Kill()
	time.Sleep(500 * time.Millisecond)
	_ = os.Remove(pidFile)
}

func waitForPortRelease(port int) error {
	for i := 0; i < 6; i++ {
		if !isPortInUse(port) {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	if isPortInUse(port) {
		return fmt.Errorf("port %d is still in use by another process", port)
	}
	return nil
}

// isPortInUse checks if a port is already in use
func isPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fleetbooks/kestrel/internal/domain"
	_ "modernc.org/sqlite"
)

// openSQLite opens the community-tier store. The driver is pure Go, so
// single-binary deployments stay CGO-free. WAL keeps readers from
// blocking the ingestion writer; busy_timeout covers writer contention
// from the worker and the API sharing one file.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./kestrel.db"
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return db, nil
}

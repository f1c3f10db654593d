package database

import (
	"database/sql"
	"fmt"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// SQLEventRepository stores relay events through database/sql. The driver
// must be registered by the caller (lib/pq or go-sqlite3).
type SQLEventRepository struct {
	conn   *sql.DB
	driver string
}

func NewSQLEventRepository(driver, dsn string) (*SQLEventRepository, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	repo := &SQLEventRepository{conn: db, driver: driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

func (db *SQLEventRepository) Ping() error {
	return db.conn.Ping()
}

func (db *SQLEventRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

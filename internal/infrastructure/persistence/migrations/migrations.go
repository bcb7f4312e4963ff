// Package migrations 埋め込みSQLによるスキーマ移行
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"gift-server/internal/infrastructure/persistence/mysql"
)

//go:embed mysql/*.sql sqlite/*.sql
var files embed.FS

// Up 未適用のマイグレーションをすべて適用
func Up(db *mysql.DB) error {
	m, err := newMigrate(db.DB, db.Dialect())
	if err != nil {
		return err
	}
	// m.Close は共有の *sql.DB まで閉じるため呼ばない
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Version 現在のスキーマバージョン
func Version(db *mysql.DB) (uint, bool, error) {
	m, err := newMigrate(db.DB, db.Dialect())
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

func newMigrate(db *sql.DB, dialect mysql.Dialect) (*migrate.Migrate, error) {
	dir := string(dialect)
	src, err := iofs.New(files, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	switch dialect {
	case mysql.DialectSQLite:
		driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	case mysql.DialectMySQL:
		driver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create mysql migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "mysql", driver)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

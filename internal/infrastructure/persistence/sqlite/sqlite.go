// Package sqlite ローカル開発と結合テスト用のSQLite接続
//
// リポジトリはmysqlパッケージの実装をそのまま使う。
// 書き込みはSQLite側で直列化されるため、接続数は1に固定する。
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"gift-server/internal/infrastructure/persistence/mysql"
)

// MemoryPath インメモリDBのパス
const MemoryPath = ":memory:"

// Open SQLiteデータベースを開く
func Open(path string) (*mysql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// インメモリDBは接続ごとに別のDBになる
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return mysql.Wrap(db, mysql.DialectSQLite), nil
}

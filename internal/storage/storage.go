// Package storage はSQLiteへの接続を開き、スキーマを適用する。
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/nao1215/docnotify/internal/schema"
	"github.com/nao1215/docnotify/pkg/migration"
)

// Open はpathのSQLiteデータベースを開き、未適用のマイグレーションを実行する。
// ":memory:" の場合は接続ごとに別のデータベースになるため、接続数を1に制限する。
func Open(ctx context.Context, path string, logger logrus.FieldLogger) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if err := migration.Run(ctx, db.DB, schema.FS, schema.Dir, logger.WithField("component", "migration")); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}

// dsn はWALとビジータイムアウトを有効にした接続文字列を組み立てる。
func dsn(path string) string {
	params := "_pragma=busy_timeout(5000)&_time_format=sqlite"
	if path != ":memory:" {
		params += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params
}

// Package db は通知テーブルへのクエリを提供する。
package db

import (
	"github.com/jmoiron/sqlx"
)

// Queries は通知テーブルに対するクエリ実行オブジェクト。
type Queries struct {
	db *sqlx.DB
}

// New は新しいQueriesを生成する。
func New(db *sqlx.DB) *Queries {
	return &Queries{db: db}
}

// Package schema は通知とメトリクスのSQLiteスキーマをマイグレーションとして埋め込む。
package schema

import "embed"

// Dir はFS内のマイグレーションディレクトリ。
const Dir = "migrations"

// FS は000001_xxx.up.sql形式のマイグレーションファイルを保持する。
//
//go:embed migrations/*.sql
var FS embed.FS

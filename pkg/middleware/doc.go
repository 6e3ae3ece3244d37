// Package middleware は通知サービスのHTTP APIで使用するGinミドルウェアを提供する。
//
// JWTベアラートークンの検証、logrusによるリクエストログとパニックリカバリ、
// フロントエンドからのCORSを扱う。
package middleware

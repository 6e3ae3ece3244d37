// Package httpclient は連携サービスとのJSON形式のHTTP通信を行うクライアントを提供する。
//
// ドキュメントサービスへの所有者問い合わせなど、外部コラボレータの呼び出しに使用する。
// 2xx以外のレスポンスは *StatusError として返す。
package httpclient

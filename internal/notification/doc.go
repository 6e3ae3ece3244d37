// Package notification は通知サービスの中核を提供する。
//
// ドメインイベント（DOC_UPDATED, CONSISTENCY_RESULT）を受け取って通知を生成・保存し、
// ユーザーIDごとに登録されたライブ購読者へ即座に配信する。通知の一覧取得や既読管理も行う。
// 配信は購読者ごとに独立しており、1つの購読者の失敗が保存や他の購読者への配信を妨げることはない。
package notification

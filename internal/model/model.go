// Package model はドキュメント通知パイプラインのドメイン型を定義する。
package model

import (
	"errors"
	"time"
)

var (
	// ErrNotFound は対象が存在しない、または呼び出し元の所有ではないことを表す。
	ErrNotFound = errors.New("見つかりません")
	// ErrInvalidInput は呼び出し境界での入力検証エラーを表す。
	ErrInvalidInput = errors.New("入力が不正です")
)

// NotificationType は通知の種類。新しい種類は定数を追加して拡張する。
type NotificationType string

const (
	// NotificationDocumentUpdated はドキュメントが更新されたことを知らせる。
	NotificationDocumentUpdated NotificationType = "DOCUMENT_UPDATED"
	// NotificationInconsistencyDetected は整合性チェックで不整合が見つかったことを知らせる。
	NotificationInconsistencyDetected NotificationType = "INCONSISTENCY_DETECTED"
)

// Notification は永続化された通知。Read以外のフィールドは作成後に変更されない。
type Notification struct {
	ID         string           `json:"id"`
	UserID     string           `json:"userId"`
	Type       NotificationType `json:"type"`
	Message    string           `json:"message"`
	DocumentID string           `json:"documentId"`
	// Read はfalseからtrueへの一方向にのみ遷移する。
	Read      bool           `json:"read"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewNotification は通知作成の入力。
type NewNotification struct {
	UserID     string           `json:"userId"`
	Type       NotificationType `json:"type"`
	Message    string           `json:"message"`
	DocumentID string           `json:"documentId"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// Validate は必須フィールドがすべて空でないことを検証する。
func (n NewNotification) Validate() error {
	switch {
	case n.UserID == "":
		return errors.Join(ErrInvalidInput, errors.New("userIdは必須です"))
	case n.Type == "":
		return errors.Join(ErrInvalidInput, errors.New("typeは必須です"))
	case n.Message == "":
		return errors.Join(ErrInvalidInput, errors.New("messageは必須です"))
	case n.DocumentID == "":
		return errors.Join(ErrInvalidInput, errors.New("documentIdは必須です"))
	}
	return nil
}

// NotificationFilter は通知一覧の絞り込み条件。nilやゼロ値の条件は適用しない。
type NotificationFilter struct {
	UserID     string
	Read       *bool
	Type       NotificationType
	DocumentID string
}

// MetricsRecord はドキュメントごとの品質メトリクス。
type MetricsRecord struct {
	DocumentID string `json:"documentId"`
	// CoveragePercent は外部から与えられる0から100のゲージ値。最後の書き込みが勝つ。
	CoveragePercent float64 `json:"coveragePercent"`
	// ConsistencyScore は PassingChecks / TotalChecks。チェックが0件の間は0。
	ConsistencyScore float64   `json:"consistencyScore"`
	TotalChecks      int64     `json:"totalChecks"`
	PassingChecks    int64     `json:"passingChecks"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// MetricsUpdate はメトリクスの部分更新。nilのフィールドは変更しない。
type MetricsUpdate struct {
	CoveragePercent *float64 `json:"coveragePercent,omitempty"`
	IsConsistent    *bool    `json:"isConsistent,omitempty"`
}

// Validate はカバレッジが0から100の範囲にあることを検証する。
func (u MetricsUpdate) Validate() error {
	if u.CoveragePercent != nil && (*u.CoveragePercent < 0 || *u.CoveragePercent > 100) {
		return errors.Join(ErrInvalidInput, errors.New("coveragePercentは0から100の範囲で指定してください"))
	}
	return nil
}

package event

import (
	"errors"
	"fmt"
)

// Type はドメインイベントの種類を表す。ワイヤ上のイベント名と一致する。
type Type string

const (
	// TypeDocUpdated はドキュメントが更新されたことを表す。
	TypeDocUpdated Type = "DOC_UPDATED"
	// TypeConsistencyResult は整合性チェックが完了したことを表す。
	TypeConsistencyResult Type = "CONSISTENCY_RESULT"
)

// ErrInvalidEvent はイベントのペイロードが不正な場合に返るエラー。
var ErrInvalidEvent = errors.New("不正なイベント")

// Event はバス上を流れるドメインイベント。
// 具体的な型は DocUpdated と ConsistencyResult のいずれか。
type Event interface {
	// Type はイベントの種類を返す。
	Type() Type
	// Validate は発行前にペイロードを検証する。
	Validate() error
}

// DocUpdated はDOC_UPDATEDイベントのペイロード。
type DocUpdated struct {
	// DocumentID は更新されたドキュメントのID。
	DocumentID string `json:"documentId"`
	// UpdatedBy は更新を行ったユーザーのID。
	UpdatedBy string `json:"updatedBy"`
	// DocumentTitle は通知メッセージに使うドキュメントのタイトル。
	DocumentTitle string `json:"documentTitle"`
}

// Type はTypeDocUpdatedを返す。
func (DocUpdated) Type() Type { return TypeDocUpdated }

// Validate は必須フィールドを検証する。
func (e DocUpdated) Validate() error {
	if e.DocumentID == "" {
		return fmt.Errorf("%w: %s: documentIdが空です", ErrInvalidEvent, TypeDocUpdated)
	}
	if e.UpdatedBy == "" {
		return fmt.Errorf("%w: %s: updatedByが空です", ErrInvalidEvent, TypeDocUpdated)
	}
	return nil
}

// ConsistencyResult はCONSISTENCY_RESULTイベントのペイロード。
type ConsistencyResult struct {
	// DocumentID はチェック対象のドキュメントのID。
	DocumentID string `json:"documentId"`
	// IsConsistent はチェックに合格したかどうか。
	IsConsistent bool `json:"isConsistent"`
	// Score はチェッカーが算出したスコア。
	Score float64 `json:"score"`
	// DocumentTitle は通知メッセージに使うドキュメントのタイトル。
	DocumentTitle string `json:"documentTitle"`
}

// Type はTypeConsistencyResultを返す。
func (ConsistencyResult) Type() Type { return TypeConsistencyResult }

// Validate は必須フィールドを検証する。
func (e ConsistencyResult) Validate() error {
	if e.DocumentID == "" {
		return fmt.Errorf("%w: %s: documentIdが空です", ErrInvalidEvent, TypeConsistencyResult)
	}
	return nil
}

package notification

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/docnotify/internal/model"
	"github.com/nao1215/docnotify/pkg/event"
)

// Attach はイベントバスにドメインイベントのハンドラを登録する。
func (s *Service) Attach(bus *event.Bus) {
	event.On(bus, s.handleDocUpdated)
	event.On(bus, s.handleConsistencyResult)
}

// handleDocUpdated は更新を行ったユーザーへDOCUMENT_UPDATED通知を作成する。
func (s *Service) handleDocUpdated(ctx context.Context, e event.DocUpdated) error {
	n, err := s.CreateNotification(ctx, model.NewNotification{
		UserID:     e.UpdatedBy,
		Type:       model.NotificationDocumentUpdated,
		Message:    fmt.Sprintf("Document %q was updated", displayTitle(e.DocumentTitle, e.DocumentID)),
		DocumentID: e.DocumentID,
		Metadata: map[string]any{
			"documentTitle": e.DocumentTitle,
			"updatedBy":     e.UpdatedBy,
		},
	})
	if err != nil {
		return fmt.Errorf("DOC_UPDATEDの通知作成に失敗: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"document_id":     e.DocumentID,
		"user_id":         n.UserID,
	}).Debug("ドキュメント更新の通知を作成しました")
	return nil
}

// handleConsistencyResult は不整合が検出された場合のみ、所有者へINCONSISTENCY_DETECTED通知を作成する。
// 整合している結果では通知を作らない。
func (s *Service) handleConsistencyResult(ctx context.Context, e event.ConsistencyResult) error {
	if e.IsConsistent {
		return nil
	}

	ownerID, err := s.owners.ResolveOwner(ctx, e.DocumentID)
	if err != nil {
		return fmt.Errorf("ドキュメント %s の所有者解決に失敗: %w", e.DocumentID, err)
	}

	n, err := s.CreateNotification(ctx, model.NewNotification{
		UserID:     ownerID,
		Type:       model.NotificationInconsistencyDetected,
		Message:    fmt.Sprintf("Inconsistency detected in %q (score: %s)", displayTitle(e.DocumentTitle, e.DocumentID), formatScore(e.Score)),
		DocumentID: e.DocumentID,
		Metadata: map[string]any{
			"documentTitle": e.DocumentTitle,
			"score":         e.Score,
		},
	})
	if err != nil {
		return fmt.Errorf("CONSISTENCY_RESULTの通知作成に失敗: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"document_id":     e.DocumentID,
		"user_id":         ownerID,
	}).Info("不整合検出の通知を作成しました")
	return nil
}

func displayTitle(title, documentID string) string {
	if title == "" {
		return documentID
	}
	return title
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

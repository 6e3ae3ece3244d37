package notification

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/nao1215/docnotify/internal/model"
	"github.com/nao1215/docnotify/pkg/event"
)

// setupTestBus は通知サービスを接続したイベントバスを構築する。
func setupTestBus(t *testing.T) (*Service, *event.Bus, *test.Hook) {
	t.Helper()
	s := setupTestService(t)
	logger, hook := test.NewNullLogger()
	bus := event.NewBus(logger)
	s.Attach(bus)
	return s, bus, hook
}

// TestHandleDocUpdated はドキュメント更新イベントから通知が作成されることを検証する。
func TestHandleDocUpdated(t *testing.T) {
	t.Parallel()

	t.Run("更新したユーザーにDOCUMENT_UPDATED通知が作成されること", func(t *testing.T) {
		t.Parallel()
		s, bus, _ := setupTestBus(t)

		var pushed []model.Notification
		s.Subscribe("user-1", func(n model.Notification) { pushed = append(pushed, n) })

		err := bus.Publish(t.Context(), event.DocUpdated{
			DocumentID:    "doc-1",
			UpdatedBy:     "user-1",
			DocumentTitle: "設計書",
		})
		if err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}

		got, err := s.GetNotifications(t.Context(), model.NotificationFilter{UserID: "user-1"})
		if err != nil {
			t.Fatalf("GetNotifications()でエラーが発生: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("通知件数: got %d, want 1", len(got))
		}
		n := got[0]
		if n.Type != model.NotificationDocumentUpdated {
			t.Errorf("Type = %s, want %s", n.Type, model.NotificationDocumentUpdated)
		}
		if n.Message != `Document "設計書" was updated` {
			t.Errorf("Message = %q", n.Message)
		}
		if n.DocumentID != "doc-1" {
			t.Errorf("DocumentID = %s, want doc-1", n.DocumentID)
		}
		if n.Metadata["documentTitle"] != "設計書" || n.Metadata["updatedBy"] != "user-1" {
			t.Errorf("Metadata = %v", n.Metadata)
		}
		if len(pushed) != 1 || pushed[0].ID != n.ID {
			t.Errorf("ライブ配信: %+v", pushed)
		}
	})

	t.Run("タイトルが空の場合はドキュメントIDをメッセージに使うこと", func(t *testing.T) {
		t.Parallel()
		s, bus, _ := setupTestBus(t)

		if err := bus.Publish(t.Context(), event.DocUpdated{DocumentID: "doc-9", UpdatedBy: "user-1"}); err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}

		got, err := s.GetNotifications(t.Context(), model.NotificationFilter{UserID: "user-1"})
		if err != nil {
			t.Fatalf("GetNotifications()でエラーが発生: %v", err)
		}
		if len(got) != 1 || got[0].Message != `Document "doc-9" was updated` {
			t.Errorf("通知: %+v", got)
		}
	})
}

// TestHandleConsistencyResult は整合性チェック結果イベントの扱いを検証する。
func TestHandleConsistencyResult(t *testing.T) {
	t.Parallel()

	t.Run("整合している結果では通知が作成されないこと", func(t *testing.T) {
		t.Parallel()
		s, bus, _ := setupTestBus(t)

		err := bus.Publish(t.Context(), event.ConsistencyResult{
			DocumentID:   "doc-1",
			IsConsistent: true,
			Score:        0.98,
		})
		if err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}

		count, err := s.CountUnread(t.Context(), "owner-1")
		if err != nil {
			t.Fatalf("CountUnread()でエラーが発生: %v", err)
		}
		if count != 0 {
			t.Errorf("未読数: got %d, want 0", count)
		}
	})

	t.Run("不整合の結果ではドキュメント所有者に通知が作成されること", func(t *testing.T) {
		t.Parallel()
		s, bus, _ := setupTestBus(t)

		err := bus.Publish(t.Context(), event.ConsistencyResult{
			DocumentID:    "doc-1",
			IsConsistent:  false,
			Score:         0.42,
			DocumentTitle: "API仕様",
		})
		if err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}

		got, err := s.GetNotifications(t.Context(), model.NotificationFilter{UserID: "owner-1"})
		if err != nil {
			t.Fatalf("GetNotifications()でエラーが発生: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("通知件数: got %d, want 1", len(got))
		}
		n := got[0]
		if n.Type != model.NotificationInconsistencyDetected {
			t.Errorf("Type = %s, want %s", n.Type, model.NotificationInconsistencyDetected)
		}
		if n.Message != `Inconsistency detected in "API仕様" (score: 0.42)` {
			t.Errorf("Message = %q", n.Message)
		}
		if n.Metadata["score"] != 0.42 {
			t.Errorf("Metadata[score] = %v", n.Metadata["score"])
		}
	})

	t.Run("所有者が解決できない場合は通知を作らずエラーをログに残すこと", func(t *testing.T) {
		t.Parallel()
		s, bus, hook := setupTestBus(t)

		err := bus.Publish(t.Context(), event.ConsistencyResult{DocumentID: "unknown-doc", Score: 0.1})
		if err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}

		count, err := s.CountUnread(t.Context(), "owner-1")
		if err != nil {
			t.Fatalf("CountUnread()でエラーが発生: %v", err)
		}
		if count != 0 {
			t.Errorf("未読数: got %d, want 0", count)
		}

		errorLogs := 0
		for _, entry := range hook.AllEntries() {
			if entry.Level == logrus.ErrorLevel {
				errorLogs++
			}
		}
		if errorLogs != 1 {
			t.Errorf("エラーログ数: got %d, want 1", errorLogs)
		}
	})
}

// TestPublishJSON はワイヤ形式のイベントから通知が作成されることを検証する。
func TestPublishJSON(t *testing.T) {
	t.Parallel()

	s, bus, _ := setupTestBus(t)

	payload := []byte(`{"documentId":"doc-2","updatedBy":"user-7","documentTitle":"議事録"}`)
	if err := bus.PublishJSON(t.Context(), "DOC_UPDATED", payload); err != nil {
		t.Fatalf("PublishJSON()でエラーが発生: %v", err)
	}

	count, err := s.CountUnread(t.Context(), "user-7")
	if err != nil {
		t.Fatalf("CountUnread()でエラーが発生: %v", err)
	}
	if count != 1 {
		t.Errorf("未読数: got %d, want 1", count)
	}
}

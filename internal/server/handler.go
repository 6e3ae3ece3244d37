package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/docnotify/internal/model"
	"github.com/nao1215/docnotify/internal/realtime"
	"github.com/nao1215/docnotify/pkg/event"
	"github.com/nao1215/docnotify/pkg/middleware"
)

// publishEventRequest はイベント発行リクエストのJSON構造。
type publishEventRequest struct {
	// Event はイベント名。DOC_UPDATED または CONSISTENCY_RESULT。
	Event string `json:"event" binding:"required"`
	// Payload はイベントごとのデータ。
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// broadcastRequest は任意メッセージのプッシュリクエストのJSON構造。
type broadcastRequest struct {
	Type string          `json:"type" binding:"required"`
	Data json.RawMessage `json:"data"`
}

// countResponse は件数を返すレスポンス。
type countResponse struct {
	Count int64 `json:"count"`
}

// respondError はドメインのエラーをHTTPステータスに変換して返す。
// 入力エラーは400、未検出は404、それ以外は500としてログに記録する。
func (s *Server) respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, event.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": message + "が見つかりません"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message + "の処理に失敗しました"})
	}
}

// requireUserID は認証済みユーザーIDを返す。取得できない場合は401を返してfalseを返す。
func requireUserID(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return "", false
	}
	return userID, true
}

// handleListNotifications は認証ユーザーの通知一覧を新しい順に返すハンドラを返す。
// クエリパラメータ read, type, documentId で絞り込める。
func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		filter := model.NotificationFilter{
			UserID:     userID,
			Type:       model.NotificationType(c.Query("type")),
			DocumentID: c.Query("documentId"),
		}
		if raw := c.Query("read"); raw != "" {
			read, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "readはtrueまたはfalseで指定してください"})
				return
			}
			filter.Read = &read
		}

		notifications, err := s.notifications.GetNotifications(c.Request.Context(), filter)
		if err != nil {
			s.respondError(c, err, "通知一覧")
			return
		}
		c.JSON(http.StatusOK, notifications)
	}
}

// handleUnreadCount は認証ユーザーの未読通知数を返すハンドラを返す。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		count, err := s.notifications.CountUnread(c.Request.Context(), userID)
		if err != nil {
			s.respondError(c, err, "未読数")
			return
		}
		c.JSON(http.StatusOK, countResponse{Count: count})
	}
}

// handleMarkAsRead は通知を既読にするハンドラを返す。
// 他ユーザーの通知は存在しない通知と同じく404になる。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		n, err := s.notifications.MarkAsRead(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			s.respondError(c, err, "通知")
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

// handleMarkAllAsRead は認証ユーザーの未読通知をすべて既読にするハンドラを返す。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		count, err := s.notifications.MarkAllAsRead(c.Request.Context(), userID)
		if err != nil {
			s.respondError(c, err, "通知")
			return
		}
		c.JSON(http.StatusOK, countResponse{Count: count})
	}
}

func (s *Server) handleGetMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := s.metrics.GetMetrics(c.Request.Context(), c.Param("docId"))
		if err != nil {
			s.respondError(c, err, "メトリクス")
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// handleUpdateMetrics はカバレッジの上書きとチェック結果の加算を行うハンドラを返す。
func (s *Server) handleUpdateMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.MetricsUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		record, err := s.metrics.UpdateMetrics(c.Request.Context(), c.Param("docId"), req)
		if err != nil {
			s.respondError(c, err, "メトリクス")
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func (s *Server) handleResetMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.metrics.ResetMetrics(c.Request.Context(), c.Param("docId")); err != nil {
			s.respondError(c, err, "メトリクス")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handlePublishEvent は他サービスから受け取ったドメインイベントをバスに発行するハンドラを返す。
// ハンドラの失敗はバスがログに記録するため、検証を通過したイベントは常に202を返す。
func (s *Server) handlePublishEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req publishEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		if err := s.bus.PublishJSON(c.Request.Context(), req.Event, req.Payload); err != nil {
			s.respondError(c, err, "イベント")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	}
}

// handleCreateNotification は通知を直接作成するハンドラを返す。
func (s *Server) handleCreateNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.NewNotification
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		n, err := s.notifications.CreateNotification(c.Request.Context(), req)
		if err != nil {
			s.respondError(c, err, "通知")
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// handleBroadcast は指定ユーザーのopenな接続へ任意のメッセージを送るハンドラを返す。
func (s *Server) handleBroadcast() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req broadcastRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		msg := realtime.Message{Type: req.Type}
		if len(req.Data) > 0 {
			msg.Data = req.Data
		}
		pushed, err := s.realtime.BroadcastToUser(c.Param("userId"), msg)
		if err != nil {
			s.respondError(c, err, "メッセージ")
			return
		}
		c.JSON(http.StatusOK, gin.H{"pushed": pushed})
	}
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "notification"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	}
}

package realtime_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/docnotify/internal/model"
	"github.com/nao1215/docnotify/internal/notification"
	notificationdb "github.com/nao1215/docnotify/internal/notification/db"
	"github.com/nao1215/docnotify/internal/owner"
	"github.com/nao1215/docnotify/internal/realtime"
	"github.com/nao1215/docnotify/internal/storage"
)

// setupTestServer は通知サービスとWebSocketエンドポイントを持つテストサーバーを起動する。
func setupTestServer(t *testing.T) (*notification.Service, *realtime.Registry, *httptest.Server) {
	t.Helper()
	return setupTestServerWithOptions(t, realtime.Options{SendBuffer: 16})
}

func setupTestServerWithOptions(t *testing.T, opts realtime.Options) (*notification.Service, *realtime.Registry, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()

	db, err := storage.Open(t.Context(), ":memory:", logger)
	require.NoError(t, err, "インメモリDBの作成に失敗")
	t.Cleanup(func() { db.Close() })

	service := notification.NewService(notificationdb.New(db), owner.Static{}, logger)
	registry := realtime.NewRegistry(service, opts, logger)

	router := gin.New()
	router.GET("/ws/*path", registry.Handler())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return service, registry, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "WebSocket接続に失敗")
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readNotification(t *testing.T, ws *websocket.Conn) model.Notification {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg struct {
		Type string             `json:"type"`
		Data model.Notification `json:"data"`
	}
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err, "メッセージの受信に失敗")
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, realtime.MessageTypeNotification, msg.Type)
	return msg.Data
}

func createNotification(t *testing.T, s *notification.Service, userID, message string) model.Notification {
	t.Helper()
	n, err := s.CreateNotification(t.Context(), model.NewNotification{
		UserID:     userID,
		Type:       model.NotificationDocumentUpdated,
		Message:    message,
		DocumentID: "doc-1",
	})
	require.NoError(t, err)
	return n
}

func TestHandlerReplayThenLive(t *testing.T) {
	t.Parallel()
	service, registry, srv := setupTestServer(t)

	older := createNotification(t, service, "user-1", "1件目")
	time.Sleep(5 * time.Millisecond)
	newer := createNotification(t, service, "user-1", "2件目")
	read := createNotification(t, service, "user-1", "既読")
	_, err := service.MarkAsRead(t.Context(), read.ID, "user-1")
	require.NoError(t, err)
	createNotification(t, service, "user-2", "他ユーザー")

	ws := dial(t, srv, "/ws/user-1")

	first := readNotification(t, ws)
	second := readNotification(t, ws)
	assert.Equal(t, newer.ID, first.ID, "未読は新しい順に再送される")
	assert.Equal(t, older.ID, second.ID)
	assert.False(t, first.Timestamp.IsZero(), "timestampはISO-8601文字列として送られる")

	live := createNotification(t, service, "user-1", "接続後")
	got := readNotification(t, ws)
	assert.Equal(t, live.ID, got.ID, "接続後の通知は再送の後に届く")

	assert.Equal(t, 1, registry.ConnectionCount("user-1"))
	assert.Equal(t, 1, service.SubscriberCount("user-1"))

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool {
		return registry.ConnectionCount("user-1") == 0 && service.SubscriberCount("user-1") == 0
	}, 5*time.Second, 10*time.Millisecond, "切断後も接続と購読が残っている")
}

func TestHandlerBroadcast(t *testing.T) {
	t.Parallel()
	_, registry, srv := setupTestServer(t)

	ws := dial(t, srv, "/ws/user-1")

	// 未読がないため再送はすぐ終わりopenになる
	require.Eventually(t, func() bool {
		pushed, err := registry.BroadcastToUser("user-1", realtime.Message{Type: "PING"})
		return err == nil && pushed == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"PING","data":null}`, string(payload))
}

func TestHandlerRejectsInvalidPath(t *testing.T) {
	t.Parallel()

	paths := []struct {
		name string
		path string
	}{
		{name: "ユーザーIDが空の場合", path: "/ws/"},
		{name: "セグメントが複数の場合", path: "/ws/user-1/extra"},
	}

	for _, tt := range paths {
		t.Run(tt.name+"はコード4000で閉じられること", func(t *testing.T) {
			t.Parallel()
			_, registry, srv := setupTestServer(t)
			ws := dial(t, srv, tt.path)

			require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
			_, _, err := ws.ReadMessage()

			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, realtime.CloseInvalidPath, closeErr.Code)
			assert.Equal(t, realtime.InvalidPathReason, closeErr.Text)
			assert.Equal(t, 0, registry.ConnectionCount(""))
		})
	}
}

func TestHandlerAuthenticate(t *testing.T) {
	t.Parallel()

	tokens := map[string]string{"token-alice": "alice", "token-bob": "bob"}
	opts := realtime.Options{
		SendBuffer: 16,
		Authenticate: func(token string) (string, error) {
			userID, ok := tokens[token]
			if !ok {
				return "", errors.New("unknown token")
			}
			return userID, nil
		},
	}

	rejected := []struct {
		name   string
		path   string
		header http.Header
		status int
	}{
		{name: "トークンが無い場合は401", path: "/ws/alice", status: http.StatusUnauthorized},
		{name: "トークンが無効な場合は401", path: "/ws/alice?token=forged", status: http.StatusUnauthorized},
		{name: "他のユーザーのトークンの場合は403", path: "/ws/alice?token=token-bob", status: http.StatusForbidden},
		{
			name:   "Bearerヘッダーが他のユーザーの場合は403",
			path:   "/ws/alice",
			header: http.Header{"Authorization": []string{"Bearer token-bob"}},
			status: http.StatusForbidden,
		},
	}

	for _, tt := range rejected {
		t.Run(tt.name+"でアップグレードされないこと", func(t *testing.T) {
			t.Parallel()
			service, registry, srv := setupTestServerWithOptions(t, opts)
			createNotification(t, service, "alice", "秘密")

			url := "ws" + strings.TrimPrefix(srv.URL, "http") + tt.path
			ws, resp, err := websocket.DefaultDialer.Dial(url, tt.header)
			if ws != nil {
				ws.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, 0, registry.ConnectionCount("alice"))
		})
	}

	t.Run("本人のトークンでは未読通知が再送されること", func(t *testing.T) {
		t.Parallel()
		service, _, srv := setupTestServerWithOptions(t, opts)
		n := createNotification(t, service, "alice", "本人宛")

		ws := dial(t, srv, "/ws/alice?token=token-alice")
		got := readNotification(t, ws)
		assert.Equal(t, n.ID, got.ID)
	})

	t.Run("不正なパスは認証より先にコード4000で閉じられること", func(t *testing.T) {
		t.Parallel()
		_, _, srv := setupTestServerWithOptions(t, opts)
		ws := dial(t, srv, "/ws/")

		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := ws.ReadMessage()
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, realtime.CloseInvalidPath, closeErr.Code)
	})
}

package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/docnotify/internal/model"
	"github.com/nao1215/docnotify/internal/notification"
)

const (
	// CloseInvalidPath はハンドシェイクのパスが /{userId} の形式でない場合のクローズコード。
	CloseInvalidPath = 4000
	// InvalidPathReason はCloseInvalidPathと共に送る理由。
	InvalidPathReason = "Invalid URL format. Expected /{userId}"

	maxMessageSize = 4096
)

// Notifier は接続が必要とする通知サービスの操作。notification.Service が実装する。
type Notifier interface {
	Subscribe(userID string, cb notification.Callback) *notification.Subscription
	GetNotifications(ctx context.Context, filter model.NotificationFilter) ([]model.Notification, error)
}

// Options は接続ごとの送信設定。
type Options struct {
	// SendBuffer は接続ごとの送信キューの長さ。
	SendBuffer int
	// WriteTimeout は1回の書き込みの期限。
	WriteTimeout time.Duration
	// PingInterval はPingの送信間隔。Pongがこの間隔とWriteTimeoutの合計を超えて届かなければ切断する。
	PingInterval time.Duration
	// AllowedOrigins はハンドシェイクを許可するOrigin。"*"はすべて許可する。
	AllowedOrigins []string
	// Authenticate はハンドシェイクのトークンを検証し、トークンのユーザーIDを返す。
	// nilの場合は認証を行わない。
	Authenticate func(token string) (string, error)
}

// Registry はユーザーIDごとのライブ接続を管理する。
type Registry struct {
	notifier Notifier
	opts     Options
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger

	nextID atomic.Uint64
	mu     sync.RWMutex
	conns  map[string]map[uint64]*Conn
}

// NewRegistry は新しいRegistryを生成する。
func NewRegistry(notifier Notifier, opts Options, logger logrus.FieldLogger) *Registry {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}

	r := &Registry{
		notifier: notifier,
		opts:     opts,
		logger:   logger.WithField("component", "realtime"),
		conns:    make(map[string]map[uint64]*Conn),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

func (r *Registry) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(r.opts.AllowedOrigins, "*") || slices.Contains(r.opts.AllowedOrigins, origin)
}

// Handler は /ws/*path にマウントするハンドラを返す。
// パスが1つの空でないセグメントでない場合は、アップグレード後にCloseInvalidPathで閉じる。
// Authenticateが設定されている場合は、アップグレード前にtokenクエリまたはBearerトークンを検証し、
// トークンが無効なら401、トークンのユーザーがパスのユーザーと異なれば403を返す。
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseUserID(c.Param("path"))
		if ok && r.opts.Authenticate != nil {
			if !r.authorize(c, userID) {
				return
			}
		}

		ws, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			r.logger.WithError(err).Warn("WebSocketへのアップグレードに失敗しました")
			return
		}

		if !ok {
			r.logger.WithField("path", c.Request.URL.Path).Warn("不正なパスでの接続を拒否しました")
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseInvalidPath, InvalidPathReason),
				time.Now().Add(r.opts.WriteTimeout))
			_ = ws.Close()
			return
		}

		r.serve(c.Request.Context(), userID, ws)
	}
}

// authorize はハンドシェイクのトークンを検証する。拒否した場合はレスポンスを書いてfalseを返す。
func (r *Registry) authorize(c *gin.Context, userID string) bool {
	token := c.Query("token")
	if token == "" {
		token, _ = strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "トークンが必要です"})
		return false
	}

	tokenUserID, err := r.opts.Authenticate(token)
	if err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Warn("WebSocketのトークン検証に失敗しました")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "トークンが無効です"})
		return false
	}
	if tokenUserID != userID {
		r.logger.WithFields(logrus.Fields{
			"user_id":       userID,
			"token_user_id": tokenUserID,
		}).Warn("他のユーザーの通知への接続を拒否しました")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "他のユーザーの通知には接続できません"})
		return false
	}
	return true
}

// parseUserID は "/{userId}" 形式のパスからユーザーIDを取り出す。
func parseUserID(path string) (string, bool) {
	userID := strings.TrimPrefix(path, "/")
	if userID == "" || strings.Contains(userID, "/") {
		return "", false
	}
	return userID, true
}

// serve は接続を登録し、未読通知を再送してから切断まで読み込みを続ける。
func (r *Registry) serve(ctx context.Context, userID string, ws *websocket.Conn) {
	conn := newConn(r.nextID.Add(1), userID, ws, r.opts, r.logger)

	r.add(conn)
	sub := r.notifier.Subscribe(userID, conn.Push)
	defer func() {
		sub.Unsubscribe()
		r.remove(conn)
		conn.close()
		conn.logger.Info("接続を閉じました")
	}()
	conn.logger.Info("接続を受け付けました")

	go conn.writeLoop(r.opts.PingInterval)

	// 購読を先に登録してから未読を取得するため、その間に作成された通知も失われない
	go conn.replay(ctx, func(ctx context.Context) ([]model.Notification, error) {
		unread := false
		return r.notifier.GetNotifications(ctx, model.NotificationFilter{UserID: userID, Read: &unread})
	})

	conn.readLoop(r.opts.PingInterval + r.opts.WriteTimeout)
}

func (r *Registry) add(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[conn.userID] == nil {
		r.conns[conn.userID] = make(map[uint64]*Conn)
	}
	r.conns[conn.userID][conn.id] = conn
}

func (r *Registry) remove(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.conns[conn.userID]
	delete(conns, conn.id)
	if len(conns) == 0 {
		delete(r.conns, conn.userID)
	}
}

func (r *Registry) snapshot(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns[userID]))
	for _, conn := range r.conns[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// BroadcastToUser はユーザーのopenな接続すべてにメッセージを送り、送信キューに積めた接続数を返す。
// 他のユーザーの接続や、再送中・切断済みの接続には送らない。
func (r *Registry) BroadcastToUser(userID string, msg Message) (int, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, conn := range r.snapshot(userID) {
		if conn.sendRaw(payload) {
			pushed++
		}
	}
	return pushed, nil
}

// ConnectionCount はユーザーの接続数を返す。
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

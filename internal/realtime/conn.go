package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/docnotify/internal/model"
)

// MessageTypeNotification は通知のプッシュを表すメッセージ種別。
const MessageTypeNotification = "NOTIFICATION"

// Message はクライアントへ送るメッセージ。
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// state は接続の状態。replaying → open → closed の順にのみ遷移する。
type state int

const (
	stateReplaying state = iota
	stateOpen
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateReplaying:
		return "replaying"
	case stateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Conn はユーザーに紐づく1本のWebSocket接続。
type Conn struct {
	id     uint64
	userID string
	ws     *websocket.Conn
	// send は書き込みゴルーチンへ渡す送信キュー。満杯の場合はメッセージを破棄する。
	send chan []byte
	done chan struct{}

	mu    sync.Mutex
	state state
	// pending は再送中に届いたライブ通知。再送の完了後に送る。
	pending []model.Notification

	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       logrus.FieldLogger
}

func newConn(id uint64, userID string, ws *websocket.Conn, opts Options, logger logrus.FieldLogger) *Conn {
	return &Conn{
		id:           id,
		userID:       userID,
		ws:           ws,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		state:        stateReplaying,
		writeTimeout: opts.WriteTimeout,
		logger: logger.WithFields(logrus.Fields{
			"user_id": userID,
			"conn_id": id,
		}),
	}
}

// UserID は接続に紐づくユーザーIDを返す。
func (c *Conn) UserID() string { return c.userID }

// Push は通知サービスの購読コールバック。ブロックしない。
// 再送中は保留し、openであれば送信キューに積み、閉じていれば何もしない。
func (c *Conn) Push(n model.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateReplaying:
		c.pending = append(c.pending, n)
	case stateOpen:
		payload, err := json.Marshal(Message{Type: MessageTypeNotification, Data: n})
		if err != nil {
			c.logger.WithError(err).Warn("通知のシリアライズに失敗しました")
			return
		}
		c.enqueue(payload)
	}
}

// sendRaw はopenの接続にのみシリアライズ済みのメッセージを積む。積めた場合にtrueを返す。
func (c *Conn) sendRaw(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return false
	}
	return c.enqueue(payload)
}

// enqueue は送信キューが満杯なら破棄して警告する。c.muを保持して呼び出す。
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		c.logger.Warn("送信キューが満杯のためメッセージを破棄します")
		return false
	}
}

// sendBlocking は送信キューに空きができるか接続が閉じるまで待つ。再送でのみ使用する。
func (c *Conn) sendBlocking(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	}
}

// replay は未読通知を新しい順に送り、その間に保留したライブ通知を続けて送ってからopenへ遷移する。
// 未読の取得と購読の間に作成された通知は両方に現れるため、IDで重複を除く。
func (c *Conn) replay(ctx context.Context, unread func(ctx context.Context) ([]model.Notification, error)) {
	seen := make(map[string]struct{})

	notifications, err := unread(ctx)
	if err != nil {
		// 再送できなくてもライブ配信は続ける。未読は次回接続時に再送される
		c.logger.WithError(err).Warn("未読通知の取得に失敗しました")
	}
	if !c.sendNotifications(notifications, seen) {
		return
	}

	for {
		c.mu.Lock()
		if c.state == stateClosed {
			c.mu.Unlock()
			return
		}
		pending := c.pending
		c.pending = nil
		if len(pending) == 0 {
			c.state = stateOpen
			c.mu.Unlock()
			c.logger.WithField("replayed", len(seen)).Debug("再送が完了しました")
			return
		}
		c.mu.Unlock()

		if !c.sendNotifications(pending, seen) {
			return
		}
	}
}

func (c *Conn) sendNotifications(notifications []model.Notification, seen map[string]struct{}) bool {
	for _, n := range notifications {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}

		payload, err := json.Marshal(Message{Type: MessageTypeNotification, Data: n})
		if err != nil {
			c.logger.WithError(err).Warn("通知のシリアライズに失敗しました")
			continue
		}
		if !c.sendBlocking(payload) {
			return false
		}
	}
	return true
}

// close は接続をclosedにして書き込みゴルーチンを止める。何度呼び出しても安全。
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.pending = nil
		c.mu.Unlock()
		close(c.done)
	})
}

// writeLoop は送信キューのメッセージと定期的なPingを書き込む。
// 書き込みに失敗した場合は接続を閉じる。
func (c *Conn) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.WithError(err).Warn("メッセージの送信に失敗したため接続を閉じます")
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.writeTimeout))
			return
		}
	}
}

// readLoop はクライアントからのメッセージを読み捨て、切断を検出するまでブロックする。
func (c *Conn) readLoop(readTimeout time.Duration) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.WithError(err).Warn("接続が異常終了しました")
			}
			return
		}
	}
}

package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/docnotify/internal/model"
	notificationdb "github.com/nao1215/docnotify/internal/notification/db"
	"github.com/nao1215/docnotify/internal/owner"
)

// Store は通知の永続化を担うストレージ。notificationdb.Queries が実装する。
type Store interface {
	CreateNotification(ctx context.Context, arg notificationdb.CreateNotificationParams) (notificationdb.Notification, error)
	GetNotificationForUser(ctx context.Context, id, userID string) (notificationdb.Notification, error)
	ListNotifications(ctx context.Context, arg notificationdb.ListNotificationsParams) ([]notificationdb.Notification, error)
	MarkAsRead(ctx context.Context, id, userID string) (int64, error)
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	DeleteNotificationsByUser(ctx context.Context, userID string) (int64, error)
}

// Service は通知の作成・保存・ファンアウトを調整する。
type Service struct {
	// store は通知の永続化先。
	store Store
	// owners はドキュメントの所有者を解決する。
	owners owner.Resolver
	// subs はユーザーIDごとのライブ購読者。
	subs *subscribers
	// logger は構造化ログの出力先。
	logger logrus.FieldLogger
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewService は新しい通知サービスを生成する。
func NewService(store Store, owners owner.Resolver, logger logrus.FieldLogger) *Service {
	return &Service{
		store:  store,
		owners: owners,
		subs:   newSubscribers(),
		logger: logger.WithField("component", "notification"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateNotification は通知を検証・保存し、そのユーザーのライブ購読者へ配信する。
// ストレージのエラーは呼び出し元へ返すが、配信の失敗は作成結果に影響しない。
func (s *Service) CreateNotification(ctx context.Context, in model.NewNotification) (model.Notification, error) {
	if err := in.Validate(); err != nil {
		return model.Notification{}, err
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return model.Notification{}, errors.Join(model.ErrInvalidInput, fmt.Errorf("metadataのシリアライズに失敗: %w", err))
	}

	row, err := s.store.CreateNotification(ctx, notificationdb.CreateNotificationParams{
		ID:         uuid.New().String(),
		UserID:     in.UserID,
		Type:       string(in.Type),
		Message:    in.Message,
		DocumentID: in.DocumentID,
		Metadata:   string(metadataJSON),
		CreatedAt:  s.now(),
	})
	if err != nil {
		return model.Notification{}, fmt.Errorf("通知の保存に失敗: %w", err)
	}

	n := toModel(row)
	s.fanOut(n)
	return n, nil
}

// fanOut はユーザーの購読者すべてに通知を渡す。
// 1つのコールバックのパニックは記録して握りつぶし、他の購読者への配信を続ける。
func (s *Service) fanOut(n model.Notification) {
	for _, cb := range s.subs.snapshot(n.UserID) {
		s.deliver(cb, n)
	}
}

func (s *Service) deliver(cb Callback, n model.Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"user_id":         n.UserID,
				"notification_id": n.ID,
				"panic":           r,
			}).Warn("購読者への配信に失敗したためスキップします")
		}
	}()
	cb(n)
}

// GetNotifications は条件に合う通知を新しい順に返す。
func (s *Service) GetNotifications(ctx context.Context, filter model.NotificationFilter) ([]model.Notification, error) {
	if filter.UserID == "" {
		return nil, errors.Join(model.ErrInvalidInput, errors.New("userIdは必須です"))
	}

	rows, err := s.store.ListNotifications(ctx, notificationdb.ListNotificationsParams{
		UserID:     filter.UserID,
		IsRead:     filter.Read,
		Type:       string(filter.Type),
		DocumentID: filter.DocumentID,
	})
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	notifications := make([]model.Notification, 0, len(rows))
	for _, row := range rows {
		notifications = append(notifications, toModel(row))
	}
	return notifications, nil
}

// MarkAsRead はユーザーが所有する通知を既読にして返す。
// 存在しない通知や他ユーザーの通知は、存在を漏らさないよう model.ErrNotFound を返す。
// 既読の通知に対しては更新を行わずに成功する。
func (s *Service) MarkAsRead(ctx context.Context, notificationID, userID string) (model.Notification, error) {
	if notificationID == "" || userID == "" {
		return model.Notification{}, errors.Join(model.ErrInvalidInput, errors.New("通知IDとuserIdは必須です"))
	}

	if _, err := s.store.MarkAsRead(ctx, notificationID, userID); err != nil {
		return model.Notification{}, fmt.Errorf("通知の既読処理に失敗: %w", err)
	}

	row, err := s.store.GetNotificationForUser(ctx, notificationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Notification{}, model.ErrNotFound
	}
	if err != nil {
		return model.Notification{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return toModel(row), nil
}

// MarkAllAsRead はユーザーの未読通知をすべて既読にし、更新した件数を返す。
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errors.Join(model.ErrInvalidInput, errors.New("userIdは必須です"))
	}

	count, err := s.store.MarkAllAsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return count, nil
}

// CountUnread はユーザーの未読通知数を返す。
func (s *Service) CountUnread(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errors.Join(model.ErrInvalidInput, errors.New("userIdは必須です"))
	}

	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("未読通知数の取得に失敗: %w", err)
	}
	return count, nil
}

// ResetNotifications はユーザーの通知をすべて削除する。管理・テスト用の操作。
func (s *Service) ResetNotifications(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errors.Join(model.ErrInvalidInput, errors.New("userIdは必須です"))
	}

	count, err := s.store.DeleteNotificationsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("通知の削除に失敗: %w", err)
	}
	return count, nil
}

// Subscribe はこれ以降にuserID宛てに作成される通知を受け取るコールバックを登録する。
// 既存の未読通知の再送は行わない。
//
// コールバックはCreateNotificationを呼んだゴルーチン上で、登録順に1つずつ同期的に実行される。
// CreateNotificationはすべてのコールバックが戻るまで戻らないため、コールバックはブロックしてはならない。
// 重い処理や遅い送信先への書き込みは、realtime.Conn.Pushのようにバッファ付きキューへ積んで別のゴルーチンで行うこと。
func (s *Service) Subscribe(userID string, cb Callback) *Subscription {
	return s.subs.add(userID, cb)
}

// SubscriberCount はユーザーのライブ購読者数を返す。
func (s *Service) SubscriberCount(userID string) int {
	return s.subs.count(userID)
}

// toModel はDB行をドメインの通知に変換する。
func toModel(row notificationdb.Notification) model.Notification {
	var metadata map[string]any
	if row.Metadata != "" {
		// 保存時にJSONへ変換しているため、失敗した場合は空として扱う
		_ = json.Unmarshal([]byte(row.Metadata), &metadata)
	}
	return model.Notification{
		ID:         row.ID,
		UserID:     row.UserID,
		Type:       model.NotificationType(row.Type),
		Message:    row.Message,
		DocumentID: row.DocumentID,
		Read:       row.IsRead != 0,
		Timestamp:  row.CreatedAt.UTC(),
		Metadata:   metadata,
	}
}

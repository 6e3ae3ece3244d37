package db

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// notificationColumns はSELECTとRETURNINGで共通のカラム一覧。
const notificationColumns = "id, user_id, type, message, document_id, is_read, metadata, created_at"

const createNotification = `
INSERT INTO notifications (id, user_id, type, message, document_id, is_read, metadata, created_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?)`

// CreateNotificationParams はCreateNotificationの引数。
type CreateNotificationParams struct {
	ID         string
	UserID     string
	Type       string
	Message    string
	DocumentID string
	Metadata   string
	CreatedAt  time.Time
}

// CreateNotification は未読の通知を1件挿入し、保存された行を返す。
func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) (Notification, error) {
	_, err := q.db.ExecContext(ctx, createNotification,
		arg.ID,
		arg.UserID,
		arg.Type,
		arg.Message,
		arg.DocumentID,
		arg.Metadata,
		arg.CreatedAt,
	)
	if err != nil {
		return Notification{}, err
	}
	return Notification{
		ID:         arg.ID,
		UserID:     arg.UserID,
		Type:       arg.Type,
		Message:    arg.Message,
		DocumentID: arg.DocumentID,
		Metadata:   arg.Metadata,
		CreatedAt:  arg.CreatedAt,
	}, nil
}

const getNotificationForUser = `
SELECT ` + notificationColumns + `
FROM notifications
WHERE id = ? AND user_id = ?`

// GetNotificationForUser は指定ユーザーが所有する通知を1件取得する。
// 他ユーザーの通知はsql.ErrNoRowsになる。
func (q *Queries) GetNotificationForUser(ctx context.Context, id, userID string) (Notification, error) {
	var n Notification
	err := q.db.GetContext(ctx, &n, getNotificationForUser, id, userID)
	return n, err
}

// ListNotificationsParams は通知一覧の絞り込み条件。ゼロ値の条件は無視する。
type ListNotificationsParams struct {
	UserID     string
	IsRead     *bool
	Type       string
	DocumentID string
}

// ListNotifications は条件に合う通知を新しい順に返す。
// 同時刻の通知は挿入順の逆で並べる。
func (q *Queries) ListNotifications(ctx context.Context, arg ListNotificationsParams) ([]Notification, error) {
	where := sq.And{sq.Eq{"user_id": arg.UserID}}
	if arg.IsRead != nil {
		isRead := 0
		if *arg.IsRead {
			isRead = 1
		}
		where = append(where, sq.Eq{"is_read": isRead})
	}
	if arg.Type != "" {
		where = append(where, sq.Eq{"type": arg.Type})
	}
	if arg.DocumentID != "" {
		where = append(where, sq.Eq{"document_id": arg.DocumentID})
	}

	query, args, err := sq.Select(notificationColumns).
		From("notifications").
		Where(where).
		OrderBy("created_at DESC", "rowid DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	notifications := []Notification{}
	if err := q.db.SelectContext(ctx, &notifications, query, args...); err != nil {
		return nil, err
	}
	return notifications, nil
}

const markAsRead = `
UPDATE notifications SET is_read = 1
WHERE id = ? AND user_id = ? AND is_read = 0`

// MarkAsRead は指定ユーザーの未読通知を既読にし、更新件数を返す。
// 既読の通知や他ユーザーの通知は更新せず0を返す。
func (q *Queries) MarkAsRead(ctx context.Context, id, userID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, markAsRead, id, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markAllAsRead = `
UPDATE notifications SET is_read = 1
WHERE user_id = ? AND is_read = 0`

// MarkAllAsRead はユーザーの未読通知をすべて既読にし、更新件数を返す。
func (q *Queries) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, markAllAsRead, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countUnread = `
SELECT COUNT(*) FROM notifications
WHERE user_id = ? AND is_read = 0`

// CountUnread はユーザーの未読通知数を返す。
func (q *Queries) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := q.db.GetContext(ctx, &count, countUnread, userID)
	return count, err
}

const deleteNotificationsByUser = `
DELETE FROM notifications WHERE user_id = ?`

// DeleteNotificationsByUser はユーザーの通知をすべて削除し、削除件数を返す。
func (q *Queries) DeleteNotificationsByUser(ctx context.Context, userID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteNotificationsByUser, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

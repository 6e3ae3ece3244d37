package db

import "time"

// Notification はnotificationsテーブルの1行。
type Notification struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	Type       string    `db:"type"`
	Message    string    `db:"message"`
	DocumentID string    `db:"document_id"`
	IsRead     int64     `db:"is_read"`
	Metadata   string    `db:"metadata"`
	CreatedAt  time.Time `db:"created_at"`
}

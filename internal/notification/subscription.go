package notification

import (
	"sync"

	"github.com/nao1215/docnotify/internal/model"
)

// Callback は新しく作成された通知を受け取る関数。
// 通知作成の呼び出し元のゴルーチンで実行されるため、ブロックしてはならない。
type Callback func(n model.Notification)

// Subscription はSubscribeが返す購読ハンドル。
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe は購読を解除する。何度呼び出しても安全で、2回目以降は何もしない。
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// subscribers はユーザーIDごとのコールバック集合。
type subscribers struct {
	mu     sync.RWMutex
	nextID uint64
	byUser map[string]map[uint64]Callback
}

func newSubscribers() *subscribers {
	return &subscribers{byUser: make(map[string]map[uint64]Callback)}
}

func (s *subscribers) add(userID string, cb Callback) *Subscription {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[uint64]Callback)
	}
	s.byUser[userID][id] = cb
	s.mu.Unlock()

	return &Subscription{cancel: func() { s.remove(userID, id) }}
}

func (s *subscribers) remove(userID string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	callbacks := s.byUser[userID]
	delete(callbacks, id)
	if len(callbacks) == 0 {
		delete(s.byUser, userID)
	}
}

// snapshot はファンアウト用にユーザーのコールバックをコピーして返す。
// ロックを保持したままコールバックを呼び出さないようにするため。
func (s *subscribers) snapshot(userID string) []Callback {
	s.mu.RLock()
	defer s.mu.RUnlock()

	callbacks := make([]Callback, 0, len(s.byUser[userID]))
	for _, cb := range s.byUser[userID] {
		callbacks = append(callbacks, cb)
	}
	return callbacks
}

func (s *subscribers) count(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID])
}

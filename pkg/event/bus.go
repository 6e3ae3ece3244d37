package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler はバスから配信されたイベントを処理する関数。
// 返されたエラーはバスがログに記録し、他のハンドラの実行は継続される。
type Handler func(ctx context.Context, e Event) error

// Bus はプロセス内のPub/Subチャネル。
// 永続化は行わず、Publish時点で登録されていないハンドラにはイベントは届かない。
type Bus struct {
	// mu はhandlersへの並行アクセスを保護する。
	mu sync.RWMutex
	// handlers はイベント種別ごとの登録順のハンドラ一覧。
	handlers map[Type][]Handler
	// logger はハンドラのエラーを記録するロガー。
	logger logrus.FieldLogger
}

// NewBus は新しいイベントバスを生成する。
func NewBus(logger logrus.FieldLogger) *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
		logger:   logger.WithField("component", "eventbus"),
	}
}

// Subscribe は指定したイベント種別のハンドラを登録する。
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// On は特定のイベント型だけを受け取るハンドラを登録する。
func On[T Event](b *Bus, h func(ctx context.Context, e T) error) {
	var zero T
	b.Subscribe(zero.Type(), func(ctx context.Context, e Event) error {
		typed, ok := e.(T)
		if !ok {
			return fmt.Errorf("%w: %s に対して想定外の型 %T", ErrInvalidEvent, zero.Type(), e)
		}
		return h(ctx, typed)
	})
}

// Publish はイベントを検証し、登録済みのハンドラへ登録順に同期的に配信する。
// 検証エラーの場合はどのハンドラも呼び出さない。
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e == nil {
		return fmt.Errorf("%w: イベントがnilです", ErrInvalidEvent)
	}
	if err := e.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type()]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.WithField("event", e.Type()).Debug("ハンドラが登録されていないためイベントを破棄します")
		return nil
	}

	for i, h := range handlers {
		b.dispatch(ctx, e, i, h)
	}
	return nil
}

// PublishJSON はワイヤ形式のイベント名とペイロードをデコードしてから発行する。
func (b *Bus) PublishJSON(ctx context.Context, name string, payload json.RawMessage) error {
	e, err := Decode(name, payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, e)
}

// dispatch は1つのハンドラを実行する。エラーとパニックはログに記録して握りつぶす。
func (b *Bus) dispatch(ctx context.Context, e Event, index int, h Handler) {
	log := b.logger.WithFields(logrus.Fields{"event": e.Type(), "handler": index})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("イベントハンドラでパニックが発生しました")
		}
	}()
	if err := h(ctx, e); err != nil {
		log.WithError(err).Error("イベントハンドラの実行に失敗しました")
	}
}

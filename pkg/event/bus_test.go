package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestBus(t *testing.T) (*Bus, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewBus(logger), hook
}

// TestBusPublish はPublishの配信順序と隔離性を検証する。
func TestBusPublish(t *testing.T) {
	t.Parallel()

	t.Run("登録順にハンドラが同期的に呼び出されること", func(t *testing.T) {
		t.Parallel()
		bus, _ := newTestBus(t)

		var calls []string
		bus.Subscribe(TypeDocUpdated, func(_ context.Context, _ Event) error {
			calls = append(calls, "first")
			return nil
		})
		bus.Subscribe(TypeDocUpdated, func(_ context.Context, _ Event) error {
			calls = append(calls, "second")
			return nil
		})

		err := bus.Publish(t.Context(), DocUpdated{DocumentID: "doc-1", UpdatedBy: "user-1"})
		if err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}

		if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
			t.Errorf("呼び出し順: got %v, want [first second]", calls)
		}
	})

	t.Run("エラーやパニックを起こすハンドラがあっても他のハンドラは実行されること", func(t *testing.T) {
		t.Parallel()
		bus, hook := newTestBus(t)

		called := false
		bus.Subscribe(TypeConsistencyResult, func(_ context.Context, _ Event) error {
			return errors.New("失敗")
		})
		bus.Subscribe(TypeConsistencyResult, func(_ context.Context, _ Event) error {
			panic("想定外")
		})
		bus.Subscribe(TypeConsistencyResult, func(_ context.Context, _ Event) error {
			called = true
			return nil
		})

		if err := bus.Publish(t.Context(), ConsistencyResult{DocumentID: "doc-1"}); err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}

		if !called {
			t.Error("後続のハンドラが呼び出されていない")
		}

		errorLogs := 0
		for _, entry := range hook.AllEntries() {
			if entry.Level == logrus.ErrorLevel {
				errorLogs++
			}
		}
		if errorLogs != 2 {
			t.Errorf("エラーログの件数: got %d, want 2", errorLogs)
		}
	})

	t.Run("別種別のハンドラは呼び出されないこと", func(t *testing.T) {
		t.Parallel()
		bus, _ := newTestBus(t)

		called := false
		bus.Subscribe(TypeConsistencyResult, func(_ context.Context, _ Event) error {
			called = true
			return nil
		})

		if err := bus.Publish(t.Context(), DocUpdated{DocumentID: "doc-1", UpdatedBy: "user-1"}); err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}
		if called {
			t.Error("CONSISTENCY_RESULTのハンドラがDOC_UPDATEDで呼び出された")
		}
	})

	t.Run("検証エラーの場合はハンドラを呼び出さずにエラーを返すこと", func(t *testing.T) {
		t.Parallel()
		bus, _ := newTestBus(t)

		called := false
		bus.Subscribe(TypeDocUpdated, func(_ context.Context, _ Event) error {
			called = true
			return nil
		})

		err := bus.Publish(t.Context(), DocUpdated{DocumentID: "doc-1"})
		if !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("err = %v, want ErrInvalidEvent", err)
		}
		if called {
			t.Error("不正なイベントでハンドラが呼び出された")
		}
	})

	t.Run("ハンドラが未登録の場合はイベントが破棄されること", func(t *testing.T) {
		t.Parallel()
		bus, _ := newTestBus(t)

		if err := bus.Publish(t.Context(), ConsistencyResult{DocumentID: "doc-1"}); err != nil {
			t.Errorf("Publish()でエラーが発生: %v", err)
		}
	})

	t.Run("nilイベントはエラーになること", func(t *testing.T) {
		t.Parallel()
		bus, _ := newTestBus(t)

		if err := bus.Publish(t.Context(), nil); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("err = %v, want ErrInvalidEvent", err)
		}
	})
}

// TestOn は型付きハンドラ登録を検証する。
func TestOn(t *testing.T) {
	t.Parallel()

	bus, _ := newTestBus(t)

	var got ConsistencyResult
	On(bus, func(_ context.Context, e ConsistencyResult) error {
		got = e
		return nil
	})

	want := ConsistencyResult{DocumentID: "doc-9", IsConsistent: true, Score: 0.9, DocumentTitle: "要件"}
	if err := bus.Publish(t.Context(), want); err != nil {
		t.Fatalf("Publish()でエラーが発生: %v", err)
	}
	if got != want {
		t.Errorf("受信したイベント = %+v, want %+v", got, want)
	}
}

// TestBusPublishJSON はワイヤ形式からの発行を検証する。
func TestBusPublishJSON(t *testing.T) {
	t.Parallel()

	t.Run("デコードしたイベントがハンドラに届くこと", func(t *testing.T) {
		t.Parallel()
		bus, _ := newTestBus(t)

		var got DocUpdated
		On(bus, func(_ context.Context, e DocUpdated) error {
			got = e
			return nil
		})

		err := bus.PublishJSON(t.Context(), "DOC_UPDATED",
			json.RawMessage(`{"documentId":"doc-1","updatedBy":"user-1","documentTitle":"設計"}`))
		if err != nil {
			t.Fatalf("PublishJSON()でエラーが発生: %v", err)
		}
		if got.UpdatedBy != "user-1" {
			t.Errorf("UpdatedBy = %q, want user-1", got.UpdatedBy)
		}
	})

	t.Run("必須フィールドが欠けたペイロードは拒否されること", func(t *testing.T) {
		t.Parallel()
		bus, _ := newTestBus(t)

		err := bus.PublishJSON(t.Context(), "DOC_UPDATED", json.RawMessage(`{"documentTitle":"設計"}`))
		if !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("err = %v, want ErrInvalidEvent", err)
		}
	})
}

// TestBusConcurrentSubscribe は購読と発行が並行しても安全であることを検証する。
func TestBusConcurrentSubscribe(t *testing.T) {
	t.Parallel()

	bus, _ := newTestBus(t)

	var (
		mu    sync.Mutex
		count int
		wg    sync.WaitGroup
	)
	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Subscribe(TypeDocUpdated, func(_ context.Context, _ Event) error {
				mu.Lock()
				count++
				mu.Unlock()
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), DocUpdated{DocumentID: "doc-1", UpdatedBy: "user-1"})
		}()
	}
	wg.Wait()

	mu.Lock()
	before := count
	mu.Unlock()

	if err := bus.Publish(t.Context(), DocUpdated{DocumentID: "doc-1", UpdatedBy: "user-1"}); err != nil {
		t.Fatalf("Publish()でエラーが発生: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count-before != 20 {
		t.Errorf("最後の発行で呼び出されたハンドラ数: got %d, want 20", count-before)
	}
}

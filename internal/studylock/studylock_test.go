package studylock

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// TestTryLock_Conflict проверяет отказ второй монопольной блокировки.
func TestTryLock_Conflict(t *testing.T) {
	r := New(testLogger())

	release, err := r.TryLock("MTBLS1")
	if err != nil {
		t.Fatalf("первая блокировка: %v", err)
	}
	if _, err := r.TryLock("MTBLS1"); !errors.Is(err, ErrLocked) {
		t.Errorf("ожидалась ErrLocked, получено %v", err)
	}
	if _, err := r.TryLock("MTBLS2"); err != nil {
		t.Errorf("другое исследование не должно блокироваться: %v", err)
	}

	release()
	release()
	if rel, err := r.TryLock("MTBLS1"); err != nil {
		t.Errorf("после освобождения: %v", err)
	} else {
		rel()
	}
}

// TestRegistry_GC проверяет удаление записей после освобождения.
func TestRegistry_GC(t *testing.T) {
	r := New(testLogger())

	rel1, _ := r.RLock(context.Background(), "MTBLS1")
	rel2, _ := r.RLock(context.Background(), "MTBLS1")
	if r.Len() != 1 {
		t.Errorf("ожидалась 1 запись, получено %d", r.Len())
	}
	rel1()
	if r.Len() != 1 {
		t.Error("запись удалена при оставшемся владельце")
	}
	rel2()
	if r.Len() != 0 {
		t.Errorf("ожидалось 0 записей, получено %d", r.Len())
	}

	if _, err := r.TryLock("X"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.TryLock("X"); err == nil {
		t.Fatal("ожидался конфликт")
	}
	if r.Len() != 1 {
		t.Errorf("неудачная попытка не должна оставлять записей: %d", r.Len())
	}
}

// TestRLock_ExcludesWriter проверяет, что аренда на чтение исключает монопольную блокировку.
func TestRLock_ExcludesWriter(t *testing.T) {
	r := New(testLogger())
	rel, err := r.RLock(context.Background(), "MTBLS1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.TryLock("MTBLS1"); !errors.Is(err, ErrLocked) {
		t.Errorf("ожидалась ErrLocked, получено %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Lock(ctx, "MTBLS1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидался таймаут, получено %v", err)
	}
	rel()
	if r.Len() != 0 {
		t.Errorf("ожидалось 0 записей, получено %d", r.Len())
	}
}

// TestLock_Serializes проверяет взаимное исключение монопольных блокировок.
func TestLock_Serializes(t *testing.T) {
	r := New(testLogger())
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := r.Lock(context.Background(), "MTBLS1")
			if err != nil {
				t.Error(err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			rel()
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("одновременно внутри %d владельцев", maxInside.Load())
	}
	if r.Len() != 0 {
		t.Errorf("ожидалось 0 записей, получено %d", r.Len())
	}
}

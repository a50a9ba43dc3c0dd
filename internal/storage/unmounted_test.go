package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// newAgentPair поднимает агент над локальным хранилищем и возвращает
// клиент UnmountedStorage и базовое хранилище.
func newAgentPair(t *testing.T, token string) (*UnmountedStorage, *MountedStorage) {
	t.Helper()
	backend := newMounted(t, "ftp-backend")
	srv := httptest.NewServer(NewAgent(backend, token, testLogger()).Handler())
	t.Cleanup(srv.Close)

	client, err := NewUnmounted("ftp", RemoteOptions{URL: srv.URL + "/", Token: token}, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания клиента: %v", err)
	}
	return client, backend
}

// TestUnmounted_Operations проверяет операции через протокол агента.
func TestUnmounted_Operations(t *testing.T) {
	u, backend := newAgentPair(t, "secret")
	ctx := context.Background()

	if err := u.CreateFolder(ctx, "mtbls1-abc", model.ACLAuthorizedReadWrite, false); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if err := u.CreateFolder(ctx, "mtbls1-abc", "", false); !errors.Is(err, ErrExists) {
		t.Errorf("ожидалась ErrExists, получено %v", err)
	}

	mt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := u.Put(ctx, "mtbls1-abc/i_Investigation.txt", strings.NewReader("INVESTIGATION\n"), mt); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := readFile(t, backend, "mtbls1-abc/i_Investigation.txt"); got != "INVESTIGATION\n" {
		t.Errorf("содержимое на агенте: %q", got)
	}
	if got := readFile(t, u, "mtbls1-abc/i_Investigation.txt"); got != "INVESTIGATION\n" {
		t.Errorf("содержимое через клиент: %q", got)
	}

	e, err := u.Stat(ctx, "mtbls1-abc/i_Investigation.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !e.ModTime.Equal(mt) {
		t.Errorf("ModTime: ожидалось %v, получено %v", mt, e.ModTime)
	}

	if ok, err := u.Exists(ctx, "missing"); err != nil || ok {
		t.Errorf("Exists(missing): %v, %v", ok, err)
	}
	if _, err := u.Stat(ctx, "../etc"); !errors.Is(err, ErrPathEscape) {
		t.Errorf("ожидалась ErrPathEscape, получено %v", err)
	}

	if err := u.SetACL(ctx, "mtbls1-abc", model.ACLAuthorizedRead); err != nil {
		t.Fatalf("SetACL: %v", err)
	}
	if acl, err := u.GetACL(ctx, "mtbls1-abc"); err != nil || acl != model.ACLAuthorizedRead {
		t.Errorf("GetACL: %v, %v", acl, err)
	}

	hashes, err := u.HashTree(ctx, "mtbls1-abc")
	if err != nil || len(hashes) != 1 {
		t.Errorf("HashTree: %v, %v", hashes, err)
	}

	if err := u.Move(ctx, "mtbls1-abc", "old/mtbls1-abc"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	entries, err := u.Walk(ctx, "old")
	if err != nil || len(entries) != 2 {
		t.Errorf("Walk: %+v, %v", entries, err)
	}
	if err := u.Remove(ctx, "old"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if list, _ := u.List(ctx, ""); len(list) != 0 {
		t.Errorf("после удаления остались элементы: %+v", list)
	}
}

// TestUnmounted_Unauthorized проверяет отказ при неверном токене.
func TestUnmounted_Unauthorized(t *testing.T) {
	backend := newMounted(t, "ftp-backend")
	srv := httptest.NewServer(NewAgent(backend, "secret", testLogger()).Handler())
	defer srv.Close()

	u, err := NewUnmounted("ftp", RemoteOptions{URL: srv.URL, Token: "wrong"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	_, err = u.List(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("ожидалась ошибка 401, получено %v", err)
	}
}

// TestUnmounted_RetryOnce проверяет одну повторную попытку при 503.
func TestUnmounted_RetryOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[{"path":"a","is_dir":true}]}`))
	}))
	defer srv.Close()

	u, err := NewUnmounted("ftp", RemoteOptions{URL: srv.URL}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	entries, err := u.List(context.Background(), "")
	if err != nil {
		t.Fatalf("ожидался успех после повтора: %v", err)
	}
	if len(entries) != 1 || calls.Load() != 2 {
		t.Errorf("entries=%d, calls=%d", len(entries), calls.Load())
	}
}

// TestUnmounted_NoSecondRetry проверяет, что повторяется только один раз.
func TestUnmounted_NoSecondRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u, _ := NewUnmounted("ftp", RemoteOptions{URL: srv.URL}, testLogger())
	if _, err := u.List(context.Background(), ""); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if calls.Load() != 2 {
		t.Errorf("ожидалось 2 запроса, получено %d", calls.Load())
	}
}

// TestMirror_BetweenMountedAndUnmounted проверяет синхронизацию через агент.
func TestMirror_BetweenMountedAndUnmounted(t *testing.T) {
	u, _ := newAgentPair(t, "")
	local := newMounted(t, "study")
	writeFile(t, local, "i_Investigation.txt", "i")
	writeFile(t, local, "FILES/a.mzML", "<mzML/>")
	ctx := context.Background()

	if _, err := Mirror(ctx, local, "", u, "mtbls1", MirrorOptions{Delete: true}); err != nil {
		t.Fatalf("первая синхронизация: %v", err)
	}
	plan, err := Mirror(ctx, local, "", u, "mtbls1", MirrorOptions{Delete: true})
	if err != nil {
		t.Fatalf("повторная синхронизация: %v", err)
	}
	if !plan.Empty() {
		t.Errorf("ожидался пустой план, получено %+v", plan)
	}
}

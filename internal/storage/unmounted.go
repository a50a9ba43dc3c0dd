package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// Пути протокола удалённого агента хранилища.
const (
	agentPathStat    = "/api/v1/fs/stat"
	agentPathList    = "/api/v1/fs/list"
	agentPathWalk    = "/api/v1/fs/walk"
	agentPathFolders = "/api/v1/fs/folders"
	agentPathMove    = "/api/v1/fs/move"
	agentPathRemove  = "/api/v1/fs/entries"
	agentPathACL     = "/api/v1/fs/acl"
	agentPathHashes  = "/api/v1/fs/hashes"
	agentPathContent = "/api/v1/fs/content"
	// AgentHealthPath — путь проверки доступности агента
	AgentHealthPath = "/health/live"
)

// UnmountedStorage — хранилище, доступное через HTTP-агент на узле FTP.
type UnmountedStorage struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewUnmounted создаёт клиент удалённого хранилища.
func NewUnmounted(name string, remote RemoteOptions, logger *slog.Logger) (*UnmountedStorage, error) {
	if remote.URL == "" {
		return nil, fmt.Errorf("не задан URL агента хранилища %s", name)
	}
	if _, err := url.Parse(remote.URL); err != nil {
		return nil, fmt.Errorf("некорректный URL агента %s: %w", remote.URL, err)
	}
	return &UnmountedStorage{
		name:       name,
		baseURL:    strings.TrimRight(remote.URL, "/"),
		token:      remote.Token,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger.With(slog.String("component", "unmounted_storage"), slog.String("storage", name)),
	}, nil
}

// Name возвращает имя хранилища.
func (u *UnmountedStorage) Name() string { return u.name }

// BaseURL возвращает адрес агента.
func (u *UnmountedStorage) BaseURL() string { return u.baseURL }

// Exists проверяет существование пути.
func (u *UnmountedStorage) Exists(ctx context.Context, rel string) (bool, error) {
	_, err := u.Stat(ctx, rel)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Stat возвращает информацию о пути.
func (u *UnmountedStorage) Stat(ctx context.Context, rel string) (Entry, error) {
	var e Entry
	err := u.getJSON(ctx, agentPathStat, rel, nil, &e)
	return e, err
}

// List возвращает непосредственных потомков каталога.
func (u *UnmountedStorage) List(ctx context.Context, rel string) ([]Entry, error) {
	var resp entriesResponse
	if err := u.getJSON(ctx, agentPathList, rel, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Walk возвращает всех потомков каталога.
func (u *UnmountedStorage) Walk(ctx context.Context, rel string) ([]Entry, error) {
	var resp entriesResponse
	if err := u.getJSON(ctx, agentPathWalk, rel, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// CreateFolder создаёт каталог на удалённом узле.
func (u *UnmountedStorage) CreateFolder(ctx context.Context, rel string, acl model.ACL, existOK bool) error {
	return u.sendJSON(ctx, http.MethodPost, agentPathFolders, folderRequest{Path: rel, ACL: acl, ExistOK: existOK})
}

// Move перемещает путь на удалённом узле.
func (u *UnmountedStorage) Move(ctx context.Context, src, dst string) error {
	return u.sendJSON(ctx, http.MethodPost, agentPathMove, moveRequest{Source: src, Target: dst})
}

// Remove удаляет путь на удалённом узле.
func (u *UnmountedStorage) Remove(ctx context.Context, rel string) error {
	resp, err := u.do(ctx, http.MethodDelete, agentPathRemove, url.Values{"path": {rel}}, nil, true)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetACL возвращает ACL каталога.
func (u *UnmountedStorage) GetACL(ctx context.Context, rel string) (model.ACL, error) {
	var resp aclRequest
	if err := u.getJSON(ctx, agentPathACL, rel, nil, &resp); err != nil {
		return "", err
	}
	return resp.ACL, nil
}

// SetACL устанавливает ACL каталога.
func (u *UnmountedStorage) SetACL(ctx context.Context, rel string, acl model.ACL) error {
	return u.sendJSON(ctx, http.MethodPut, agentPathACL, aclRequest{Path: rel, ACL: acl})
}

// HashTree запрашивает SHA-256 файлов у агента.
func (u *UnmountedStorage) HashTree(ctx context.Context, rel string) (map[string]string, error) {
	var resp hashesResponse
	if err := u.getJSON(ctx, agentPathHashes, rel, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Hashes, nil
}

// Open открывает поток содержимого файла.
func (u *UnmountedStorage) Open(ctx context.Context, rel string) (io.ReadCloser, error) {
	resp, err := u.do(ctx, http.MethodGet, agentPathContent, url.Values{"path": {rel}}, nil, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Put передаёт содержимое файла агенту. Повтор не выполняется:
// тело запроса — поток.
func (u *UnmountedStorage) Put(ctx context.Context, rel string, r io.Reader, modTime time.Time) error {
	q := url.Values{"path": {rel}}
	if !modTime.IsZero() {
		q.Set("mtime", modTime.UTC().Format(time.RFC3339Nano))
	}
	resp, err := u.do(ctx, http.MethodPut, agentPathContent, q, &ctxReader{ctx: ctx, r: r}, false)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// --- транспорт ---

type entriesResponse struct {
	Entries []Entry `json:"entries"`
}

type hashesResponse struct {
	Hashes map[string]string `json:"hashes"`
}

type folderRequest struct {
	Path    string    `json:"path"`
	ACL     model.ACL `json:"acl,omitempty"`
	ExistOK bool      `json:"exist_ok"`
}

type moveRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type aclRequest struct {
	Path string    `json:"path,omitempty"`
	ACL  model.ACL `json:"acl"`
}

// agentError — тело ошибки агента.
type agentError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (u *UnmountedStorage) getJSON(ctx context.Context, p, rel string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("path", rel)
	resp, err := u.do(ctx, http.MethodGet, p, q, nil, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа агента %s: %w", p, err)
	}
	return nil
}

func (u *UnmountedStorage) sendJSON(ctx context.Context, method, p string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("сериализация запроса %s: %w", p, err)
	}
	resp, err := u.do(ctx, method, p, nil, bytes.NewReader(data), true)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// do выполняет запрос к агенту. Для повторяемых запросов транспортная
// ошибка или 502/503/504 приводят к одной повторной попытке.
func (u *UnmountedStorage) do(ctx context.Context, method, p string, q url.Values, body io.Reader, retry bool) (*http.Response, error) {
	reqURL := u.baseURL + p
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	var payload []byte
	if retry && body != nil {
		var err error
		if payload, err = io.ReadAll(body); err != nil {
			return nil, fmt.Errorf("чтение тела запроса: %w", err)
		}
	}

	attempts := 1
	if retry {
		attempts = 2
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		reqBody := body
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("создание запроса %s: %w", p, err)
		}
		if u.token != "" {
			req.Header.Set("Authorization", "Bearer "+u.token)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := u.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("запрос %s к агенту %s: %w", p, u.baseURL, err)
			if ctx.Err() != nil || !isTransient(err) {
				return nil, lastErr
			}
		} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		} else {
			lastErr = decodeAgentError(resp)
			resp.Body.Close()
			if !transientStatus(resp.StatusCode) {
				return nil, lastErr
			}
		}
		if attempt < attempts {
			u.logger.Warn("повтор запроса к агенту хранилища",
				slog.String("path", p),
				slog.String("error", lastErr.Error()),
			)
		}
	}
	return nil, lastErr
}

func decodeAgentError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var ae agentError
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrExists, msg)
	case http.StatusBadRequest:
		if ae.Error.Code == codePathEscape {
			return fmt.Errorf("%w: %s", ErrPathEscape, msg)
		}
	}
	return fmt.Errorf("агент хранилища вернул статус %d: %s", resp.StatusCode, msg)
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func transientStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

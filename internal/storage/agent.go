package storage

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// Коды ошибок протокола агента.
const (
	codeNotFound     = "NOT_FOUND"
	codeConflict     = "CONFLICT"
	codePathEscape   = "PATH_ESCAPE"
	codeValidation   = "VALIDATION_ERROR"
	codeUnauthorized = "UNAUTHORIZED"
	codeInternal     = "INTERNAL_ERROR"
)

// Agent — HTTP-сервер протокола удалённого хранилища. Запускается на
// узле, где смонтирован приватный FTP, и обслуживает UnmountedStorage.
type Agent struct {
	store  Storage
	token  string
	logger *slog.Logger
}

// NewAgent создаёт агент над хранилищем store. Пустой token отключает авторизацию.
func NewAgent(store Storage, token string, logger *slog.Logger) *Agent {
	return &Agent{
		store:  store,
		token:  token,
		logger: logger.With(slog.String("component", "storage_agent")),
	}
}

// Handler возвращает маршрутизатор агента.
func (a *Agent) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get(AgentHealthPath, func(w http.ResponseWriter, _ *http.Request) {
		writeAgentJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)
		r.Get(agentPathStat, a.stat)
		r.Get(agentPathList, a.list)
		r.Get(agentPathWalk, a.walk)
		r.Post(agentPathFolders, a.createFolder)
		r.Post(agentPathMove, a.move)
		r.Delete(agentPathRemove, a.remove)
		r.Get(agentPathACL, a.getACL)
		r.Put(agentPathACL, a.setACL)
		r.Get(agentPathHashes, a.hashes)
		r.Get(agentPathContent, a.download)
		r.Put(agentPathContent, a.upload)
	})
	return r
}

func (a *Agent) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
				writeAgentError(w, http.StatusUnauthorized, codeUnauthorized, "неверный токен агента")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Agent) stat(w http.ResponseWriter, r *http.Request) {
	e, err := a.store.Stat(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeAgentJSON(w, http.StatusOK, e)
}

func (a *Agent) list(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.List(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeAgentJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

func (a *Agent) walk(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.Walk(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeAgentJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

func (a *Agent) createFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAgentError(w, http.StatusBadRequest, codeValidation, "некорректное тело запроса")
		return
	}
	if err := a.store.CreateFolder(r.Context(), req.Path, req.ACL, req.ExistOK); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAgentError(w, http.StatusBadRequest, codeValidation, "некорректное тело запроса")
		return
	}
	if err := a.store.Move(r.Context(), req.Source, req.Target); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) remove(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Remove(r.Context(), r.URL.Query().Get("path")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) getACL(w http.ResponseWriter, r *http.Request) {
	acl, err := a.store.GetACL(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeAgentJSON(w, http.StatusOK, aclRequest{ACL: acl})
}

func (a *Agent) setACL(w http.ResponseWriter, r *http.Request) {
	var req aclRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAgentError(w, http.StatusBadRequest, codeValidation, "некорректное тело запроса")
		return
	}
	acl, err := model.ParseACL(string(req.ACL))
	if err != nil {
		writeAgentError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if err := a.store.SetACL(r.Context(), req.Path, acl); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) hashes(w http.ResponseWriter, r *http.Request) {
	h, err := a.store.HashTree(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeAgentJSON(w, http.StatusOK, hashesResponse{Hashes: h})
}

func (a *Agent) download(w http.ResponseWriter, r *http.Request) {
	rc, err := a.store.Open(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		a.fail(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := copyBuffer(w, rc); err != nil {
		a.logger.Warn("обрыв передачи файла", slog.String("error", err.Error()))
	}
}

func (a *Agent) upload(w http.ResponseWriter, r *http.Request) {
	var modTime time.Time
	if v := r.URL.Query().Get("mtime"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeAgentError(w, http.StatusBadRequest, codeValidation, "некорректный mtime")
			return
		}
		modTime = t
	}
	if err := a.store.Put(r.Context(), r.URL.Query().Get("path"), r.Body, modTime); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeAgentError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, ErrExists):
		writeAgentError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, ErrPathEscape):
		writeAgentError(w, http.StatusBadRequest, codePathEscape, err.Error())
	default:
		a.logger.Error("ошибка операции хранилища", slog.String("error", err.Error()))
		writeAgentError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}

func writeAgentJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAgentError(w http.ResponseWriter, status int, code, message string) {
	var body agentError
	body.Error.Code = code
	body.Error.Message = message
	writeAgentJSON(w, status, body)
}

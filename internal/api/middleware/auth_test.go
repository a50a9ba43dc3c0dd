package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/metabostore/internal/domain/access"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/service"
)

const (
	testKeyID  = "test-key-ms"
	testIssuer = "https://idp.test/realms/metabostore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeResolver — PrincipalResolver с фиксированными пользователями.
type fakeResolver struct {
	tokens    map[string]*model.User
	usernames map[string]*model.User
}

func newFakeResolver() *fakeResolver {
	alice := &model.User{ID: "u1", Username: "alice", Role: model.RoleSubmitter, Active: true}
	return &fakeResolver{
		tokens:    map[string]*model.User{"tok-alice": alice},
		usernames: map[string]*model.User{"alice": alice},
	}
}

func (f *fakeResolver) Authenticate(_ context.Context, token string) (access.Principal, error) {
	if token == "" {
		return access.Anonymous, nil
	}
	if code, ok := access.ParseReviewerToken(token); ok {
		return access.Principal{ReviewerCode: code}, nil
	}
	if u, ok := f.tokens[token]; ok {
		return access.Principal{User: u}, nil
	}
	return access.Anonymous, fmt.Errorf("%w: неизвестный токен", service.ErrPermissionDenied)
}

func (f *fakeResolver) AuthenticateUsername(_ context.Context, username string) (access.Principal, error) {
	if u, ok := f.usernames[username]; ok {
		return access.Principal{User: u}, nil
	}
	return access.Anonymous, fmt.Errorf("%w: %s", service.ErrPermissionDenied, username)
}

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func newTestIdentity(t *testing.T, key *rsa.PrivateKey) *Identity {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewIdentityWithKeyfunc(newFakeResolver(), kf, testIssuer, testLogger())
}

func signToken(t *testing.T, key *rsa.PrivateKey, username string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":                "kc-" + username,
		"preferred_username": username,
		"iss":                testIssuer,
		"exp":                jwt.NewNumericDate(exp),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// serve пропускает запрос через middleware и возвращает код и субъекта.
func serve(id *Identity, setup func(r *http.Request)) (int, access.Principal) {
	var got access.Principal
	h := id.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/studies/MTBLS1", nil)
	setup(req)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, got
}

// TestIdentity_UserToken проверяет заголовок user_token.
func TestIdentity_UserToken(t *testing.T) {
	id := NewIdentity(newFakeResolver(), testLogger())

	tests := []struct {
		name   string
		token  string
		status int
		kind   access.Kind
	}{
		{"без токена — аноним", "", http.StatusOK, access.KindAnonymous},
		{"API-токен", "tok-alice", http.StatusOK, access.KindSubmitter},
		{"рецензент", "ocode:abc123", http.StatusOK, access.KindReviewer},
		{"неизвестный токен", "bad", http.StatusForbidden, access.KindAnonymous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, p := serve(id, func(r *http.Request) {
				if tt.token != "" {
					r.Header.Set(HeaderUserToken, tt.token)
				}
			})
			if status != tt.status {
				t.Fatalf("статус = %d, ожидался %d", status, tt.status)
			}
			if status == http.StatusOK && p.Kind() != tt.kind {
				t.Errorf("вид субъекта = %v, ожидался %v", p.Kind(), tt.kind)
			}
		})
	}
}

// TestIdentity_Bearer проверяет JWT: валидный, просроченный, чужой ключ,
// незарегистрированный пользователь и отключённая проверка.
func TestIdentity_Bearer(t *testing.T) {
	key := generateTestKey(t)
	id := newTestIdentity(t, key)
	bearer := func(token string) func(r *http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	}

	status, p := serve(id, bearer(signToken(t, key, "alice", time.Now().Add(time.Hour))))
	if status != http.StatusOK || p.User == nil || p.User.ID != "u1" {
		t.Fatalf("валидный токен: статус %d, субъект %+v", status, p)
	}

	if status, _ := serve(id, bearer(signToken(t, key, "alice", time.Now().Add(-time.Hour)))); status != http.StatusUnauthorized {
		t.Errorf("просроченный токен: статус %d", status)
	}
	if status, _ := serve(id, bearer(signToken(t, generateTestKey(t), "alice", time.Now().Add(time.Hour)))); status != http.StatusUnauthorized {
		t.Errorf("чужой ключ: статус %d", status)
	}
	if status, _ := serve(id, bearer(signToken(t, key, "mallory", time.Now().Add(time.Hour)))); status != http.StatusUnauthorized {
		t.Errorf("незарегистрированный пользователь: статус %d", status)
	}
	if status, _ := serve(id, func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }); status != http.StatusUnauthorized {
		t.Errorf("не Bearer: статус %d", status)
	}

	plain := NewIdentity(newFakeResolver(), testLogger())
	if status, _ := serve(plain, bearer("x")); status != http.StatusUnauthorized {
		t.Errorf("JWT не настроен: статус %d", status)
	}
}

// TestPrincipalFromContext проверяет аноним по умолчанию.
func TestPrincipalFromContext(t *testing.T) {
	if p := PrincipalFromContext(context.Background()); p.Kind() != access.KindAnonymous {
		t.Errorf("ожидался аноним, получен %v", p.Kind())
	}
}

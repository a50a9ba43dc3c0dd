// auth.go — определение субъекта запроса.
//
// Источники идентичности:
//   - заголовок user_token: API-токен пользователя или "ocode:<код>" рецензента;
//   - Bearer JWT (если настроен JWKS): preferred_username сопоставляется
//     с зарегистрированным пользователем.
//
// Запрос без идентичности обрабатывается от имени анонима: права
// проверяет сервисный слой.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/metabostore/internal/api/errors"
	"github.com/bigkaa/metabostore/internal/domain/access"
)

// HeaderUserToken — заголовок с токеном пользователя.
const HeaderUserToken = "user_token"

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyPrincipal — субъект запроса в контексте.
const ContextKeyPrincipal contextKey = "principal"

// PrincipalResolver определяет субъекта по токену или имени пользователя.
// Реализуется service.AccessService.
type PrincipalResolver interface {
	Authenticate(ctx context.Context, token string) (access.Principal, error)
	AuthenticateUsername(ctx context.Context, username string) (access.Principal, error)
}

// jwtClaims — claims JWT, используемые для сопоставления пользователя.
type jwtClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
}

// Identity — middleware определения субъекта.
type Identity struct {
	resolver PrincipalResolver
	jwks     keyfunc.Keyfunc
	issuer   string
	leeway   time.Duration
	logger   *slog.Logger
}

// NewIdentity создаёт middleware только с заголовком user_token.
func NewIdentity(resolver PrincipalResolver, logger *slog.Logger) *Identity {
	return &Identity{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "identity")),
	}
}

// EnableJWKS включает проверку Bearer JWT по ключам jwksURL.
// Сервис стартует, даже если JWKS ещё недоступен.
func (i *Identity) EnableJWKS(jwksURL, issuer string, refresh time.Duration) error {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refresh,
		RefreshErrorHandler: func(_ context.Context, err error) {
			i.logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return fmt.Errorf("создание JWKS storage: %w", err)
	}
	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return fmt.Errorf("создание keyfunc: %w", err)
	}
	i.jwks, i.issuer = k, issuer
	return nil
}

// NewIdentityWithKeyfunc создаёт middleware с готовой keyfunc.
// Используется в тестах для подстановки JWKS.
func NewIdentityWithKeyfunc(resolver PrincipalResolver, kf keyfunc.Keyfunc, issuer string, logger *slog.Logger) *Identity {
	i := NewIdentity(resolver, logger)
	i.jwks, i.issuer = kf, issuer
	return i
}

// Middleware помещает субъекта запроса в контекст.
func (i *Identity) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				p   access.Principal
				err error
			)
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				p, err = i.fromBearer(r.Context(), authHeader)
				if err != nil {
					i.logger.Debug("Bearer-токен отклонён",
						slog.String("error", err.Error()),
						slog.String("remote_addr", r.RemoteAddr),
					)
					apierrors.Unauthorized(w, err.Error())
					return
				}
			} else {
				p, err = i.resolver.Authenticate(r.Context(), r.Header.Get(HeaderUserToken))
				if err != nil {
					apierrors.FromError(w, err)
					return
				}
			}
			noteSubject(r.Context(), p)
			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (i *Identity) fromBearer(ctx context.Context, header string) (access.Principal, error) {
	if i.jwks == nil {
		return access.Anonymous, errors.New("проверка JWT не настроена")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return access.Anonymous, errors.New("неверный формат Authorization: ожидается Bearer <token>")
	}

	claims := &jwtClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(i.leeway),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, i.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil || !parsed.Valid {
		return access.Anonymous, errors.New("невалидный или просроченный токен")
	}
	if claims.PreferredUsername == "" {
		return access.Anonymous, errors.New("отсутствует preferred_username в токене")
	}
	p, err := i.resolver.AuthenticateUsername(ctx, claims.PreferredUsername)
	if err != nil {
		return access.Anonymous, err
	}
	return p, nil
}

// PrincipalFromContext возвращает субъекта запроса (аноним, если не задан).
func PrincipalFromContext(ctx context.Context) access.Principal {
	if p, ok := ctx.Value(ContextKeyPrincipal).(access.Principal); ok {
		return p
	}
	return access.Anonymous
}

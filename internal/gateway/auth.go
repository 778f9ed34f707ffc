package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/platform/httpx"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims mirrors the access tokens issued by the auth service.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// Access levels for routed paths.
type Access int

const (
	Public Access = iota
	Authenticated
	AdminOnly
)

// Authenticate strips any client-supplied identity headers and, when a valid
// bearer token is present, replaces them with the verified user id and role.
// Missing tokens are rejected with 401 and bad tokens with 403 unless the
// route is public.
func Authenticate(v *Verifier, access Access, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(httpx.HeaderUserID)
			r.Header.Del(httpx.HeaderUserRole)

			raw := bearerToken(r)
			if raw == "" {
				if access != Public {
					httpx.WriteError(w, http.StatusUnauthorized, ErrMissingToken.Error())
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				logger.Debug("token rejected",
					zap.String("path", r.URL.Path),
					zap.String("correlation_id", httpx.CorrelationIDFromContext(r.Context())),
					zap.Error(err),
				)
				if access != Public {
					httpx.WriteError(w, http.StatusForbidden, err.Error())
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if access == AdminOnly && !strings.EqualFold(claims.Role, httpx.RoleAdmin) {
				httpx.WriteError(w, http.StatusForbidden, "admin role required")
				return
			}

			r.Header.Set(httpx.HeaderUserID, claims.UserID)
			r.Header.Set(httpx.HeaderUserRole, claims.Role)
			next.ServeHTTP(w, r)
		})
	}
}

package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	HeaderUserID        = "X-User-Id"
	HeaderUserRole      = "X-User-Role"
	HeaderCorrelationID = "X-Correlation-Id"

	RoleAdmin = "ADMIN"
)

// Identity is the caller as asserted by the gateway after token verification.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool {
	return strings.EqualFold(i.Role, RoleAdmin)
}

// IdentityFromRequest reads the gateway-set identity headers. ok is false when
// no user id was supplied.
func IdentityFromRequest(r *http.Request) (Identity, bool) {
	id := Identity{
		UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role:   strings.TrimSpace(r.Header.Get(HeaderUserRole)),
	}
	return id, id.UserID != ""
}

type ctxKey string

const ctxCorrelationID ctxKey = "correlation_id"

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCorrelationID, id)
}

func CorrelationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxCorrelationID).(string); ok {
		return v
	}
	return ""
}

// CorrelationID reuses the caller's X-Correlation-Id or mints one, echoes it on
// the response and stores it in the request context.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := strings.TrimSpace(r.Header.Get(HeaderCorrelationID))
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, cid)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), cid)))
	})
}

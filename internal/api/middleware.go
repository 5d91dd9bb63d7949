package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"aetheron.ai/aetheron-chat/internal/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// JWTAuthMiddleware rejects requests without a valid bearer token and stores
// the token's claims in the request context.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		claims, err := h.chatService.Authenticate(token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func userIDFrom(ctx context.Context) int64 {
	if claims := claimsFrom(ctx); claims != nil {
		return claims.UserID
	}
	return 0
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// AccessLog writes one structured line per request.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", requestID(r)),
			)
		})
	}
}

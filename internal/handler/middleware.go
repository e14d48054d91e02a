package handler

import (
	"context"
	"net/http"
)

// UserIDHeader carries the caller's id, set by the upstream auth gateway.
const UserIDHeader = "X-User-ID"

type ctxKey struct{}

func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing "+UserIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(ctxKey{}).(string)
	return userID
}

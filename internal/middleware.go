package internal

import (
	"log/slog"
	"net/http"

	"github.com/johndosdos/supportchat/internal/auth"
)

// Middleware resolves the caller's user id and stores it in the request
// context. With a secret, the JWT comes from the Authorization header or
// the "jwt" cookie. Without one, the gateway trusts the "userid" query
// parameter, which is only meant for local development.
func Middleware(next http.Handler, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			userID := r.URL.Query().Get("userid")
			if userID == "" {
				http.Error(w, "missing userid", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
			return
		}

		token, err := auth.GetBearerToken(r.Header)
		if err != nil {
			if c, cookieErr := r.Cookie("jwt"); cookieErr == nil {
				token, err = c.Value, nil
			}
		}
		if err != nil {
			slog.WarnContext(r.Context(), "rejected unauthenticated request",
				"error", err,
				"path", r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		userID, err := auth.ValidateJWT(token, secret)
		if err != nil {
			slog.WarnContext(r.Context(), "rejected invalid token",
				"error", err,
				"path", r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
	}
}

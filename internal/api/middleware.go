package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/halcyon-sec/pamgate/internal/auth"
	"github.com/halcyon-sec/pamgate/internal/store"
)

type contextKey int

const userContextKey contextKey = iota

// RequireAuth validates the bearer access token and loads the caller into
// the request context.
func (h *Handlers) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}
		userID, err := h.issuer.VerifyAccess(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		user, err := h.store.UserByID(userID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "user not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// RequireAdmin rejects callers without the elevated capability. Must run
// inside RequireAuth.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := callerFrom(r)
		if user == nil || !user.IsAdmin {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdminMFA additionally demands a currently valid one-time code in
// the X-MFA-TOTP header, binding the action to live possession of the second
// factor rather than just a session credential.
func (h *Handlers) RequireAdminMFA(next http.Handler) http.Handler {
	return h.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := callerFrom(r)
		if !user.MFAEnabled || user.MFASecret == "" {
			writeError(w, http.StatusForbidden, "MFA not enabled")
			return
		}
		code := r.Header.Get("X-MFA-TOTP")
		if code == "" {
			writeError(w, http.StatusForbidden, "MFA code required")
			return
		}
		if !auth.VerifyTOTP(user.MFASecret, code, time.Now().UTC()) {
			writeError(w, http.StatusForbidden, "invalid MFA code")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// callerFrom returns the authenticated user stashed by RequireAuth.
func callerFrom(r *http.Request) *store.User {
	user, _ := r.Context().Value(userContextKey).(*store.User)
	return user
}

// extractBearerToken extracts the bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// clientIP returns the caller's address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// applyMiddleware applies middleware to a handler, outermost first.
func applyMiddleware(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

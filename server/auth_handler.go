package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"VKSaver/core/auth"
	"VKSaver/logger"
	"VKSaver/model"
)

type contextKey string

const sessionKey contextKey = "session"

type tokenLoginRequest struct {
	Token string `json:"token"`
}

// TokenLoginHandler handles POST /api/vk/token-login
func (h *APIHandler) TokenLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req tokenLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		logger.Warn("[TokenLogin] login rejected", logger.ErrorField(err))
		writeError(w, err)
		return
	}

	user := res.Session.User
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"token":      res.Token,
		"session_id": res.Session.ID,
		"user": map[string]string{
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"photo":      user.Photo100,
		},
	})
}

// LogoutHandler handles POST /api/vk/logout
func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.Logout(r.Context(), sess.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AuthMiddleware resolves the bearer token to a session. Websocket clients may pass
// the token in the "token" query parameter instead of the header.
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid authorization header format"})
				return
			}
			token = parts[1]
		}
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authorization header is required"})
			return
		}

		sess, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetSessionFromContext extracts the session placed by AuthMiddleware.
func GetSessionFromContext(ctx context.Context) (*model.Session, error) {
	sess, ok := ctx.Value(sessionKey).(*model.Session)
	if !ok || sess == nil {
		return nil, fmt.Errorf("%w in context", auth.ErrSessionNotFound)
	}
	return sess, nil
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"VKSaver/config"
	"VKSaver/core/auth"
	"VKSaver/core/download"
	"VKSaver/core/proxysvc"
	"VKSaver/logger"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	auth      *auth.Service
	downloads *download.Service
	proxies   *proxysvc.Service
	cfg       *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	authService *auth.Service,
	downloads *download.Service,
	proxies *proxysvc.Service,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		auth:      authService,
		downloads: downloads,
		proxies:   proxies,
		cfg:       cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[writeJSON] encode failed", logger.ErrorField(err))
	}
}

// writeError 将领域错误映射为 HTTP 状态码，响应体为 {"detail": "..."}
func writeError(w http.ResponseWriter, err error) {
	status, detail := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, auth.ErrInvalidVKToken):
		status, detail = http.StatusUnauthorized, "Invalid or expired token"
	case errors.Is(err, auth.ErrInvalidBearer), errors.Is(err, auth.ErrSessionNotFound):
		status, detail = http.StatusUnauthorized, "Session not found"
	case errors.Is(err, download.ErrInvalidPlaylistURL):
		status, detail = http.StatusBadRequest, "Invalid VK playlist URL"
	case errors.Is(err, download.ErrInvalidTrackURL):
		status, detail = http.StatusBadRequest, "Invalid VK track URL"
	case errors.Is(err, download.ErrTaskNotFound):
		status, detail = http.StatusNotFound, "Task not found"
	case errors.Is(err, proxysvc.ErrProxyNotFound):
		status, detail = http.StatusNotFound, "Proxy not found"
	case errors.Is(err, proxysvc.ErrUnsupportedType):
		status, detail = http.StatusBadRequest, "Unsupported proxy type"
	case errors.Is(err, proxysvc.ErrInvalidAddress):
		status, detail = http.StatusBadRequest, err.Error()
	case errors.Is(err, errBadRequest):
		status, detail = http.StatusBadRequest, "Invalid request body"
	default:
		logger.Error("[writeError] unhandled error", logger.ErrorField(err))
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

var errBadRequest = errors.New("bad request")

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}

// RootHandler 健康检查
func (h *APIHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "VK Music Saver API"})
}

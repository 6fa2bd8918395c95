package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"VKSaver/logger"

	"github.com/gorilla/mux"
)

// NewRouter 注册所有 API 路由，archives 为 nil 时不提供归档下载
func NewRouter(h *APIHandler, archives ArchiveReader) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware(h.cfg.CORSOrigins))

	if archives != nil {
		router.Handle("/archives/{name}", NewArchiveHandler(archives)).Methods(http.MethodGet, http.MethodHead)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/", h.RootHandler).Methods(http.MethodGet)

	// 会话
	api.HandleFunc("/vk/token-login", h.TokenLoginHandler).Methods(http.MethodPost)
	api.HandleFunc("/vk/logout", h.AuthMiddleware(h.LogoutHandler)).Methods(http.MethodPost)

	// 下载任务
	api.HandleFunc("/download/start", h.AuthMiddleware(h.StartDownloadHandler)).Methods(http.MethodPost)
	api.HandleFunc("/download/multi", h.AuthMiddleware(h.MultiDownloadHandler)).Methods(http.MethodPost)
	api.HandleFunc("/download/track", h.AuthMiddleware(h.TrackDownloadHandler)).Methods(http.MethodPost)
	api.HandleFunc("/download/my-music", h.AuthMiddleware(h.MyMusicDownloadHandler)).Methods(http.MethodPost)
	api.HandleFunc("/download/cancel/{id}", h.AuthMiddleware(h.CancelDownloadHandler)).Methods(http.MethodPost)
	api.HandleFunc("/download/status/{id}", h.AuthMiddleware(h.DownloadStatusHandler)).Methods(http.MethodGet)
	api.HandleFunc("/download/history", h.AuthMiddleware(h.DownloadHistoryHandler)).Methods(http.MethodGet)
	api.HandleFunc("/download/active", h.AuthMiddleware(h.ActiveDownloadsHandler)).Methods(http.MethodGet)
	api.HandleFunc("/download/ws/{id}", h.AuthMiddleware(h.TaskStreamHandler)).Methods(http.MethodGet)
	api.HandleFunc("/download/{id}", h.AuthMiddleware(h.DeleteDownloadHandler)).Methods(http.MethodDelete)

	// 代理
	api.HandleFunc("/proxies", h.AuthMiddleware(h.ListProxiesHandler)).Methods(http.MethodGet)
	api.HandleFunc("/proxies", h.AuthMiddleware(h.AddProxyHandler)).Methods(http.MethodPost)
	api.HandleFunc("/proxies/{id}/toggle", h.AuthMiddleware(h.ToggleProxyHandler)).Methods(http.MethodPost)
	api.HandleFunc("/proxies/{id}/check", h.AuthMiddleware(h.CheckProxyHandler)).Methods(http.MethodPost)
	api.HandleFunc("/proxies/{id}", h.AuthMiddleware(h.DeleteProxyHandler)).Methods(http.MethodDelete)

	return router
}

// corsMiddleware 允许 origins 中列出的来源，"*" 表示全部
func corsMiddleware(origins string) mux.MiddlewareFunc {
	allowed := map[string]bool{}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowed["*"] {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Run 启动 HTTP 服务，ctx 结束后优雅关闭，随后调用 onShutdown
func Run(ctx context.Context, addr string, handler http.Handler, onShutdown func()) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// 不设置 WriteTimeout：websocket 进度流是长连接
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server.Run] listening", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if onShutdown != nil {
			onShutdown()
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("[Server.Run] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if onShutdown != nil {
		onShutdown()
	}
	if err != nil {
		return err
	}
	logger.Info("[Server.Run] server stopped")
	return nil
}

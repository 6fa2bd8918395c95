package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"VKSaver/logger"
	"VKSaver/storage"

	"github.com/gorilla/mux"
)

// ArchiveReader 按名称读取已上传的归档
type ArchiveReader interface {
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

// ArchiveHandler 处理归档下载请求，链接本身即凭证，不需要登录
type ArchiveHandler struct {
	store ArchiveReader
}

// NewArchiveHandler 创建 ArchiveHandler 实例
func NewArchiveHandler(store ArchiveReader) *ArchiveHandler {
	return &ArchiveHandler{store: store}
}

// ServeHTTP handles GET /archives/{name}
func (h *ArchiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Base(mux.Vars(r)["name"])
	if name == "." || name == "/" || path.Ext(name) != ".zip" {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	obj, size, err := h.store.Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrArchiveNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		logger.Error("[ArchiveHandler] open failed", logger.String("name", name), logger.ErrorField(err))
		http.Error(w, "Storage unavailable", http.StatusBadGateway)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	if _, err := io.Copy(w, obj); err != nil {
		logger.Warn("[ArchiveHandler] copy interrupted", logger.String("name", name), logger.ErrorField(err))
	}
}

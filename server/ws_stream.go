package server

import (
	"net/http"
	"time"

	"VKSaver/logger"
	"VKSaver/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	wsPollInterval = time.Second
	wsWriteTimeout = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TaskStreamHandler pushes task snapshots over a websocket until the task reaches
// a terminal state. A snapshot is sent only when it differs from the previous one.
func (h *APIHandler) TaskStreamHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	taskID := mux.Vars(r)["id"]
	// reject unknown ids before upgrading so the client gets a plain 404
	if _, err := h.downloads.Status(r.Context(), sess.ID, taskID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[TaskStream] websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	// the reader only detects the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	var last *model.DownloadTask
	for {
		task, err := h.downloads.Status(r.Context(), sess.ID, taskID)
		if err != nil {
			logger.Warn("[TaskStream] task lookup failed", logger.TaskID(taskID), logger.ErrorField(err))
			return
		}
		if last == nil || changed(last, task) {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(task); err != nil {
				logger.Debug("[TaskStream] write failed", logger.TaskID(taskID), logger.ErrorField(err))
				return
			}
			last = task
		}
		if task.Status.IsTerminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(task.Status)),
				time.Now().Add(wsWriteTimeout))
			return
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func changed(a, b *model.DownloadTask) bool {
	return a.Status != b.Status ||
		a.Progress != b.Progress ||
		a.CurrentStep != b.CurrentStep ||
		a.DownloadedCount != b.DownloadedCount ||
		a.TrackCount != b.TrackCount ||
		len(a.DownloadURLs) != len(b.DownloadURLs)
}

package server

import (
	"net/http"

	"VKSaver/core/download"

	"github.com/gorilla/mux"
)

type playlistDownloadRequest struct {
	PlaylistURL string `json:"playlist_url"`
	download.Options
}

type multiDownloadRequest struct {
	PlaylistURLs []string `json:"playlist_urls"`
	download.Options
}

type trackDownloadRequest struct {
	TrackURL string `json:"track_url"`
	download.Options
}

func taskStarted(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "pending"})
}

// StartDownloadHandler handles POST /api/download/start
func (h *APIHandler) StartDownloadHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var req playlistDownloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.downloads.StartPlaylist(r.Context(), sess.ID, req.PlaylistURL, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	taskStarted(w, id)
}

// MultiDownloadHandler handles POST /api/download/multi
func (h *APIHandler) MultiDownloadHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var req multiDownloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ids, err := h.downloads.StartMulti(r.Context(), sess.ID, req.PlaylistURLs, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"task_ids": ids, "count": len(ids)})
}

// TrackDownloadHandler handles POST /api/download/track
func (h *APIHandler) TrackDownloadHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var req trackDownloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.downloads.StartTrack(r.Context(), sess.ID, req.TrackURL, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	taskStarted(w, id)
}

// MyMusicDownloadHandler handles POST /api/download/my-music
func (h *APIHandler) MyMusicDownloadHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var opts download.Options
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &opts); err != nil {
			writeError(w, err)
			return
		}
	}
	id, err := h.downloads.StartMyMusic(r.Context(), sess.ID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	taskStarted(w, id)
}

// CancelDownloadHandler handles POST /api/download/cancel/{id}
func (h *APIHandler) CancelDownloadHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := h.downloads.Cancel(r.Context(), sess.ID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// DownloadStatusHandler handles GET /api/download/status/{id}
func (h *APIHandler) DownloadStatusHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := h.downloads.Status(r.Context(), sess.ID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// DownloadHistoryHandler handles GET /api/download/history
func (h *APIHandler) DownloadHistoryHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := h.downloads.History(r.Context(), sess.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// ActiveDownloadsHandler handles GET /api/download/active
func (h *APIHandler) ActiveDownloadsHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := h.downloads.Active(r.Context(), sess.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// DeleteDownloadHandler handles DELETE /api/download/{id}
func (h *APIHandler) DeleteDownloadHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := GetSessionFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.downloads.Delete(r.Context(), sess.ID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

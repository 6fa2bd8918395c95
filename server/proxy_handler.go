package server

import (
	"net/http"

	"VKSaver/model"

	"github.com/gorilla/mux"
)

type addProxyRequest struct {
	ProxyType model.ProxyType `json:"proxy_type"`
	Address   string          `json:"address"`
	Name      string          `json:"name"`
}

// ListProxiesHandler handles GET /api/proxies
func (h *APIHandler) ListProxiesHandler(w http.ResponseWriter, r *http.Request) {
	proxies, err := h.proxies.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proxies)
}

// AddProxyHandler handles POST /api/proxies
func (h *APIHandler) AddProxyHandler(w http.ResponseWriter, r *http.Request) {
	var req addProxyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.proxies.Add(r.Context(), req.ProxyType, req.Address, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ToggleProxyHandler handles POST /api/proxies/{id}/toggle
func (h *APIHandler) ToggleProxyHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.proxies.Toggle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CheckProxyHandler handles POST /api/proxies/{id}/check
func (h *APIHandler) CheckProxyHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.proxies.Check(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteProxyHandler handles DELETE /api/proxies/{id}
func (h *APIHandler) DeleteProxyHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.proxies.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

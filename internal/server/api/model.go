package api

import (
	"net/http"
	"strings"

	"github.com/ayusman/senas/internal/inference"
)

// ModelHandler reports the loaded model and performs operator reloads.
type ModelHandler struct {
	service *inference.Service
}

// NewModelHandler returns a handler over service.
func NewModelHandler(service *inference.Service) *ModelHandler {
	return &ModelHandler{service: service}
}

// ServeHTTP handles GET /api/model and POST /api/model/reload.
func (h *ModelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/model")
	path = strings.Trim(path, "/")

	switch path {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, h.service.Info())
	case "reload":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := h.service.Reload(); err != nil {
			writeJSON(w, http.StatusInternalServerError, reloadResponse{
				Error: err.Error(),
				Info:  h.service.Info(),
			})
			return
		}
		writeJSON(w, http.StatusOK, reloadResponse{Info: h.service.Info()})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type reloadResponse struct {
	Error string         `json:"error,omitempty"`
	Info  inference.Info `json:"model"`
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/dataset"
	"github.com/ayusman/senas/internal/detector"
	"github.com/ayusman/senas/internal/store"
)

// maxSamplesPerRequest bounds one collection upload.
const maxSamplesPerRequest = 1000

// SamplesHandler handles HTTP requests for collected landmark samples.
type SamplesHandler struct {
	store *store.Store
	log   *zap.Logger
}

// NewSamplesHandler creates a new SamplesHandler with the given store.
func NewSamplesHandler(s *store.Store, log *zap.Logger) *SamplesHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SamplesHandler{store: s, log: log}
}

// ServeHTTP routes /api/samples and /api/samples/export.
func (h *SamplesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/samples")
	path = strings.Trim(path, "/")

	switch path {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.counts(w, r)
		case http.MethodPost:
			h.create(w, r)
		case http.MethodDelete:
			h.deleteLabel(w, r)
		default:
			methodNotAllowed(w)
		}
	case "export":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.export(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// createSamplesRequest is one label and the raw poses recorded for it.
type createSamplesRequest struct {
	Label   string        `json:"label"`
	Source  string        `json:"source"`
	Samples [][][]float64 `json:"samples"`
}

type createSamplesResponse struct {
	Created int      `json:"created"`
	IDs     []string `json:"ids"`
}

type countsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// create handles POST /api/samples. Poses are normalized before storage so
// that stored samples match what the live loop feeds the classifier.
func (h *SamplesHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSamplesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "at least one sample is required")
		return
	}
	if len(req.Samples) > maxSamplesPerRequest {
		writeError(w, http.StatusRequestEntityTooLarge, "too many samples in one request")
		return
	}

	samples := make([]*store.Sample, 0, len(req.Samples))
	for i, rows := range req.Samples {
		hand, err := detector.FromRows(rows)
		if err != nil {
			writeError(w, http.StatusBadRequest, "sample "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		if !hand.Finite() {
			writeError(w, http.StatusBadRequest, "sample "+strconv.Itoa(i)+": non-finite coordinate")
			return
		}
		samples = append(samples, &store.Sample{
			Label:     req.Label,
			Landmarks: hand.Normalize().Rows(),
			Source:    req.Source,
		})
	}

	if err := h.store.Samples().Create(samples...); err != nil {
		h.log.Error("failed to save samples", zap.String("label", req.Label), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save samples")
		return
	}

	resp := createSamplesResponse{Created: len(samples), IDs: make([]string, len(samples))}
	for i, s := range samples {
		resp.IDs[i] = s.ID
	}
	writeJSON(w, http.StatusCreated, resp)
}

// counts handles GET /api/samples.
func (h *SamplesHandler) counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Samples().CountByLabel()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count samples")
		return
	}
	resp := countsResponse{Counts: counts}
	for _, n := range counts {
		resp.Total += n
	}
	writeJSON(w, http.StatusOK, resp)
}

// deleteLabel handles DELETE /api/samples?label=X.
func (h *SamplesHandler) deleteLabel(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	n, err := h.store.Samples().DeleteByLabel(label)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete samples")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// export handles GET /api/samples/export and writes the derived feature
// file. An optional label query parameter restricts the export.
func (h *SamplesHandler) export(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.Samples().List(r.URL.Query().Get("label"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list samples")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no samples collected")
		return
	}
	samples, err := dataset.FromCollected(rows)
	if err != nil {
		h.log.Error("stored sample is malformed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to encode samples")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="features.csv"`)
	if err := dataset.WriteFeatureFile(w, samples); err != nil {
		h.log.Error("failed to write feature file", zap.Error(err))
	}
}

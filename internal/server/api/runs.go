package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ayusman/senas/internal/store"
)

// defaultRunLimit caps GET /api/runs without a limit parameter.
const defaultRunLimit = 50

// RunsHandler serves the training-run log.
type RunsHandler struct {
	store *store.Store
}

// NewRunsHandler creates a new RunsHandler with the given store.
func NewRunsHandler(s *store.Store) *RunsHandler {
	return &RunsHandler{store: s}
}

// ServeHTTP routes /api/runs and /api/runs/{id}.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.list(w, r)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		methodNotAllowed(w)
	}
}

type runResponse struct {
	ID           string  `json:"id"`
	Kind         string  `json:"kind"`
	Mode         string  `json:"mode"`
	Monitor      string  `json:"monitor"`
	Status       string  `json:"status"`
	TrainSamples int     `json:"train_samples"`
	TestSamples  int     `json:"test_samples"`
	BestEpoch    int     `json:"best_epoch"`
	BestValue    float64 `json:"best_value"`
	ArtifactDir  string  `json:"artifact_dir,omitempty"`
	Error        string  `json:"error,omitempty"`
	StartedAt    string  `json:"started_at"`
	FinishedAt   string  `json:"finished_at,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type runDetailResponse struct {
	runResponse
	Epochs []store.Epoch `json:"epochs"`
}

func toRunResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:           run.ID,
		Kind:         run.Kind,
		Mode:         run.Mode,
		Monitor:      run.Monitor,
		Status:       string(run.Status),
		TrainSamples: run.TrainSamples,
		TestSamples:  run.TestSamples,
		BestEpoch:    run.BestEpoch,
		BestValue:    run.BestValue,
		ArtifactDir:  run.ArtifactDir,
		Error:        run.Error,
		StartedAt:    run.StartedAt.Format(timeLayout),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(timeLayout)
	}
	return resp
}

// list handles GET /api/runs, newest first.
func (h *RunsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.store.Runs().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := listRunsResponse{Runs: make([]runResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

// get handles GET /api/runs/{id} with the run's epoch log.
func (h *RunsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	epochs, err := h.store.Runs().Epochs(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get epochs")
		return
	}
	if epochs == nil {
		epochs = []store.Epoch{}
	}
	writeJSON(w, http.StatusOK, runDetailResponse{runResponse: toRunResponse(run), Epochs: epochs})
}

// delete handles DELETE /api/runs/{id}.
func (h *RunsHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Runs().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete run")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

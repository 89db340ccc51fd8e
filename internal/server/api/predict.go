package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/inference"
)

// maxPredictBody bounds a predict request. Image requests carry a base64
// JPEG, landmark requests are a few kilobytes.
const maxPredictBody = 8 << 20

// PredictHandler classifies one hand pose per request.
type PredictHandler struct {
	service *inference.Service
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewPredictHandler returns a handler over service. A nil limiter admits
// every request.
func NewPredictHandler(service *inference.Service, limiter *rate.Limiter, log *zap.Logger) *PredictHandler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PredictHandler{service: service, limiter: limiter, log: log}
}

// predictRequest holds either 21 landmark rows or a base64 encoded image.
type predictRequest struct {
	Landmarks [][]float64 `json:"landmarks"`
	Image     string      `json:"image,omitempty"`
}

// ServeHTTP handles POST /predict_hand_pose and POST /api/predict.
func (h *PredictHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	obs, release, err := req.observation()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer release()

	res, err := h.service.Predict(obs)
	if err != nil {
		status := predictStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error("prediction failed", zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (req *predictRequest) observation() (features.Observation, func(), error) {
	noop := func() {}
	switch {
	case req.Image != "" && req.Landmarks != nil:
		return features.Observation{}, noop, errors.New("send either landmarks or image, not both")
	case req.Image != "":
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return features.Observation{}, noop, errors.Wrap(err, "image is not base64")
		}
		frame, err := gocv.IMDecode(data, gocv.IMReadColor)
		if err != nil {
			return features.Observation{}, noop, errors.Wrap(err, "decode image")
		}
		if frame.Empty() {
			frame.Close()
			return features.Observation{}, noop, errors.New("image could not be decoded")
		}
		return features.Observation{Frame: &frame}, func() { frame.Close() }, nil
	case req.Landmarks != nil:
		return features.Observation{Landmarks: req.Landmarks}, noop, nil
	}
	return features.Observation{}, noop, errors.New("landmarks are required")
}

// predictStatus maps service errors to HTTP status codes.
func predictStatus(err error) int {
	var invalid *inference.InvalidInputError
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, inference.ErrModelNotLoaded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

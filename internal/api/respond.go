package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/taxprep/internal/model"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Step      string `json:"step,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// readJSON decodes the request body into dst, writing a 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps the pipeline's error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error(), RequestID: middleware.GetReqID(r.Context())}
	status := http.StatusInternalServerError

	var (
		inputErr   *model.InputError
		blockedErr *model.VarianceBlockedError
		stepErr    *model.StepFailure
	)
	switch {
	case errors.Is(err, model.ErrNotFound):
		status, resp.Code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, model.ErrRunInFlight):
		status, resp.Code = http.StatusConflict, "RUN_IN_FLIGHT"
	case errors.Is(err, model.ErrUnknownField):
		status, resp.Code = http.StatusUnprocessableEntity, "UNKNOWN_FIELD"
	case errors.As(err, &inputErr):
		status, resp.Code, resp.Field = http.StatusBadRequest, "INPUT_ERROR", inputErr.Field
	case errors.As(err, &blockedErr):
		status, resp.Code, resp.Field = http.StatusConflict, "VARIANCE_BLOCKED", blockedErr.Field
	case errors.As(err, &stepErr):
		resp.Code, resp.Step = "STEP_FAILED", string(stepErr.Step)
	default:
		resp.Code = "INTERNAL"
	}

	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", resp.RequestID),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/intake"
	"github.com/polishcitizenship/portal-core/internal/lifecycle"
	"github.com/polishcitizenship/portal-core/internal/scorer"
	"github.com/polishcitizenship/portal-core/internal/store"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`

	// Validation failures
	Missing     []string `json:"missing,omitempty"`
	Unknown     []string `json:"unknown,omitempty"`
	Mismatched  []string `json:"mismatched,omitempty"`
	Duplicate   []string `json:"duplicate,omitempty"`
	QuestionIDs []string `json:"question_ids,omitempty"`

	// Denied transitions
	Guard  string `json:"guard,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// writeError maps domain errors to status codes. Anything unrecognized is a
// 500 with a generic message; the detail goes to the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *scorer.ValidationError
	var denied *lifecycle.TransitionDenied

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:       verr.Error(),
			Missing:     verr.Missing,
			Unknown:     verr.Unknown,
			Mismatched:  verr.Mismatched,
			Duplicate:   verr.Duplicate,
			QuestionIDs: verr.QuestionIDs(),
		})
	case errors.As(err, &denied):
		writeJSON(w, http.StatusConflict, errorBody{
			Error:  denied.Error(),
			Guard:  denied.Guard,
			From:   string(denied.From),
			To:     string(denied.To),
			Reason: denied.Reason,
		})
	case errors.Is(err, lifecycle.ErrCaseNotFound), errors.Is(err, intake.ErrSubmissionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidInput), errors.Is(err, lifecycle.ErrInvalidMilestone):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	case errors.Is(err, store.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "case was modified concurrently; retry"})
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

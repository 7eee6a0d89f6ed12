package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"remedy-audit/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var (
		notFound    *domain.NotFoundError
		validation  *domain.ValidationError
		conflict    *domain.ConflictError
		unavailable *domain.PlannerUnavailableError
		planFailed  *domain.PlanGenerationFailedError
		expired     *domain.RollbackWindowExpiredError
		transition  *domain.InvalidTransitionError
		executor    *domain.ExecutorFailureError
		riskAck     *domain.RiskAcknowledgementRequiredError
	)

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &riskAck):
		return http.StatusPreconditionRequired
	case errors.As(err, &expired), errors.As(err, &transition), errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &planFailed), errors.As(err, &executor):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// writeError renders err as a JSON error body. Internal errors are logged
// and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	body := errorBody{
		Code:      domain.ErrorCode(err),
		Message:   err.Error(),
		Retryable: domain.IsRetryable(err),
	}
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("write response", "error", err)
	}
}

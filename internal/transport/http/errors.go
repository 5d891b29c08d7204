package httptransport

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// writeError answers with the status and kind of err. The message of an
// unclassified error is logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.Kind(err)
	msg := err.Error()

	if status >= http.StatusInternalServerError {
		logger.FromCtx(r.Context()).Error(r.Context(), "request failed",
			zap.String("path", r.URL.Path), zap.String("kind", kind), zap.Error(err))
		if kind == "internal" {
			msg = http.StatusText(status)
		}
	}

	writeJSON(w, status, model.ErrorResponse{
		Status: "error",
		Error:  model.ErrorPayload{Kind: kind, Message: msg},
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
		Status: "error",
		Error:  model.ErrorPayload{Kind: "bad_request", Message: msg},
	})
}

package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/logger"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the error envelope. Messages of internal codes
// are replaced with their public text; the full chain only goes to the log.
func writeError(ctx context.Context, log *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
	}
	meta := apperr.MetadataFor(typed.Code())

	body := apiError{Code: string(typed.Code()), Message: meta.PublicMessage}
	if typed.Code().Public() && typed.Message() != "" {
		body.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}

	if log != nil {
		ctx = log.WithField(ctx, "error_code", string(typed.Code()))
		if meta.HTTPStatus >= http.StatusInternalServerError {
			log.Error(ctx, "request failed", err)
		} else {
			log.Debug(ctx, "request rejected: "+typed.Message())
		}
	}
	if meta.Retryable && meta.HTTPStatus >= http.StatusInternalServerError {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, meta.HTTPStatus, errorEnvelope{Error: body})
}

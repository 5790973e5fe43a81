package http

import (
	"errors"
	"net/http"

	"budgetapp/internal/core"
	applog "budgetapp/internal/log"
)

// writeError maps the core error taxonomy onto status codes and bodies.
// Storage failures are logged with full detail and answered generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := applog.FromContext(r.Context())

	var (
		authErr        *core.AuthError
		validationErr  *core.ValidationError
		notFoundErr    *core.NotFoundError
		consistencyErr *core.ConsistencyError
	)

	switch {
	case errors.As(err, &authErr):
		logger.WithComponent(applog.ComponentSecurity).WarnContext(r.Context(), "Rejected unsigned request",
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err,
			"error_type", applog.ErrorTypeAuth,
		)
		if authErr.Kind == core.AuthMissing {
			BadRequestError("Missing signature header").Write(w)
			return
		}
		ErrorResponse(http.StatusForbidden, "Invalid signature").Write(w)

	case errors.As(err, &validationErr):
		ErrorWithDetails(http.StatusBadRequest, validationErr.Message, validationErr.Details()).Write(w)

	case errors.As(err, &notFoundErr):
		NotFoundError("Id not found").Write(w)

	case errors.As(err, &consistencyErr):
		logger.WarnContext(r.Context(), "Expense stores disagree",
			applog.FieldExpenseID, consistencyErr.ID,
			applog.FieldDate, consistencyErr.Date,
			"missing_from", consistencyErr.Missing,
		)
		ErrorResponse(http.StatusNotAcceptable, consistencyErr.Error()).Write(w)

	case errors.Is(err, errBodyTooLarge):
		ErrorResponse(http.StatusRequestEntityTooLarge, "Request body too large").Write(w)

	default:
		logger.ErrorContext(r.Context(), "Request failed",
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err,
			"error_type", applog.ErrorTypeStorage,
		)
		InternalServerError("Storage error").Write(w)
	}
}

package httpx

import (
	"errors"
	"net/http"

	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// RespondError maps engine errors onto RFC7807 responses. Typed domain
// errors get precise status codes; anything else is an opaque 500.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrDuplicateBatch):
		Problem(w, http.StatusConflict, "Duplicate Batch", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrOverReceipt):
		Problem(w, http.StatusUnprocessableEntity, "Over Receipt", err.Error())
	case errors.Is(err, shared.ErrNegativeResult):
		Problem(w, http.StatusUnprocessableEntity, "Negative Result", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

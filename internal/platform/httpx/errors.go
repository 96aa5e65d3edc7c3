// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-agents/meridian/internal/shared"
)

// RespondError maps structured operation errors to HTTP responses using
// RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var se *shared.Error
	if !errors.As(err, &se) {
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	switch se.Code {
	case shared.CodeValidation, shared.CodeInvalidRoleData:
		Problem(w, http.StatusBadRequest, "Validation Failed", se.Message)
	case shared.CodeRoleNotFound, shared.CodeSchemaNotFound:
		Problem(w, http.StatusNotFound, "Not Found", se.Message)
	case shared.CodeRoleAlreadyExists:
		Problem(w, http.StatusConflict, "Duplicate", se.Message)
	case shared.CodePermissionDenied:
		Problem(w, http.StatusForbidden, "Forbidden", se.Message)
	case shared.CodeWorkflow:
		Problem(w, http.StatusConflict, "Workflow Conflict", se.Message)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

package rest

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/edgeflare/radmin/pkg/crud"
	"github.com/edgeflare/radmin/pkg/httputil"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

// ValidationResponse is the body of a 400 carrying field errors.
type ValidationResponse struct {
	httputil.ErrorResponse
	Errors map[string][]string `json:"errors"`
}

// IntegrityResponse is the body of a 400 caused by a storage constraint.
type IntegrityResponse struct {
	NonFieldErrors []string `json:"non_field_errors"`
}

// statusFor maps an engine error onto an HTTP status. Related-object misses
// are checked before plain misses because they wrap them.
func statusFor(err error) int {
	var (
		verr *crud.ValidationError
		ierr *crud.IntegrityError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, crud.ErrRelatedNotFound):
		return http.StatusBadRequest
	case errors.Is(err, crud.ErrUnknownEntity), errors.Is(err, crud.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &verr), errors.As(err, &ierr):
		return http.StatusBadRequest
	case errors.Is(err, crud.ErrInvalidFilterValue),
		errors.Is(err, crud.ErrInvalidSortSpec),
		errors.Is(err, crud.ErrInvalidRangeSpec),
		errors.Is(err, crud.ErrNoFileUploaded),
		errors.Is(err, crud.ErrMaxDepthExceeded),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, crud.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, crud.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError renders err. Messages of unexpected errors are logged, not sent.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var verr *crud.ValidationError
	if errors.As(err, &verr) {
		httputil.JSON(w, status, ValidationResponse{
			ErrorResponse: httputil.ErrorResponse{Message: "Validation failed", Code: status},
			Errors:        verr.Errors,
		})
		return
	}
	var ierr *crud.IntegrityError
	if errors.As(err, &ierr) {
		httputil.JSON(w, status, IntegrityResponse{NonFieldErrors: []string{ierr.Message}})
		return
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httputil.Error(w, status, http.StatusText(status))
		return
	}
	httputil.Error(w, status, err.Error())
}

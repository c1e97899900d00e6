package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rhuss/verlauf/pkg/api"
)

// StatusClientClosedRequest is the nginx convention for a request the
// client abandoned before the response was written.
const StatusClientClosedRequest = 499

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status
// code. Transport-level errors (body too large, unsupported content type)
// are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidInput:
		return http.StatusBadRequest
	case api.ErrorTypeSessionClosed:
		return http.StatusConflict
	case api.ErrorTypeModelCall:
		return http.StatusBadGateway
	case api.ErrorTypeStorage, api.ErrorTypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AsAPIError classifies err. Cancellation becomes an invalid-input error
// with code "cancelled"; anything unrecognised is an internal error.
func AsAPIError(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.Canceled) {
		return &api.APIError{Type: api.ErrorTypeInvalidInput, Code: "cancelled", Message: "turn cancelled"}
	}
	return api.NewInternalError(err.Error())
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api. It sets the Content-Type header and writes
// the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteError writes err as a JSON error response, deriving the HTTP status
// code from its type.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := AsAPIError(err)
	status := HTTPStatusFromError(apiErr)
	if apiErr.Code == "cancelled" {
		status = StatusClientClosedRequest
	}
	WriteErrorResponse(w, apiErr, status)
}

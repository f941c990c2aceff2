package remoteapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
	"github.com/openmined/idsync/internal/client/side"
)

var ErrNoServerURL = errors.New("remoteapi: server url missing")

// APIError is the error body the server sends with every non-2xx status.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// handleAPIError maps a response onto the side error kinds. 409 and 400
// are refusals; transport failures and any other status are transient.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return side.Transient(operation, requestErr)
	}
	if !resp.IsErrorState() {
		return nil
	}

	apiErr, ok := resp.ErrorResult().(*APIError)
	if !ok || apiErr.Code == "" {
		apiErr = &APIError{Code: "E_UNKNOWN_ERR", Message: resp.String()}
	}

	switch resp.StatusCode {
	case http.StatusConflict, http.StatusBadRequest:
		return &side.ApplyRejectedError{Reason: fmt.Sprintf("%s: %s", operation, apiErr.Message)}
	default:
		return side.Transient(operation, fmt.Errorf("status %d: %w", resp.StatusCode, apiErr))
	}
}

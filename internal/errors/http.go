package errors

import "net/http"

// FromStatus classifies an unsuccessful HTTP status returned by a project
// API into a PlaypenError.
func FromStatus(status int, body string) *PlaypenError {
	var err *PlaypenError

	switch {
	case status == http.StatusNotFound:
		err = NewNotFoundError(ErrCodeProjectNotFound, "project not found")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = NewUnauthorizedError(ErrCodeUnauthorized, http.StatusText(status))
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		err = NewValidationError(ErrCodeInvalidProject, "project rejected by server")
	case status >= 500:
		// Gateway and server failures are reported like transport failures:
		// the user can only retry later.
		err = NewNetworkError(ErrCodeBadStatus, "project server error", nil)
	default:
		err = NewInternalError(ErrCodeBadStatus, "unexpected response status", nil)
	}

	if body != "" {
		err.WithContext("body", truncate(body, 256))
	}

	return err.WithStatus(status)
}

// HTTPStatus maps err onto the status code the project API responds with.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaypenErrorError(t *testing.T) {
	err := NewNetworkError(ErrCodeNetwork, "request failed", fmt.Errorf("dial tcp: refused"))
	err.Op = OpSave
	err.WithProject("p1")

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_NETWORK]")
	assert.Contains(t, msg, "save")
	assert.Contains(t, msg, "project:p1")
	assert.Contains(t, msg, "request failed")
	assert.Contains(t, msg, "dial tcp: refused")
}

func TestPlaypenErrorIs(t *testing.T) {
	a := ErrProjectNotFound("a")
	b := ErrProjectNotFound("b")

	assert.True(t, errors.Is(a, b), "same type and code compare equal")
	assert.False(t, errors.Is(a, ErrUnauthorized("nope")))
}

func TestLoadSaveErrorPreserveType(t *testing.T) {
	testCases := []struct {
		name  string
		cause error
		check func(error) bool
	}{
		{"not found", ErrProjectNotFound("x"), IsNotFound},
		{"unauthorized", ErrUnauthorized("expired"), IsUnauthorized},
		{"network", NewNetworkError(ErrCodeNetwork, "down", nil), IsNetwork},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			loadErr := LoadError("p1", tc.cause)
			assert.True(t, tc.check(loadErr))
			assert.Equal(t, OpLoad, loadErr.Op)
			assert.Equal(t, "p1", loadErr.ProjectID)

			saveErr := SaveError("p1", tc.cause)
			assert.True(t, tc.check(saveErr))
			assert.Equal(t, OpSave, saveErr.Op)
		})
	}
}

func TestLoadErrorForeignCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := LoadError("p1", cause)

	assert.Equal(t, ErrorTypeInternal, err.Type)
	assert.ErrorIs(t, err, cause)
}

func TestFromStatus(t *testing.T) {
	testCases := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusNotFound, ErrorTypeNotFound},
		{http.StatusUnauthorized, ErrorTypeUnauthorized},
		{http.StatusForbidden, ErrorTypeUnauthorized},
		{http.StatusBadRequest, ErrorTypeValidation},
		{http.StatusBadGateway, ErrorTypeNetwork},
		{http.StatusTeapot, ErrorTypeInternal},
	}

	for _, tc := range testCases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			err := FromStatus(tc.status, "")
			require.NotNil(t, err)
			assert.Equal(t, tc.want, err.Type)
			assert.Equal(t, tc.status, err.Status)
		})
	}
}

func TestHTTPStatusRoundTrip(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ErrProjectNotFound("x")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(ErrUnauthorized("x")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewValidationError(ErrCodeInvalidProject, "x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("plain")))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "project not found", UserMessage(LoadError("x", ErrProjectNotFound("x"))))
	assert.Equal(t, "not signed in or session expired", UserMessage(ErrUnauthorized("x")))
	assert.Equal(t, "could not reach the project server", UserMessage(NewNetworkError(ErrCodeNetwork, "x", nil)))
	assert.Equal(t, "unexpected error", UserMessage(fmt.Errorf("x")))
}

func TestFromStatusTruncatesBody(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	err := FromStatus(http.StatusInternalServerError, string(long))

	body, ok := err.Context["body"].(string)
	require.True(t, ok)
	assert.Len(t, body, 259)
}

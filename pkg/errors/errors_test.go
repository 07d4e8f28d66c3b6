package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrInternal, http.StatusTeapot, "brew"), http.StatusTeapot},
		{"wrapped schema", fmt.Errorf("adapting: %w", ErrSchema), http.StatusBadRequest},
		{"cycle in progress", ErrCycleInProgress, http.StatusConflict},
		{"store down", fmt.Errorf("put: %w", ErrStoreUnavailable), http.StatusServiceUnavailable},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusCode(tc.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrInvalidInput, http.StatusBadRequest, "field %s missing", "feed")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, "invalid input: field feed missing", err.Error())
}

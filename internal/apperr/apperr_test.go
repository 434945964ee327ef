package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{MalformedCredential("bad prefix"), http.StatusForbidden},
		{Unauthorized(ReasonKeyExpired, "expired"), http.StatusUnauthorized},
		{Validation("message is required"), http.StatusBadRequest},
		{AccessDenied("not a member"), http.StatusForbidden},
		{NotFound("project not found"), http.StatusNotFound},
		{Infrastructure("store down", errors.New("dial tcp")), http.StatusServiceUnavailable},
		{errors.New("unclassified"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("validate: %w", Unauthorized(ReasonKeyInactive, "key revoked"))
	require.True(t, Is(err, KindUnauthorized))

	e, ok := As(err)
	require.True(t, ok)
	require.Equal(t, ReasonKeyInactive, e.Reason)
	require.False(t, Retryable(err))
}

func TestInfrastructureTimeout(t *testing.T) {
	err := Infrastructure("insert event", fmt.Errorf("exec: %w", context.DeadlineExceeded))
	e, ok := As(err)
	require.True(t, ok)
	require.Equal(t, ReasonTimeout, e.Reason)
	require.True(t, Retryable(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

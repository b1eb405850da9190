package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"foreman-pm-backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{apperrors.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("review: %w", apperrors.ErrForbidden), http.StatusForbidden},
		{apperrors.ErrNotFound, http.StatusNotFound},
		{apperrors.ErrAlreadyReviewed, http.StatusConflict},
		{apperrors.ErrConflict, http.StatusConflict},
		{apperrors.ErrValidation, http.StatusBadRequest},
		{apperrors.ErrUserInactive, http.StatusBadRequest},
		{apperrors.ErrNoCreator, http.StatusServiceUnavailable},
		{errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)
			assert.Equal(t, tt.code, rec.Code)

			var body APIResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
		})
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("dial tcp 10.0.0.5:5432"))
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestWriteAcceptedResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAcceptedResponse(rec, map[string]string{"status": "pending_approval"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"status":"pending_approval"}}`, rec.Body.String())
}

func TestParseInt64Param(t *testing.T) {
	id, err := ParseInt64Param("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "abc", "0", "-3"} {
		_, err := ParseInt64Param(raw)
		assert.ErrorIs(t, err, apperrors.ErrValidation, raw)
	}
}

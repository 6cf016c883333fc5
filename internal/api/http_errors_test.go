package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/service"
)

func TestHTTPStatusForDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", core.ErrValidation(core.CodeNoTargets, "no targets"), http.StatusUnprocessableEntity},
		{"gate", core.ErrGateDenied([]string{"disabled"}), http.StatusForbidden},
		{"not found", core.ErrNotFound("session", "as-1"), http.StatusNotFound},
		{"conflict", core.ErrConflict(core.CodeSessionExists, "exists"), http.StatusConflict},
		{"transition", core.ErrInvalidTransition(core.SessionCompleted, core.SessionFailed), http.StatusConflict},
		{"cancelled", core.ErrCancelled("as-1"), http.StatusConflict},
		{"provider", core.ErrProviderConfig("openai", "missing key"), http.StatusBadGateway},
		{"wrapped", fmt.Errorf("loading: %w", core.ErrNotFound("session", "as-2")), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := httpStatusForDomainError(tt.err)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := httpStatusForDomainError(errors.New("plain"))
	assert.False(t, ok)
}

func TestRespondDomainError(t *testing.T) {
	s := NewServer(nil, nil)

	rec := httptest.NewRecorder()
	s.respondDomainError(rec, core.ErrValidation(core.CodeTooManyTargets, "at most 2 targets"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "at most 2 targets", body.Error)
	assert.Equal(t, "validation", body.Category)
	assert.Equal(t, core.CodeTooManyTargets, body.Code)

	rec = httptest.NewRecorder()
	s.respondDomainError(rec, errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")

	rec = httptest.NewRecorder()
	s.respondDomainError(rec, service.ErrShuttingDown)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

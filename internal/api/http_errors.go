package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/service"
)

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatGate:
		return http.StatusForbidden, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatConflict, core.ErrCatCancelled:
		return http.StatusConflict, true
	case core.ErrCatProvider:
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondDomainError writes err with the status its category maps to.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrShuttingDown) {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	status, ok := httpStatusForDomainError(err)
	if !ok {
		s.logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	var domErr *core.DomainError
	errors.As(err, &domErr)
	respondJSON(w, status, errorBody{
		Error:    domErr.Message,
		Category: string(domErr.Category),
		Code:     domErr.Code,
	})
}

type errorBody struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
	Code     string `json:"code,omitempty"`
}

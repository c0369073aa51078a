package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/obslog"
	"github.com/park285/chess-rooms/pkg/chessdto"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Debug("http_write_failed", zap.Error(err))
	}
}

// msgData carries every placeholder the error templates may reference.
type msgData struct {
	GameID    string
	From      string
	To        string
	Promotion string
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrGameOver):
		return http.StatusGone
	case errors.Is(err, game.ErrIllegalMove), errors.Is(err, game.ErrInvalidColor):
		return http.StatusUnprocessableEntity
	case errors.Is(err, game.ErrNotAPlayer), errors.Is(err, game.ErrNotYourTurn):
		return http.StatusForbidden
	case errors.Is(err, game.ErrAllocationExhausted):
		return http.StatusServiceUnavailable
	}
	switch game.KindOf(err) {
	case game.KindConflict, game.KindPolicy:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders a domain error; anything unclassified is a 500 and logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, data msgData) {
	status := statusFor(err)
	code := game.Code(err)
	if status == http.StatusInternalServerError {
		obslog.L().Error("http_internal_error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
	}
	kind := game.KindOf(err)
	retryable := kind == game.KindConflict || kind == game.KindAllocation
	writeJSON(w, status, chessdto.DomainError{
		Status:    "error",
		Code:      code,
		Message:   s.deps.Messages.Text("errors."+code, data, err.Error()),
		Retryable: retryable,
	})
}

func (s *Server) writeCode(w http.ResponseWriter, r *http.Request, status int, code string, retryable bool) {
	writeJSON(w, status, chessdto.DomainError{
		Status:    "error",
		Code:      code,
		Message:   s.deps.Messages.Text("errors."+code, msgData{}, http.StatusText(status)),
		Retryable: retryable,
	})
}

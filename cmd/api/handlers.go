package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/WessleyAI/member-qa/engine/domain"
	"github.com/WessleyAI/member-qa/engine/index"
	"github.com/WessleyAI/member-qa/engine/qa"
	"github.com/WessleyAI/member-qa/pkg/mid"
)

// maxAskBody bounds POST /ask bodies.
const maxAskBody = 64 << 10

// notLoadedDetail is the 503 body while no snapshot has been published.
const notLoadedDetail = "Member data not loaded"

// service is the query service as seen by the handlers.
type service interface {
	Ask(ctx context.Context, question string) (*domain.Answer, error)
	Health() qa.HealthStatus
	Ready() (index.Status, bool)
	Refresh(ctx context.Context, trigger string) (index.RefreshResult, error)
}

// AskRequest is the JSON body for POST /ask. Question is a pointer so a
// missing field can be told apart from an empty string.
type AskRequest struct {
	Question *string `json:"question"`
}

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error to a status code and a detail message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, detail := http.StatusInternalServerError, "internal server error"

	var ve *domain.ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrIndexNotReady):
		status, detail = http.StatusServiceUnavailable, notLoadedDetail
	case errors.As(err, &ve):
		status, detail = http.StatusUnprocessableEntity, ve.Error()
	case errors.As(err, &maxErr):
		status, detail = http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, domain.ErrMalformedQuery):
		status, detail = http.StatusBadRequest, err.Error()
	}

	if status >= 500 && status != http.StatusServiceUnavailable {
		logger.Error("request failed", "path", r.URL.Path, "err", err, "request_id", mid.RequestIDFrom(r.Context()))
	}
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// decodeAsk reads and validates the shape of an ask body.
func decodeAsk(r *http.Request, w http.ResponseWriter) (string, error) {
	var req AskRequest
	body := http.MaxBytesReader(w, r.Body, maxAskBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &maxErr):
			return "", err
		case errors.As(err, &typeErr):
			return "", domain.NewValidationError("question", typeErr.Value, domain.ErrMalformedQuery)
		case errors.Is(err, io.EOF):
			return "", fmt.Errorf("%w: request body is empty", domain.ErrMalformedQuery)
		default:
			return "", fmt.Errorf("%w: %v", domain.ErrMalformedQuery, err)
		}
	}
	if req.Question == nil {
		return "", domain.NewValidationError("question", "", domain.ErrQuestionMissing)
	}
	return *req.Question, nil
}

func handleAsk(svc service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		question, err := decodeAsk(r, w)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		answer, err := svc.Ask(r.Context(), question)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, answer)
	}
}

func handleHealth(svc service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, svc.Health())
	}
}

func handleReady(svc service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st, ok := svc.Ready()
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, st)
	}
}

func handleRefresh(svc service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Refresh(r.Context(), "http")
		if err != nil {
			logger.Warn("refresh via http failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
			writeJSON(w, http.StatusBadGateway, ErrorResponse{Detail: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// Package handlers implements the HTTP endpoints of the snapbridge API.
package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/internal/server/response"
	"github.com/3leaps/snapbridge/pkg/builder"
	"github.com/3leaps/snapbridge/pkg/history"
	"github.com/3leaps/snapbridge/pkg/orchestrator"
	"github.com/3leaps/snapbridge/pkg/recordstore"
	"github.com/3leaps/snapbridge/pkg/restoration"
)

// StatusFor maps a service error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	var corrupt *restoration.StateCorruptionError
	switch {
	case errors.Is(err, restoration.ErrInvalidRequest),
		errors.Is(err, orchestrator.ErrUnknownKind):
		return http.StatusBadRequest, response.CodeBadRequest
	case errors.Is(err, orchestrator.ErrNotFound),
		errors.Is(err, restoration.ErrSnapshotNotFound),
		errors.Is(err, restoration.ErrNoRestorationInProcess),
		errors.Is(err, history.ErrNotFound),
		errors.Is(err, recordstore.ErrNotFound):
		return http.StatusNotFound, response.CodeNotFound
	case errors.Is(err, restoration.ErrSnapshotInProcess),
		errors.Is(err, restoration.ErrTransferIncomplete),
		errors.Is(err, orchestrator.ErrAlreadyRunning),
		errors.Is(err, recordstore.ErrVersionConflict):
		return http.StatusConflict, response.CodeConflict
	case errors.Is(err, orchestrator.ErrUninitialized),
		errors.Is(err, orchestrator.ErrShutdown):
		return http.StatusServiceUnavailable, response.CodeServiceUnavailable
	case builder.IsConstructionError(err):
		return http.StatusBadGateway, response.CodeJobConstruction
	case errors.As(err, &corrupt),
		errors.Is(err, restoration.ErrOrphanedWorkDir):
		return http.StatusInternalServerError, response.CodeStateCorruption
	default:
		return http.StatusInternalServerError, response.CodeInternal
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	response.Error(w, status, code, err.Error(), nil)
}

func badRequest(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, response.CodeBadRequest, message, nil)
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/snapbridge/internal/server/response"
	"github.com/3leaps/snapbridge/pkg/history"
	"github.com/3leaps/snapbridge/pkg/orchestrator"
	"github.com/3leaps/snapbridge/pkg/recordstore"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown kind", orchestrator.ErrUnknownKind, http.StatusBadRequest, response.CodeBadRequest},
		{"job not found", fmt.Errorf("snapshot x: %w", orchestrator.ErrNotFound), http.StatusNotFound, response.CodeNotFound},
		{"history not found", history.ErrNotFound, http.StatusNotFound, response.CodeNotFound},
		{"record not found", recordstore.ErrNotFound, http.StatusNotFound, response.CodeNotFound},
		{"already running", orchestrator.ErrAlreadyRunning, http.StatusConflict, response.CodeConflict},
		{"version conflict", recordstore.ErrVersionConflict, http.StatusConflict, response.CodeConflict},
		{"shutting down", orchestrator.ErrShutdown, http.StatusServiceUnavailable, response.CodeServiceUnavailable},
		{"anything else", errors.New("disk on fire"), http.StatusInternalServerError, response.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := StatusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

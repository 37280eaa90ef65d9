package orchestrator

import (
	"context"
	"sync"

	"github.com/3leaps/snapbridge/pkg/job"
)

// Handle tracks one submitted run.
type Handle struct {
	id    job.Identity
	runID string
	done  chan struct{}

	mu     sync.Mutex
	status job.Status
}

func newHandle(id job.Identity, runID string) *Handle {
	return &Handle{id: id, runID: runID, done: make(chan struct{}), status: job.StatusStarting}
}

// Identity returns the identity of the submitted job.
func (h *Handle) Identity() job.Identity { return h.id }

// RunID returns the id of the submitted run.
func (h *Handle) RunID() string { return h.runID }

// Done is closed once the run reached a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Poll returns the latest known status and whether it is terminal.
func (h *Handle) Poll() (job.Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.status.IsTerminal()
}

// Wait blocks until the run is terminal or ctx ends. Ending ctx never affects
// the run itself.
func (h *Handle) Wait(ctx context.Context) (job.Status, error) {
	select {
	case <-h.done:
		s, _ := h.Poll()
		return s, nil
	case <-ctx.Done():
		s, _ := h.Poll()
		return s, ctx.Err()
	}
}

func (h *Handle) set(s job.Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

func (h *Handle) resolve(s job.Status) {
	h.set(s)
	close(h.done)
}

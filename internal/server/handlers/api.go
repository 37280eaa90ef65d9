package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/internal/server/response"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/orchestrator"
	"github.com/3leaps/snapbridge/pkg/recordstore"
	"github.com/3leaps/snapbridge/pkg/restoration"
	"github.com/3leaps/snapbridge/pkg/snapshot"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Snapshots is the snapshot service behind the API.
type Snapshots interface {
	Create(ctx context.Context, d job.Descriptor) (*orchestrator.Handle, error)
	Get(ctx context.Context, name string) (*snapshot.Status, error)
	List(ctx context.Context) ([]job.Summary, error)
}

// Restorations is the restoration state machine behind the API.
type Restorations interface {
	RestoreSnapshot(ctx context.Context, req restoration.Request) (*recordstore.Restoration, error)
	RestorationCompleted(ctx context.Context, id int64) (*recordstore.Restoration, error)
	GetRestoration(ctx context.Context, id int64) (*recordstore.Restoration, error)
	ListRestorations(ctx context.Context) ([]recordstore.Restoration, error)
}

// API serves the snapshot and restoration endpoints.
type API struct {
	snapshots    Snapshots
	restorations Restorations
	log          *zap.Logger
}

// NewAPI returns the API handlers.
func NewAPI(snapshots Snapshots, restorations Restorations, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{snapshots: snapshots, restorations: restorations, log: log.Named("api")}
}

// SnapshotRequest is the body of PUT /snapshots/{name}.
type SnapshotRequest struct {
	Source   job.Endpoint `json:"source"`
	Includes []string     `json:"includes,omitempty"`
	Excludes []string     `json:"excludes,omitempty"`
}

// JobAccepted acknowledges a launched job.
type JobAccepted struct {
	Kind  job.Kind   `json:"kind"`
	Key   string     `json:"key"`
	RunID string     `json:"run_id"`
	State job.Status `json:"status"`
}

// CreateSnapshot serves PUT /snapshots/{name}.
func (a *API) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var body SnapshotRequest
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	d := job.NewSnapshotDescriptor(chi.URLParam(r, "name"), body.Source, body.Includes, body.Excludes)
	if err := d.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	h, err := a.snapshots.Create(r.Context(), d)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	state, _ := h.Poll()
	response.Accepted(w, JobAccepted{Kind: job.KindSnapshot, Key: h.Identity().Key, RunID: h.RunID(), State: state})
}

// GetSnapshot serves GET /snapshots/{name}.
func (a *API) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	st, err := a.snapshots.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	response.JSON(w, st)
}

// ListSnapshots serves GET /snapshots.
func (a *API) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := a.snapshots.List(r.Context())
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	if list == nil {
		list = []job.Summary{}
	}
	response.JSON(w, list)
}

// RequestRestoration serves PUT /restorations.
func (a *API) RequestRestoration(w http.ResponseWriter, r *http.Request) {
	var req restoration.Request
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	rec, err := a.restorations.RestoreSnapshot(r.Context(), req)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	response.JSON(w, rec)
}

// GetRestoration serves GET /restorations/{id}.
func (a *API) GetRestoration(w http.ResponseWriter, r *http.Request) {
	id, ok := restorationID(w, r)
	if !ok {
		return
	}
	rec, err := a.restorations.GetRestoration(r.Context(), id)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	response.JSON(w, rec)
}

// ListRestorations serves GET /restorations.
func (a *API) ListRestorations(w http.ResponseWriter, r *http.Request) {
	list, err := a.restorations.ListRestorations(r.Context())
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	if list == nil {
		list = []recordstore.Restoration{}
	}
	response.JSON(w, list)
}

// CompleteRestoration serves POST /restorations/{id}/complete, the external
// actor's signal that the snapshot was copied into the working directory.
func (a *API) CompleteRestoration(w http.ResponseWriter, r *http.Request) {
	id, ok := restorationID(w, r)
	if !ok {
		return
	}
	rec, err := a.restorations.RestorationCompleted(r.Context(), id)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	response.Accepted(w, rec)
}

func restorationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := job.ParseRestorationID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, err.Error())
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %s", strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}

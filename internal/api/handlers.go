package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lancachetools/cacheops/internal/ops"
	"github.com/lancachetools/cacheops/internal/workers"
)

// Starters bundles the per-kind workers the action endpoints dispatch to.
type Starters struct {
	GameRemoval       *workers.GameRemovalWorker
	DataImport        *workers.DataImportWorker
	DepotRebuild      *workers.DepotRebuildWorker
	LogProcessing     *workers.LogProcessingWorker
	ServiceLogRemoval *workers.ServiceLogRemovalWorker
	DatabaseReset     *workers.DatabaseResetWorker
}

type startActionRequest struct {
	AppID     uint32 `json:"appId"`
	Directory string `json:"directory"`
	Service   string `json:"service"`
}

// startAction handles POST /v1/actions/{kind}. It returns 202 with the new
// operation id, 409 when an equivalent operation is already running, and 400
// for unknown kinds or missing parameters.
func (s *Server) startAction(w http.ResponseWriter, r *http.Request) {
	kind := ops.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown operation kind")
		return
	}

	var req startActionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	h, err := s.dispatch(r, kind, req)
	if err != nil {
		switch {
		case errors.Is(err, ops.ErrConflict):
			writeError(w, http.StatusConflict, "operation already running")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"operationId": h.ID,
		"kind":        string(h.Kind),
		"status":      string(ops.StatusRunning),
	})
}

func (s *Server) dispatch(r *http.Request, kind ops.Kind, req startActionRequest) (ops.Handle, error) {
	ctx := r.Context()
	switch kind {
	case ops.KindGameRemoval:
		if req.AppID == 0 {
			return ops.Handle{}, errors.New("appId is required")
		}
		return s.workers.GameRemoval.Start(ctx, req.AppID)
	case ops.KindDataImport:
		if strings.TrimSpace(req.Directory) == "" {
			return ops.Handle{}, errors.New("directory is required")
		}
		return s.workers.DataImport.Start(ctx, req.Directory)
	case ops.KindDepotRebuild:
		return s.workers.DepotRebuild.Start(ctx)
	case ops.KindLogProcessing:
		return s.workers.LogProcessing.Start(ctx)
	case ops.KindServiceLogRemoval:
		if strings.TrimSpace(req.Service) == "" {
			return ops.Handle{}, errors.New("service is required")
		}
		return s.workers.ServiceLogRemoval.Start(ctx, req.Service)
	case ops.KindDatabaseReset:
		return s.workers.DatabaseReset.Start(ctx)
	}
	return ops.Handle{}, errors.New("unknown operation kind")
}

// actionStatus handles GET /v1/actions/{kind}/status?entityKey=. It reports
// whether an operation of the kind is in flight (optionally scoped to one
// entity) so the UI can restore its state after a reload.
func (s *Server) actionStatus(w http.ResponseWriter, r *http.Request) {
	kind := ops.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown operation kind")
		return
	}
	entityKey := strings.TrimSpace(r.URL.Query().Get("entityKey"))

	if entityKey != "" {
		snap, err := s.registry.GetByEntityKey(kind, entityKey)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"isProcessing": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"isProcessing": !snap.Status.Terminal(),
			"operation":    snap,
		})
		return
	}

	active := s.registry.Active(kind)
	if len(active) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"isProcessing": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"isProcessing": true,
		"operation":    active[0],
	})
}

// listOperations handles GET /v1/operations?kind=. It lists non-terminal
// operations, optionally filtered by kind.
func (s *Server) listOperations(w http.ResponseWriter, r *http.Request) {
	var snaps []ops.Snapshot
	if kindParam := strings.TrimSpace(r.URL.Query().Get("kind")); kindParam != "" {
		kind := ops.Kind(kindParam)
		if !kind.Valid() {
			writeError(w, http.StatusBadRequest, "unknown operation kind")
			return
		}
		snaps = s.registry.Active(kind)
	} else {
		snaps = s.registry.ActiveAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": snaps})
}

// getOperation handles GET /v1/operations/{operation_id}. Recently completed
// operations remain resolvable for the retention window.
func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "operation_id")
	snap, err := s.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// cancelOperation handles DELETE /v1/operations/{operation_id}. Cancellation
// is cooperative: 202 means the request was delivered, not that the
// operation has stopped yet.
func (s *Server) cancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "operation_id")
	if !s.registry.Cancel(id) {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"operationId": id,
		"status":      "cancelling",
	})
}

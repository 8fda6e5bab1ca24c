package api

import (
	"encoding/json"
	"net/http"

	"github.com/notcontrolos/hinata/pkg/hinata"
)

type handlers struct {
	svc *hinata.Service
}

// Liveness reports that the process is up.
func (h *handlers) Liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, HealthyResponse(map[string]string{"service": "hinata"}))
}

// Readiness reports whether the storage layer is serving. A closed or
// unopened service answers 503 so orchestrators stop routing to it.
func (h *handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		JSON(w, http.StatusServiceUnavailable, ErrorResponse("service not initialized"))
		return
	}
	if err := h.svc.Storage().Ping(); err != nil {
		JSON(w, http.StatusServiceUnavailable, ErrorResponse(err.Error()))
		return
	}
	JSON(w, http.StatusOK, HealthyResponse(nil))
}

// Stats returns the aggregate statistics snapshot.
func (h *handlers) Stats(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, OKResponse(h.svc.Stats()))
}

// ListRegions returns every open region.
func (h *handlers) ListRegions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, OKResponse(h.svc.Regions()))
}

type createRegionRequest struct {
	Name string `json:"name"`
}

// CreateRegion provisions a new region file.
func (h *handlers) CreateRegion(w http.ResponseWriter, r *http.Request) {
	var req createRegionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse("invalid request body"))
		return
	}
	if req.Name == "" {
		JSON(w, http.StatusBadRequest, ErrorResponse("name is required"))
		return
	}

	id, err := h.svc.CreateRegion(req.Name)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	JSON(w, http.StatusCreated, OKResponse(map[string]uint32{"region_id": id}))
}

// DestroyRegion removes a region. ?force=true overrides the live-packet
// guard.
func (h *handlers) DestroyRegion(w http.ResponseWriter, r *http.Request) {
	id, err := regionID(r)
	if err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
		return
	}
	force := r.URL.Query().Get("force") == "true"

	if err := h.svc.DestroyRegion(id, force); err != nil {
		writeStorageError(w, err)
		return
	}
	JSON(w, http.StatusOK, OKResponse(nil))
}

// CompactRegion rewrites a region dropping freed blocks.
func (h *handlers) CompactRegion(w http.ResponseWriter, r *http.Request) {
	id, err := regionID(r)
	if err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
		return
	}

	reclaimed, err := h.svc.Compact(id)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	JSON(w, http.StatusOK, OKResponse(map[string]uint64{"reclaimed_bytes": reclaimed}))
}

// VerifyRegion checks every live block against its stored checksum.
func (h *handlers) VerifyRegion(w http.ResponseWriter, r *http.Request) {
	id, err := regionID(r)
	if err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
		return
	}

	report, err := h.svc.Verify(id)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	JSON(w, http.StatusOK, OKResponse(report))
}

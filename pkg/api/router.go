// Package api exposes the daemon's management HTTP surface: health probes,
// statistics, region administration, and the Prometheus scrape endpoint.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/notcontrolos/hinata/internal/logger"
	"github.com/notcontrolos/hinata/pkg/hinata"
	"github.com/notcontrolos/hinata/pkg/metrics"
	"github.com/notcontrolos/hinata/pkg/storage"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /metrics - Prometheus scrape endpoint (404 when metrics disabled)
//   - GET /api/v1/stats - Aggregate subsystem statistics
//   - GET /api/v1/regions - Region listing
//   - POST /api/v1/regions - Create a region
//   - DELETE /api/v1/regions/{id} - Destroy a region
//   - POST /api/v1/regions/{id}/compact - Compact a region
//   - GET /api/v1/regions/{id}/verify - Verify a region's blocks
func NewRouter(svc *hinata.Service) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handlers{svc: svc}

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.Liveness)
		r.Get("/ready", h.Readiness)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Route("/regions", func(r chi.Router) {
			r.Get("/", h.ListRegions)
			r.Post("/", h.CreateRegion)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", h.DestroyRegion)
				r.Post("/compact", h.CompactRegion)
				r.Get("/verify", h.VerifyRegion)
			})
		})
	})

	return r
}

// regionID parses the {id} URL parameter.
func regionID(r *http.Request) (uint32, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errors.New("invalid region id")
	}
	return uint32(id), nil
}

// writeStorageError maps storage errors onto HTTP status codes.
func writeStorageError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrRegionNotFound), errors.Is(err, storage.ErrPacketNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrRegionBusy), errors.Is(err, storage.ErrRegionExists):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrTooManyRegions), errors.Is(err, storage.ErrNoSpace), errors.Is(err, storage.ErrRegionFull):
		status = http.StatusInsufficientStorage
	case errors.Is(err, storage.ErrValidation):
		status = http.StatusUnprocessableEntity
	}
	JSON(w, status, ErrorResponse(err.Error()))
}

// requestLogger logs request start and completion through the internal
// logger. Health probes complete at DEBUG to keep steady-state logs quiet.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

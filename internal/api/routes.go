// Package api provides HTTP handlers for the spike raster server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spikeraster/server/internal/data/events"
	"github.com/spikeraster/server/internal/render"
	"github.com/spikeraster/server/internal/service"
	"github.com/spikeraster/server/internal/tensor"
)

// maxFrameSide bounds requested frame sizes.
const maxFrameSide = 4096

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	LoadManager *LoadManager
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global dataset and load job endpoints (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))
	r.Post("/api/datasets/{dataset}/reload", reloadHandler(cfg.Registry, cfg.LoadManager))
	r.Get("/api/datasets/{dataset}/loads", loadHistoryHandler(cfg.Registry, cfg.LoadManager))
	r.Route("/api/loads", func(r chi.Router) {
		r.Get("/{job_id}", loadStatusHandler(cfg.LoadManager))
		r.Delete("/{job_id}", loadCancelHandler(cfg.LoadManager))
	})

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Route("/api", func(r chi.Router) {
			r.Get("/metadata", metadataHandler)
			r.Get("/factors", factorsHandler)
			r.Get("/stats", statsHandler)

			r.Post("/sessions", createSessionHandler)
			r.Route("/sessions/{sid}", func(r chi.Router) {
				r.Get("/", sessionHandler)
				r.Delete("/", deleteSessionHandler)
				r.Put("/mode", setModeHandler)
				r.Put("/neuron", setNeuronHandler)
				r.Put("/trial", setTrialHandler)
				r.Put("/color", setColorModeHandler)
				r.Put("/viewport", setViewportHandler)
				r.Get("/frame", frameHandler)
				r.Get("/frame.png", framePNGHandler)
				r.Get("/psth", psthHandler)
			})
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the raster service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.RasterService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.RasterService); ok {
		return svc
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, tensor.ErrUnknownSelection),
		errors.Is(err, tensor.ErrOutOfRangeIndex),
		errors.Is(err, tensor.ErrInvalidBinning),
		errors.Is(err, service.ErrInvalidViewport),
		errors.Is(err, events.ErrInvalidPayloadShape):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotLoaded),
		errors.Is(err, render.ErrUnresolvedViewport):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

func reloadHandler(registry *DatasetRegistry, lm *LoadManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lm == nil {
			http.Error(w, "load manager not configured", http.StatusNotImplemented)
			return
		}
		datasetID := chi.URLParam(r, "dataset")
		if registry.Get(datasetID) == nil {
			http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
			return
		}

		job, err := lm.SubmitDataset(datasetID)
		if err != nil {
			http.Error(w, "failed to submit load: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func loadHistoryHandler(registry *DatasetRegistry, lm *LoadManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lm == nil {
			http.Error(w, "load manager not configured", http.StatusNotImplemented)
			return
		}
		datasetID := chi.URLParam(r, "dataset")
		if registry.Get(datasetID) == nil {
			http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
			return
		}
		jobs, err := lm.List(datasetID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"dataset_id": datasetID,
			"jobs":       jobs,
		})
	}
}

func loadStatusHandler(lm *LoadManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lm == nil {
			http.Error(w, "load manager not configured", http.StatusNotImplemented)
			return
		}
		job := lm.Get(chi.URLParam(r, "job_id"))
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func loadCancelHandler(lm *LoadManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lm == nil {
			http.Error(w, "load manager not configured", http.StatusNotImplemented)
			return
		}
		jobID := chi.URLParam(r, "job_id")
		if lm.Get(jobID) == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":    jobID,
			"cancelled": lm.Cancel(jobID),
		})
	}
}

// Dataset-scoped handlers (get service from context)

func metadataHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, svc.Metadata())
}

func factorsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	legend, err := svc.FactorLegend()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"factors": legend})
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, svc.Stats())
}

func createSessionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	id, sel := svc.NewSession()
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": id,
		"selection":  sel,
		"state":      svc.State(),
	})
}

func sessionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	sel, err := svc.Selection(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(svc, sel))
}

func deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	if !svc.Sessions().Delete(chi.URLParam(r, "sid")) {
		writeError(w, service.ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionResponse is what the interactive controls read: the selection plus
// the lists its choices come from.
func sessionResponse(svc *service.RasterService, sel service.Selection) map[string]interface{} {
	md := svc.Metadata()
	return map[string]interface{}{
		"selection":         sel,
		"state":             md.State,
		"distinctNeuronIds": md.NeuronIDs,
		"distinctTrialIds":  md.TrialIDs,
	}
}

// updateSession decodes the request body into req and applies the setter.
func updateSession[T any](w http.ResponseWriter, r *http.Request, req *T, apply func(svc *service.RasterService, sid string) (service.Selection, error)) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	sel, err := apply(svc, chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(svc, sel))
}

func setModeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode tensor.Axis `json:"mode"`
	}
	updateSession(w, r, &req, func(svc *service.RasterService, sid string) (service.Selection, error) {
		return svc.SetMode(sid, req.Mode)
	})
}

type idRequest struct {
	ID *int `json:"id"`
}

func setNeuronHandler(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	updateSession(w, r, &req, func(svc *service.RasterService, sid string) (service.Selection, error) {
		if req.ID == nil {
			return service.Selection{}, fmt.Errorf("%w: id is required", tensor.ErrUnknownSelection)
		}
		return svc.SetSelectedNeuron(sid, *req.ID)
	})
}

func setTrialHandler(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	updateSession(w, r, &req, func(svc *service.RasterService, sid string) (service.Selection, error) {
		if req.ID == nil {
			return service.Selection{}, fmt.Errorf("%w: id is required", tensor.ErrUnknownSelection)
		}
		return svc.SetSelectedTrial(sid, *req.ID)
	})
}

func setColorModeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ColorMode service.ColorMode `json:"colorMode"`
	}
	updateSession(w, r, &req, func(svc *service.RasterService, sid string) (service.Selection, error) {
		return svc.SetColorMode(sid, req.ColorMode)
	})
}

func setViewportHandler(w http.ResponseWriter, r *http.Request) {
	var req service.Viewport
	updateSession(w, r, &req, func(svc *service.RasterService, sid string) (service.Selection, error) {
		return svc.SetViewport(sid, req)
	})
}

// frameSize reads width and height query params, defaulting to the
// configured frame size.
func frameSize(svc *service.RasterService, r *http.Request) (int, int, error) {
	width, height := svc.DefaultFrameSize()
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"width", &width},
		{"height", &height},
	} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxFrameSide {
			return 0, 0, fmt.Errorf("invalid %s: %q", p.name, raw)
		}
		*p.dst = v
	}
	return width, height, nil
}

func frameHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	width, height, err := frameSize(svc, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sel, err := svc.Selection(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := svc.Frame(sel, width, height)
	switch {
	case errors.Is(err, service.ErrNotLoaded):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"state":   service.StateUninitialized,
			"message": service.MessageLoading,
		})
		return
	case errors.Is(err, events.ErrEmptyDataset):
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"state":   service.StateEmpty,
			"message": service.MessageNoData,
			"panels":  []render.Panel{},
		})
		return
	case err != nil:
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":     service.StateReady,
		"selection": sel,
		"frame":     f,
	})
}

func framePNGHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	width, height, err := frameSize(svc, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sel, err := svc.Selection(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := svc.FramePNG(sel, width, height)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func psthHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	bin := 0.05
	if raw := r.URL.Query().Get("bin"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(v > 0) {
			http.Error(w, "invalid bin: "+raw, http.StatusBadRequest)
			return
		}
		bin = v
	}
	sel, err := svc.Selection(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}

	h, err := svc.PSTH(sel, bin)
	switch {
	case errors.Is(err, events.ErrEmptyDataset):
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"state":   service.StateEmpty,
			"message": service.MessageNoData,
		})
		return
	case err != nil:
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selection": sel,
		"psth":      h,
	})
}

// File: server/admin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/internal/jsoncodec"
	"github.com/momentics/fluxd/module"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	// loopTimeout bounds how long an admin request waits for the host loop.
	loopTimeout = 10 * time.Second
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// AdminHandler returns the admin router. Registry changes are marshaled onto
// the host loop through Do.
func (s *Server) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/debug/state", s.handleDebugState)

	r.Get("/config", s.handleGetConfig)
	r.Put("/config", s.handlePutConfig)

	r.Route("/modules", func(r chi.Router) {
		r.Get("/", s.handleListModules)
		r.Get("/{name}", s.handleGetModule)
		r.Post("/{name}/reload", s.handleReloadModule)
		r.Delete("/{name}", s.handleUnloadModule)
	})
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug("admin request", api.LogFields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}

func (s *Server) onLoop(r *http.Request, fn func() error) error {
	ctx, cancel := context.WithTimeout(r.Context(), loopTimeout)
	defer cancel()
	return s.Do(ctx, fn)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"modules": s.modules.Len(),
		"running": s.running.Load(),
	})
}

func (s *Server) handleDebugState(w http.ResponseWriter, r *http.Request) {
	var stats map[string]any
	if err := s.onLoop(r, func() error {
		stats = s.control.Stats()
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.control.GetConfig())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := jsoncodec.Decode(r.Body, &values); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if len(values) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no settings given"})
		return
	}
	if err := s.control.SetConfig(values); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.control.GetConfig())
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	var infos []module.Info
	if err := s.onLoop(r, func() error {
		mods := s.modules.Modules()
		infos = make([]module.Info, len(mods))
		for i, m := range mods {
			infos[i] = module.Describe(m)
		}
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var info module.Info
	if err := s.onLoop(r, func() error {
		m := s.modules.FindModule(name)
		if m == nil {
			return api.NewError(api.ErrCodeNoExist, name, "not loaded")
		}
		info = module.Describe(m)
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleReloadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.onLoop(r, func() error { return s.modules.Reload(name) }); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "module": name})
}

func (s *Server) handleUnloadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.onLoop(r, func() error { return s.modules.UnloadByName(name) }); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		http.Error(w, "encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// writeError maps plugin status codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := api.CodeOf(err)
	switch code {
	case api.ErrCodeParams:
		status = http.StatusBadRequest
	case api.ErrCodeNoExist:
		status = http.StatusNotFound
	case api.ErrCodeExists, api.ErrCodePermanent, api.ErrCodeDepends:
		status = http.StatusConflict
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code.String()})
}

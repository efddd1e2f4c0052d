package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// statusEngine is the slice of MiningEngine the status API exposes.
type statusEngine interface {
	Stats() EngineStats
	TogglePause() bool
	AdjustThreads(delta int) int
	SetThreads(n int) int
	Subscribe(buffer int) (<-chan EngineEvent, func())
}

// StatusServer is the local HTTP API: read-only status for anyone who can
// reach the listen address, control endpoints for holders of a token.
type StatusServer struct {
	engine    statusEngine
	history   *historyStore
	poolStats *PoolStatsService
	auth      *controlAuth
	rig       string
}

func NewStatusServer(engine statusEngine, history *historyStore, poolStats *PoolStatsService, auth *controlAuth, rig string) *StatusServer {
	return &StatusServer{
		engine:    engine,
		history:   history,
		poolStats: poolStats,
		auth:      auth,
		rig:       rig,
	}
}

func (s *StatusServer) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatusJSON).Methods(http.MethodGet)
	api.HandleFunc("/shares", s.handleSharesJSON).Methods(http.MethodGet)
	api.HandleFunc("/pool-stats", s.handlePoolStatsJSON).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEventsWS).Methods(http.MethodGet)

	control := api.PathPrefix("/control").Subrouter()
	control.HandleFunc("/pause", s.auth.requireControl(s.handleTogglePause)).Methods(http.MethodPost)
	control.HandleFunc("/threads/{delta:[-+]?[0-9]+}", s.auth.requireControl(s.handleAdjustThreads)).Methods(http.MethodPost)
	control.HandleFunc("/threads/{count:[0-9]+}", s.auth.requireControl(s.handleSetThreads)).Methods(http.MethodPut)
	return r
}

// Serve listens on addr until ctx is done.
func (s *StatusServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("status API listening", "addr", addr, "control", s.auth != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusResponse struct {
	Rig    string      `json:"rig"`
	Agent  string      `json:"agent"`
	JSON   string      `json:"json"`
	SHA256 string      `json:"sha256"`
	Engine EngineStats `json:"engine"`
}

func (s *StatusServer) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Rig:    s.rig,
		Agent:  minerAgent,
		JSON:   jsonImplementationName(),
		SHA256: sha256ImplementationName(),
		Engine: s.engine.Stats(),
	})
}

type sharesResponse struct {
	Summary shareSummary  `json:"summary_24h"`
	Recent  []shareRecord `json:"recent"`
}

func (s *StatusServer) handleSharesJSON(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSONError(w, http.StatusNotFound, "share history disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSONError(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		limit = n
	}
	summary, err := s.history.Summary(time.Now().Add(-24 * time.Hour))
	if err != nil {
		logger.Error("share summary query", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	recent, err := s.history.Recent(limit)
	if err != nil {
		logger.Error("recent shares query", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sharesResponse{Summary: summary, Recent: recent})
}

func (s *StatusServer) handlePoolStatsJSON(w http.ResponseWriter, r *http.Request) {
	if s.poolStats == nil {
		writeJSONError(w, http.StatusNotFound, "pool stats not configured")
		return
	}
	stats, err := s.poolStats.Stats(r.Context())
	if err != nil && stats == nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type controlResponse struct {
	Paused  bool `json:"paused"`
	Threads int  `json:"threads"`
	Manual  int  `json:"manual_threads"`
}

func (s *StatusServer) controlState() controlResponse {
	st := s.engine.Stats()
	return controlResponse{Paused: st.Paused, Threads: st.TargetThreads, Manual: st.ManualThreads}
}

func (s *StatusServer) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	paused := s.engine.TogglePause()
	logger.Info("pause toggled via status API", "paused", paused, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, s.controlState())
}

func (s *StatusServer) handleAdjustThreads(w http.ResponseWriter, r *http.Request) {
	delta, err := strconv.Atoi(mux.Vars(r)["delta"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad delta")
		return
	}
	s.engine.AdjustThreads(delta)
	writeJSON(w, http.StatusOK, s.controlState())
}

func (s *StatusServer) handleSetThreads(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["count"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad count")
		return
	}
	s.engine.SetThreads(n)
	writeJSON(w, http.StatusOK, s.controlState())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := fastJSONMarshal(v)
	if err != nil {
		logger.Error("encode json response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		logger.Debug("write json response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

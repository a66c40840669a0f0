// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kazwalker/dccstation/pkg/opauth"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API and WebSocket telemetry hub",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	st := NewStation(cfg, log)
	auth := opauth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	hub := newTelemetryHub()

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL)
		if err != nil {
			log.Warn().Err(err).Msg("NATS connect failed, continuing without event publishing")
			nc = nil
		} else {
			defer nc.Close()
		}
	}

	srv := newAPIServer(st, auth, hub, nc, log.With().Str("component", "api").Logger())
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      srv.router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st.Run()
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("control API listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				hub.broadcast(st.snapshotEvent())
			}
		}
	})

	<-gctx.Done()
	st.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	return g.Wait()
}

// snapshotEvent builds the periodic telemetry payload pushed to
// websocket clients and, when NATS is configured, published to the
// event bus.
func (s *Station) snapshotEvent() stationEvent {
	ev := stationEvent{
		Type: "snapshot",
		Mode: s.Scheduler.Mode().String(),
	}
	for _, t := range s.Scheduler.Throttles() {
		ev.Throttles = append(ev.Throttles, ThrottleSnapshot{
			Address:   t.Address(),
			Speed:     t.Speed(),
			Functions: t.Functions(),
		})
	}
	return ev
}

type stationEvent struct {
	Type      string             `json:"type"`
	Mode      string             `json:"mode"`
	Throttles []ThrottleSnapshot `json:"throttles,omitempty"`
}

// apiServer holds the chi router and its collaborators.
type apiServer struct {
	station *Station
	auth    *opauth.Manager
	hub     *telemetryHub
	nc      *nats.Conn
	log     zerolog.Logger
	router  chi.Router
}

func newAPIServer(st *Station, auth *opauth.Manager, hub *telemetryHub, nc *nats.Conn, log zerolog.Logger) *apiServer {
	s := &apiServer{station: st, auth: auth, hub: hub, nc: nc, log: log, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *apiServer) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/api/v1/login", s.handleLogin)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/ws", s.handleWebsocket)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/v1/mode", s.handleSetMode)
		r.Post("/api/v1/throttles", s.handleCreateThrottle)
		r.Delete("/api/v1/throttles/{address}", s.handleDeleteThrottle)
		r.Post("/api/v1/throttles/{address}/speed", s.handleSetSpeed)
		r.Post("/api/v1/throttles/{address}/function", s.handleSetFunction)
		r.Post("/api/v1/svc/write", s.handleSvcWriteCV)
		r.Post("/api/v1/svc/read", s.handleSvcReadCV)
	})
}

func (s *apiServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(hdr) <= len(prefix) || hdr[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := s.auth.Validate(hdr[len(prefix):]); err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *apiServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if !opauth.CheckPassword(req.Password, s.station.Cfg.Auth.TokenHash) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, sessionID, err := s.auth.Issue()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info().Str("session_id", sessionID).Msg("operator session issued")
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "session_id": sessionID})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.station.snapshotEvent())
}

func (s *apiServer) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	switch req.Mode {
	case "off":
		s.station.Scheduler.SetModeOff()
	case "ops":
		s.station.Scheduler.SetModeOps()
	default:
		http.Error(w, "mode must be off or ops", http.StatusBadRequest)
		return
	}
	s.publishEvent("mode", req.Mode)
	writeJSON(w, http.StatusOK, s.station.snapshotEvent())
}

func (s *apiServer) handleCreateThrottle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address int `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	t, err := s.station.Scheduler.CreateThrottle(req.Address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, ThrottleSnapshot{Address: t.Address(), Speed: t.Speed(), Functions: t.Functions()})
}

func (s *apiServer) handleDeleteThrottle(w http.ResponseWriter, r *http.Request) {
	addr, err := strconv.Atoi(chi.URLParam(r, "address"))
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	s.station.Scheduler.DeleteThrottle(addr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	addr, err := strconv.Atoi(chi.URLParam(r, "address"))
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	var req struct {
		Speed int `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	t, err := s.station.Scheduler.CreateThrottle(addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := t.SetSpeed(req.Speed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleSetFunction(w http.ResponseWriter, r *http.Request) {
	addr, err := strconv.Atoi(chi.URLParam(r, "address"))
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	var req struct {
		Num int  `json:"num"`
		On  bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	t, err := s.station.Scheduler.CreateThrottle(addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := t.SetFunction(req.Num, req.On); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleSvcWriteCV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CV  int  `json:"cv"`
		Val byte `json:"val"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := s.station.Scheduler.SvcWriteCV(req.CV, req.Val); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *apiServer) handleSvcReadCV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CV int `json:"cv"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := s.station.Scheduler.SvcReadCV(req.CV); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *apiServer) publishEvent(kind, detail string) {
	if s.nc == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"type": kind, "detail": detail})
	_ = s.nc.Publish(s.station.Cfg.NATS.Subject, payload)
}

// --- WebSocket telemetry hub ---

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type telemetryHub struct {
	mu      sync.Mutex
	clients map[string]*websocket.Conn
}

func newTelemetryHub() *telemetryHub {
	return &telemetryHub{clients: make(map[string]*websocket.Conn)}
}

func (h *telemetryHub) add(id string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[id] = c
}

func (h *telemetryHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

func (h *telemetryHub) broadcast(ev stationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if err := c.WriteJSON(ev); err != nil {
			c.Close()
			delete(h.clients, id)
		}
	}
}

func (s *apiServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sessionID := uuid.NewString()
	s.hub.add(sessionID, conn)
	defer s.hub.remove(sessionID)

	conn.WriteJSON(s.station.snapshotEvent())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/tallyhq/tally/pkg/events"
	"github.com/tallyhq/tally/pkg/log"
	"github.com/tallyhq/tally/pkg/metrics"
	"github.com/tallyhq/tally/pkg/storage"
	"github.com/tallyhq/tally/pkg/types"
)

// Syncer triggers an immediate reconciliation cycle.
type Syncer interface {
	RunOnce(ctx context.Context) error
}

// Server is the HTTP query surface over the ticket ledger.
type Server struct {
	store  storage.Store
	syncer Syncer
	broker *events.Broker
	logger zerolog.Logger

	router *mux.Router
	http   *http.Server
}

// NewServer creates the API server. The broker may be nil, which
// disables the /events stream.
func NewServer(store storage.Store, syncer Syncer, broker *events.Broker) *Server {
	s := &Server{
		store:  store,
		syncer: syncer,
		broker: broker,
		logger: log.WithComponent("api"),
		router: mux.NewRouter(),
	}

	s.router.Use(s.instrument)
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/tickets", s.allTicketsHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/tickets/sync", s.syncHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/tickets/{username}", s.userTicketsHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.eventsHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return s
}

// Handler returns the server's router, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("api listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// healthHandler implements the /health liveness endpoint.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// readyHandler reports whether the store is reachable.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// TicketView is one ticket in a user's ticket listing.
type TicketView struct {
	Number  int  `json:"number"`
	IsValid bool `json:"is_valid"`
}

// UserTicketsResponse lists every ticket a user has ever held.
type UserTicketsResponse struct {
	Tickets []TicketView `json:"tickets"`
}

// userTicketsHandler implements GET /tickets/{username}.
func (s *Server) userTicketsHandler(w http.ResponseWriter, r *http.Request) {
	username := types.NormalizeUsername(mux.Vars(r)["username"])

	tickets, err := s.store.TicketsFor(r.Context(), username)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := UserTicketsResponse{Tickets: make([]TicketView, 0, len(tickets))}
	for _, t := range tickets {
		resp.Tickets = append(resp.Tickets, TicketView{Number: t.Number, IsValid: t.IsValid})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// AllTicketsResponse maps each user to their valid ticket numbers.
type AllTicketsResponse struct {
	Tickets map[string][]int `json:"tickets"`
}

// allTicketsHandler implements GET /tickets.
func (s *Server) allTicketsHandler(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.store.AllValidTickets(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tickets == nil {
		tickets = make(map[string][]int)
	}
	s.writeJSON(w, http.StatusOK, AllTicketsResponse{Tickets: tickets})
}

// syncHandler implements POST /tickets/sync, running one reconciliation
// cycle immediately.
func (s *Server) syncHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.syncer.RunOnce(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("triggered sync failed")
		s.writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "tickets synchronized",
	})
}

// eventsHandler streams ledger events as server-sent events.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		http.Error(w, "events disabled", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	for {
		select {
		case event, open := <-sub:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("request failed")
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// instrument records request counts and durations per route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush passes through so the SSE stream works behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// engineAPI is everything the console needs from the engine: snapshot reads
// plus the shared command path. The console never mutates state directly.
type engineAPI interface {
	ListActiveSignals(ctx context.Context) ([]*domain.Signal, error)
	ListOpenTickets(ctx context.Context) ([]*domain.Ticket, error)
	SignalHistory(ctx context.Context, limit int) ([]*domain.Signal, error)
	Apply(ctx context.Context, cmd domain.Command) error
}

// Server is the operator console HTTP surface. It binds to a local address;
// there is no auth tier, the listener address is the access control.
type Server struct {
	logger   ports.Logger
	engine   engineAPI
	sessions *Sessions
	srv      *http.Server
}

// NewServer creates the console server listening on addr.
func NewServer(addr string, logger ports.Logger, engine engineAPI) *Server {
	s := &Server{
		logger:   logger,
		engine:   engine,
		sessions: NewSessions(engine),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/signals/active", s.handleActiveSignals)
	r.Get("/api/signals/history", s.handleHistory)
	r.Get("/api/tickets/open", s.handleOpenTickets)
	r.Post("/api/signals/{id}/commands", s.handleCommand)
	r.Post("/api/sessions/{operator}/input", s.handleSessionInput)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info(ctx, "console listening", map[string]interface{}{"addr": s.srv.Addr})
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleActiveSignals(w http.ResponseWriter, r *http.Request) {
	sigs, err := s.engine.ListActiveSignals(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sigs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}
	sigs, err := s.engine.SignalHistory(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sigs)
}

func (s *Server) handleOpenTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.engine.ListOpenTickets(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, tickets)
}

type commandRequest struct {
	Kind        string    `json:"kind"`
	StopLoss    float64   `json:"stop_loss,omitempty"`
	TakeProfits []float64 `json:"take_profits,omitempty"`
}

var commandKinds = map[string]domain.CommandKind{
	"edit":            domain.CmdEdit,
	"delete":          domain.CmdDelete,
	"risk_free":       domain.CmdRiskFree,
	"half_close":      domain.CmdHalfClose,
	"take_profit_now": domain.CmdTakeProfitNow,
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid signal id", http.StatusBadRequest)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	kind, ok := commandKinds[req.Kind]
	if !ok {
		http.Error(w, "unknown command kind", http.StatusBadRequest)
		return
	}
	cmd := domain.Command{
		Kind:        kind,
		SignalID:    id,
		StopLoss:    req.StopLoss,
		TakeProfits: req.TakeProfits,
	}
	if err := s.engine.Apply(r.Context(), cmd); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "accepted"})
}

type sessionInputRequest struct {
	Input string `json:"input"`
}

func (s *Server) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	operator := chi.URLParam(r, "operator")
	if operator == "" {
		http.Error(w, "missing operator", http.StatusBadRequest)
		return
	}
	var req sessionInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	reply, err := s.sessions.Input(r.Context(), operator, req.Input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, reply)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

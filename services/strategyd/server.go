package strategyd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calcchain/core/types"
	"calcchain/native/scheduler"
	"calcchain/native/strategy"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine      *strategy.Engine
	Scheduler   *scheduler.Engine
	Dispatcher  *Dispatcher
	EvalContext func() *strategy.Context
	Logger      *slog.Logger
}

// Server exposes the strategy engine over HTTP.
type Server struct {
	engine     *strategy.Engine
	scheduler  *scheduler.Engine
	dispatcher *Dispatcher
	evalCtx    func() *strategy.Context
	logger     *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:     cfg.Engine,
		scheduler:  cfg.Scheduler,
		dispatcher: cfg.Dispatcher,
		evalCtx:    cfg.EvalContext,
		logger:     logger,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Post("/strategies", s.createStrategy)
		api.Get("/strategies", s.listStrategies)
		api.Get("/strategies/{id}", s.getStrategy)
		api.Post("/strategies/{id}/execute", s.executeStrategy)
		api.Post("/strategies/{id}/update", s.updateStrategy)
		api.Post("/strategies/{id}/pause", s.pauseStrategy)
		api.Post("/strategies/{id}/resume", s.resumeStrategy)
		api.Post("/strategies/{id}/withdraw", s.withdrawStrategy)
		api.Post("/strategies/{id}/cancel", s.cancelStrategy)
		api.Post("/strategies/{id}/archive", s.archiveStrategy)
		api.Post("/callbacks/{id}", s.handleCallback)
		api.Get("/triggers", s.listTriggers)
		api.Get("/effects", s.pendingEffects)
	})

	return r
}

// requestID stamps each request with a UUID so log lines from one call can
// be correlated.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

type createStrategyRequest struct {
	Owner      string               `json:"owner"`
	Label      string               `json:"label,omitempty"`
	Affiliates []strategy.Affiliate `json:"affiliates,omitempty"`
	Action     strategy.Action      `json:"action"`
}

type strategyResponse struct {
	Strategy *strategy.Strategy `json:"strategy"`
	Effects  []types.Effect     `json:"effects,omitempty"`
}

func (s *Server) createStrategy(w http.ResponseWriter, r *http.Request) {
	var req createStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	created, effects, err := s.engine.Create(req.Owner, req.Label, req.Affiliates, req.Action)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.dispatcher.Dispatch(created.Contract, effects); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, strategyResponse{Strategy: created, Effects: effects})
}

func (s *Server) listStrategies(w http.ResponseWriter, _ *http.Request) {
	strategies, err := s.engine.List()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategies": strategies})
}

func (s *Server) getStrategy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	found, err := s.engine.Get(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, strategyResponse{Strategy: found})
}

func (s *Server) executeStrategy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	effects, err := s.engine.Execute(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.dispatchFor(id, effects); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"effects": effects})
}

type updateStrategyRequest struct {
	Sender string          `json:"sender"`
	Action strategy.Action `json:"action"`
}

func (s *Server) updateStrategy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req updateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	effects, err := s.engine.Update(id, req.Sender, req.Action)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.dispatchFor(id, effects); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"effects": effects})
}

type senderRequest struct {
	Sender string `json:"sender"`
}

func (s *Server) pauseStrategy(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.senderCall(w, r)
	if !ok {
		return
	}
	if err := s.engine.Pause(id, req.Sender); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) resumeStrategy(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.senderCall(w, r)
	if !ok {
		return
	}
	effects, err := s.engine.Resume(id, req.Sender)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.dispatchFor(id, effects); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "active", "effects": effects})
}

type withdrawRequest struct {
	Sender string   `json:"sender"`
	Denoms []string `json:"denoms"`
}

func (s *Server) withdrawStrategy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	effects, err := s.engine.Withdraw(id, req.Sender, req.Denoms)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.dispatchFor(id, effects); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"effects": effects})
}

func (s *Server) cancelStrategy(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.senderCall(w, r)
	if !ok {
		return
	}
	effects, err := s.engine.Cancel(id, req.Sender)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.dispatchFor(id, effects); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"effects": effects})
}

func (s *Server) archiveStrategy(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.senderCall(w, r)
	if !ok {
		return
	}
	if err := s.engine.Archive(id, req.Sender); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

type callbackRequest struct {
	Success  bool        `json:"success"`
	Reason   string      `json:"reason,omitempty"`
	Received *types.Coin `json:"received,omitempty"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.HandleCallback(id, req.Success, req.Reason, req.Received); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("due") == "true" {
		due, err := s.scheduler.Filtered(s.evalCtx(), 0)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"triggers": due})
		return
	}
	owner := r.URL.Query().Get("owner")
	owned, err := s.scheduler.Owned(owner, 0, 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"triggers": owned})
}

func (s *Server) pendingEffects(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"effects": s.dispatcher.Pending()})
}

// dispatchFor routes effects on behalf of the strategy's contract account.
func (s *Server) dispatchFor(id uint64, effects []types.Effect) error {
	if len(effects) == 0 {
		return nil
	}
	found, err := s.engine.Get(id)
	if err != nil {
		return err
	}
	return s.dispatcher.Dispatch(found.Contract, effects)
}

func (s *Server) senderCall(w http.ResponseWriter, r *http.Request) (uint64, senderRequest, bool) {
	id, ok := s.pathID(w, r)
	if !ok {
		return 0, senderRequest{}, false
	}
	var req senderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return 0, senderRequest{}, false
	}
	return id, req, true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return id, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, strategy.ErrStrategyNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, strategy.ErrUnauthorized):
		s.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, strategy.ErrCallbackNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, strategy.ErrInvalidAction),
		errors.Is(err, strategy.ErrInvalidCondition),
		errors.Is(err, strategy.ErrInvalidCadence),
		errors.Is(err, strategy.ErrTreeTooDeep),
		errors.Is(err, strategy.ErrTreeTooLarge),
		errors.Is(err, strategy.ErrNotActive),
		errors.Is(err, strategy.ErrInvalidTransition),
		errors.Is(err, strategy.ErrEscrowedWithdrawal):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Error("request failed", "status", status, "error", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

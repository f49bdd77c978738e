package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/celo-runner/internal/chain"
	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/game"
	"github.com/celo-runner/internal/metrics"
	"github.com/celo-runner/internal/reconcile"
	"github.com/celo-runner/internal/service"
	"github.com/celo-runner/internal/store"
	"github.com/celo-runner/internal/websocket"
)

// Service is the game API served over HTTP
type Service interface {
	State() store.State
	Connect(ctx context.Context, addr string) (store.State, error)
	Disconnect() store.State
	Player(ctx context.Context) (*domain.Player, error)
	Register(ctx context.Context, username string) (chain.TxResult, error)
	PlayRun(ctx context.Context, stage int64) (game.Result, error)
	SaveRun(ctx context.Context, res game.Result, correct int64) (chain.TxResult, error)
	ClaimRewards(ctx context.Context, stage int64) (reconcile.Result, error)
	ResolveDialog(confirmed bool) error
	DismissNotification() store.State
	PurchaseItem(ctx context.Context, itemType string, cost int64) error
	Leaderboard(ctx context.Context, scope domain.LeaderboardScope, limit int) ([]domain.LeaderboardEntry, error)
	Stats(ctx context.Context) (domain.GameStats, error)
	TxStatus() chain.TxStatus
	History(ctx context.Context, limit int) (service.History, error)
	Marketplace(ctx context.Context) ([]domain.TokenView, error)
	ApproveMarketplace(ctx context.Context) (chain.TxResult, error)
	ListToken(ctx context.Context, tokenID uint64, price string) (chain.TxResult, error)
	BuyToken(ctx context.Context, tokenID uint64, payment *big.Int) (chain.TxResult, error)
	CancelListing(ctx context.Context, tokenID uint64) (chain.TxResult, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the game API
type Handler struct {
	service Service
	hub     *websocket.Hub
	checks  map[string]Pinger
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. checks are probed by /ready.
func NewHandler(service Service, hub *websocket.Hub, checks map[string]Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		checks:  checks,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	r.Use(metrics.InstrumentHandler)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/connect", h.Connect)
		r.Post("/disconnect", h.Disconnect)
		r.Get("/state", h.GetState)
		r.Get("/tx", h.GetTxStatus)
		r.Get("/stats", h.GetStats)
		r.Get("/history", h.GetHistory)

		r.Get("/player", h.GetPlayer)

		// These wait on the player or on mined receipts.
		r.Group(func(r chi.Router) {
			r.Use(h.noDeadline)
			r.Post("/player/register", h.Register)
			r.Post("/shop/purchase", h.PurchaseItem)
			r.Post("/runs", h.PlayRun)
			r.Post("/sessions", h.SaveSession)
			r.Post("/rewards/{stage}/claim", h.ClaimRewards)
		})

		r.Post("/dialog/confirm", h.ConfirmDialog)
		r.Post("/dialog/cancel", h.CancelDialog)
		r.Delete("/notifications/current", h.DismissNotification)

		r.Route("/leaderboards", func(r chi.Router) {
			r.Get("/general", h.GetGeneralLeaderboard)
			r.Get("/{stage}", h.GetStageLeaderboard)
		})

		r.Route("/marketplace", func(r chi.Router) {
			r.Use(h.noDeadline)
			r.Get("/", h.GetMarketplace)
			r.Post("/approve", h.ApproveMarketplace)
			r.Post("/{tokenID}/list", h.ListToken)
			r.Post("/{tokenID}/buy", h.BuyToken)
			r.Post("/{tokenID}/cancel", h.CancelListing)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// noDeadline lifts the server read and write timeouts for the request.
// The request context still bounds it.
func (h *Handler) noDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			h.logger.Debug("write deadline not cleared", "path", r.URL.Path, "error", err)
		}
		if err := rc.SetReadDeadline(time.Time{}); err != nil {
			h.logger.Debug("read deadline not cleared", "path", r.URL.Path, "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// statusFor maps a service error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrReadOnly), errors.Is(err, domain.ErrNotOwner), errors.Is(err, domain.ErrNotSeller):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOperationInFlight), errors.Is(err, domain.ErrRunInProgress),
		errors.Is(err, domain.ErrDialogOpen), errors.Is(err, domain.ErrAlreadyListed):
		return http.StatusConflict
	case domain.IsNotFoundError(err), errors.Is(err, domain.ErrNoDialog), errors.Is(err, domain.ErrNotListed):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMarketplaceMissing), errors.Is(err, domain.ErrHistoryDisabled):
		return http.StatusServiceUnavailable
	case domain.IsPreconditionError(err), errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	var readErr *chain.ReadError
	if errors.As(err, &readErr) || errors.Is(err, domain.ErrTransactionFailed) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "operation", op, "path", r.URL.Path, "error", err)
	}
	if status == http.StatusInternalServerError {
		err = domain.ErrInternalError
	}
	h.writeError(w, status, err)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			return l
		}
	}
	return 0
}

func stageParam(r *http.Request) (int64, error) {
	stage, err := strconv.ParseInt(chi.URLParam(r, "stage"), 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidStage
	}
	return stage, nil
}

func tokenParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil || id == 0 {
		return 0, domain.ErrTokenNotFound
	}
	return id, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
		"subscribers": map[string]int{
			websocket.TopicState:        h.hub.GetSubscriberCount(websocket.TopicState),
			websocket.TopicNotification: h.hub.GetSubscriberCount(websocket.TopicNotification),
			websocket.TopicLeaderboard:  h.hub.GetSubscriberCount(websocket.TopicLeaderboard),
			websocket.TopicTx:           h.hub.GetSubscriberCount(websocket.TopicTx),
		},
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck probes the chain endpoint and the enabled stores
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check.Ping(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: status, Error: "not ready"})
		return
	}
	h.writeSuccess(w, map[string]interface{}{"status": "ready", "checks": status})
}

// Connect connects a wallet address
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	st, err := h.service.Connect(r.Context(), req.Address)
	if err != nil {
		h.fail(w, r, "connect", err)
		return
	}
	h.writeSuccess(w, st)
}

// Disconnect clears the connected wallet
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.Disconnect())
}

// GetState returns the application state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.State())
}

// GetTxStatus returns the write lifecycle state
func (h *Handler) GetTxStatus(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.TxStatus())
}

// GetPlayer returns the connected player
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Player(r.Context())
	if err != nil {
		h.fail(w, r, "player", err)
		return
	}
	h.writeSuccess(w, p)
}

// Register registers a username for the connected wallet
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), req.Username)
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}
	h.writeSuccess(w, res)
}

// PlayRun simulates a run of the requested stage
func (h *Handler) PlayRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage int64 `json:"stage"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.PlayRun(r.Context(), req.Stage)
	if err != nil {
		h.fail(w, r, "play run", err)
		return
	}
	h.writeSuccess(w, res)
}

// SaveSession saves a finished run together with its quiz result
func (h *Handler) SaveSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage            int64 `json:"stage"`
		Score            int64 `json:"score"`
		CoinsCollected   int64 `json:"coins_collected"`
		QuestionsCorrect int64 `json:"questions_correct"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.SaveRun(r.Context(), game.Result{
		Stage: req.Stage,
		Score: req.Score,
		Coins: req.CoinsCollected,
	}, req.QuestionsCorrect)
	if err != nil {
		h.fail(w, r, "save session", err)
		return
	}
	h.writeSuccess(w, res)
}

// ClaimRewards claims the rewards of a stage. The response is written
// once the confirmation dialog has been answered.
func (h *Handler) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	stage, err := stageParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.service.ClaimRewards(r.Context(), stage)
	if err != nil {
		h.fail(w, r, "claim rewards", err)
		return
	}
	h.writeSuccess(w, res)
}

// ConfirmDialog approves the open dialog
func (h *Handler) ConfirmDialog(w http.ResponseWriter, r *http.Request) {
	h.resolveDialog(w, r, true)
}

// CancelDialog rejects the open dialog
func (h *Handler) CancelDialog(w http.ResponseWriter, r *http.Request) {
	h.resolveDialog(w, r, false)
}

func (h *Handler) resolveDialog(w http.ResponseWriter, r *http.Request, confirmed bool) {
	if err := h.service.ResolveDialog(confirmed); err != nil {
		h.fail(w, r, "resolve dialog", err)
		return
	}
	h.writeSuccess(w, map[string]bool{"confirmed": confirmed})
}

// DismissNotification hides the visible notification
func (h *Handler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.DismissNotification())
}

// PurchaseItem buys a shop item with in-game coins
func (h *Handler) PurchaseItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemType string `json:"item_type"`
		Cost     int64  `json:"cost"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.ItemType == "" || req.Cost <= 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.PurchaseItem(r.Context(), req.ItemType, req.Cost); err != nil {
		h.fail(w, r, "purchase item", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "purchased"})
}

// GetGeneralLeaderboard returns the ranking across all stages
func (h *Handler) GetGeneralLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.leaderboard(w, r, domain.LeaderboardScope{})
}

// GetStageLeaderboard returns the ranking of one stage
func (h *Handler) GetStageLeaderboard(w http.ResponseWriter, r *http.Request) {
	stage, err := stageParam(r)
	if err != nil || stage < 1 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidStage)
		return
	}
	h.leaderboard(w, r, domain.LeaderboardScope{Stage: stage})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request, scope domain.LeaderboardScope) {
	entries, err := h.service.Leaderboard(r.Context(), scope, queryLimit(r))
	if err != nil {
		h.fail(w, r, "leaderboard", err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"stage":   scope.Stage,
		"entries": entries,
	})
}

// GetStats returns the global game counters
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "stats", err)
		return
	}
	h.writeSuccess(w, stats)
}

// GetHistory returns the recorded sessions and claims of the wallet
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	if limit == 0 {
		limit = 50
	}
	history, err := h.service.History(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "history", err)
		return
	}
	h.writeSuccess(w, history)
}

// GetMarketplace returns every minted badge with its listing state
func (h *Handler) GetMarketplace(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.Marketplace(r.Context())
	if err != nil {
		h.fail(w, r, "marketplace", err)
		return
	}
	h.writeSuccess(w, views)
}

// ApproveMarketplace grants the marketplace transfer rights
func (h *Handler) ApproveMarketplace(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ApproveMarketplace(r.Context())
	if err != nil {
		h.fail(w, r, "approve marketplace", err)
		return
	}
	h.writeSuccess(w, res)
}

// ListToken offers a badge for sale
func (h *Handler) ListToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenParam(r)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	var req struct {
		Price string `json:"price"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.ListToken(r.Context(), tokenID, req.Price)
	if err != nil {
		h.fail(w, r, "list token", err)
		return
	}
	h.writeSuccess(w, res)
}

// BuyToken buys a listed badge. An empty payment pays the listed price.
func (h *Handler) BuyToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenParam(r)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	var req struct {
		Payment string `json:"payment"`
	}
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	var payment *big.Int
	if req.Payment != "" {
		if payment, err = chain.ParseEther(req.Payment); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	res, err := h.service.BuyToken(r.Context(), tokenID, payment)
	if err != nil {
		h.fail(w, r, "buy token", err)
		return
	}
	h.writeSuccess(w, res)
}

// CancelListing withdraws a listing
func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenParam(r)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}

	res, err := h.service.CancelListing(r.Context(), tokenID)
	if err != nil {
		h.fail(w, r, "cancel listing", err)
		return
	}
	h.writeSuccess(w, res)
}

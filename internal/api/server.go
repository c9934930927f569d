package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"cleaning-queue/internal/config"
	"cleaning-queue/internal/models"
	"cleaning-queue/internal/queue"
	"cleaning-queue/internal/ratelimit"
	"cleaning-queue/internal/store"
	"cleaning-queue/internal/telemetry"
)

// OrderStore is the subset of the store the intake handlers need. The queue
// engine goes through its own repository; these are plain CRUD.
type OrderStore interface {
	CreateWorkOrder(ctx context.Context, p store.CreateWorkOrderParams) (models.WorkOrder, error)
	GetWorkOrder(ctx context.Context, orderNumber string) (models.WorkOrder, error)
	CompleteWorkOrder(ctx context.Context, orderNumber string) error
}

// Server wires HTTP handlers for the queue service.
type Server struct {
	cfg     config.Config
	engine  *queue.Engine
	orders  OrderStore
	limiter *ratelimit.TokenBucket
}

// New constructs the API server.
func New(cfg config.Config, engine *queue.Engine, orders OrderStore, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		orders:  orders,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/queue", s.handleListQueue)
	r.Get("/queue/summary", s.handleSummary)
	r.Get("/queue/preview", s.handlePreview)

	r.Group(func(r chi.Router) {
		r.Use(s.adminOnly)
		r.Use(s.rateLimited)
		r.Post("/queue/initialize", s.handleInitialize)
		r.Post("/queue/reset", s.handleReset)
		r.Post("/queue/reorder", s.handleReorder)
		r.Post("/orders", s.handleCreateOrder)
		r.Post("/orders/{number}/complete", s.handleCompleteOrder)
	})

	r.Get("/orders/{number}", s.handleGetOrder)
	return r
}

// adminOnly gates destructive operations behind a shared token. The real
// role check (admin/manager) lives in the web layer in front of this
// service; the token keeps the service safe when exposed directly.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" && r.Header.Get("X-Admin-Token") != s.cfg.AdminToken {
			writeFailure(w, http.StatusForbidden, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			key := fmt.Sprintf("rl:%s", clientFromRequest(r))
			allowed, _, err := s.limiter.Allow(r.Context(), key)
			if err != nil {
				writeFailure(w, http.StatusInternalServerError, "rate limit error")
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				writeFailure(w, http.StatusTooManyRequests, "rate limited")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	params := queue.ListParams{
		Search:       r.URL.Query().Get("search"),
		Page:         queryInt(r, "page", 1),
		PerPage:      queryInt(r, "per_page", s.cfg.DefaultPerPage),
		ShowExcluded: queryBool(r, "show_excluded"),
	}
	page, err := s.engine.List(r.Context(), params)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Summarize(r.Context())
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", s.cfg.PreviewLimit)
	orders, err := s.engine.Preview(r.Context(), limit)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.InitializeUnassigned(r.Context())
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "newly_ranked": res.NewlyRanked})
}

type resetRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.engine.Reset(r.Context(), req.Force)
	if errors.Is(err, queue.ErrResetNotForced) {
		writeFailure(w, http.StatusBadRequest, "reset discards all manual ordering; pass force=true")
		return
	}
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"cleared":       res.Cleared,
		"reinitialized": res.Reinitialized,
		"snapshot_ref":  res.SnapshotRef,
	})
}

type reorderRequest struct {
	OrderNumbers []string `json:"order_numbers"`
	Page         int      `json:"page"`
	PerPage      int      `json:"per_page"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.engine.Reorder(r.Context(), req.OrderNumbers, req.Page, req.PerPage)
	if errors.Is(err, queue.ErrEmptyReorder) {
		writeFailure(w, http.StatusBadRequest, "order_numbers is empty")
		return
	}
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	body := map[string]any{"success": true, "updated": res.Updated}
	if len(res.FailedIDs) > 0 {
		body["failed_ids"] = res.FailedIDs
		body["warning"] = fmt.Sprintf("%d order(s) not found or not open", len(res.FailedIDs))
	}
	writeJSON(w, http.StatusOK, body)
}

type createOrderRequest struct {
	OrderNumber  string     `json:"order_number"`
	CustomerName string     `json:"customer_name"`
	Description  string     `json:"description"`
	ShipTo       string     `json:"ship_to"`
	FirmRush     bool       `json:"firm_rush"`
	Rush         bool       `json:"rush"`
	DateIn       *time.Time `json:"date_in"`
	DateRequired *time.Time `json:"date_required"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OrderNumber == "" {
		writeFailure(w, http.StatusBadRequest, "order_number is required")
		return
	}
	wo, err := s.orders.CreateWorkOrder(r.Context(), store.CreateWorkOrderParams{
		OrderNumber:  req.OrderNumber,
		CustomerName: req.CustomerName,
		Description:  req.Description,
		ShipTo:       req.ShipTo,
		FirmRush:     req.FirmRush,
		Rush:         req.Rush,
		DateIn:       req.DateIn,
		DateRequired: req.DateRequired,
	})
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, wo)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	wo, err := s.orders.GetWorkOrder(r.Context(), number)
	if err != nil {
		writeFailure(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, queue.RankedOrder{WorkOrder: wo, Tier: queue.TierOf(wo).String()})
}

func (s *Server) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if err := s.orders.CompleteWorkOrder(r.Context(), number); err != nil {
		writeFailure(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order_number": number})
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeFailure(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"success": false, "message": message})
}

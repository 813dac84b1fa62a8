// Package mockserver is a stand-in for the POS server: the four endpoints the
// terminal consumes, backed by memory, with switches for taking the server
// down or failing order creation.
package mockserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/posapi"
	"go.uber.org/zap"
)

// Server is an in-memory POS server.
type Server struct {
	token  string
	logger *zap.Logger

	mu         sync.Mutex
	catalog    pos.Catalog
	products   map[uuid.UUID]pos.Product
	orders     []pos.Order
	byClientID map[string]pos.Order
	nextNumber int
	down       bool
	failStatus int
	batchCalls int
}

// New creates a server serving cat. When token is non-empty every /api call
// except health must carry it as a bearer token.
func New(cat pos.Catalog, token string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		token:      token,
		logger:     logger,
		byClientID: make(map[string]pos.Order),
		nextNumber: 1,
	}
	s.SetCatalog(cat)
	return s
}

// SetCatalog replaces the served catalog.
func (s *Server) SetCatalog(cat pos.Catalog) {
	products := make(map[uuid.UUID]pos.Product)
	for _, p := range cat.Products {
		products[p.ID] = p
	}
	for _, groups := range cat.AddOnsByProductID {
		for _, g := range groups {
			for _, o := range g.Options {
				products[o.ID] = o
			}
		}
	}
	s.mu.Lock()
	s.catalog = cat
	s.products = products
	s.mu.Unlock()
}

// SetDown makes every endpoint answer 503.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// FailOrders makes order creation answer with status; 0 restores normal
// behavior.
func (s *Server) FailOrders(status int) {
	s.mu.Lock()
	s.failStatus = status
	s.mu.Unlock()
}

// Orders returns the accepted orders in creation order.
func (s *Server) Orders() []pos.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pos.Order(nil), s.orders...)
}

// BatchCalls returns how many batch requests reached the order logic.
func (s *Server) BatchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchCalls
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Group(func(r chi.Router) {
		r.Use(s.availability)
		r.Get(posapi.PathHealth, s.health)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get(posapi.PathCatalog, s.getCatalog)
			r.Post(posapi.PathOrders, s.createOrder)
			r.Post(posapi.PathOrdersBatch, s.createBatch)
		})
	})
	r.Get("/images/{name}", s.image)
	r.Route("/_mock", func(r chi.Router) {
		r.Get("/orders", s.listOrders)
		r.Post("/down", s.toggleDown)
		r.Post("/fail-orders", s.toggleFailOrders)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) availability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		down := s.down
		s.mu.Unlock()
		if down {
			writeError(w, http.StatusServiceUnavailable, "server is down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got != s.token {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getCatalog(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	cat := s.catalog
	s.mu.Unlock()
	cat.SyncedAt = time.Now().UTC()
	writeJSON(w, http.StatusOK, cat)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var cmd pos.CreateOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStatus != 0 {
		writeError(w, s.failStatus, "order creation failing")
		return
	}
	if msg := s.validateLocked(cmd); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	writeJSON(w, http.StatusCreated, s.acceptLocked(cmd))
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var req pos.BatchCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Orders) == 0 {
		writeError(w, http.StatusBadRequest, "orders is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	if s.failStatus != 0 {
		writeError(w, s.failStatus, "order creation failing")
		return
	}
	// The batch is all or nothing.
	for _, cmd := range req.Orders {
		if msg := s.validateLocked(cmd); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}
	created := make([]pos.Order, 0, len(req.Orders))
	for _, cmd := range req.Orders {
		created = append(created, s.acceptLocked(cmd))
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) validateLocked(cmd pos.CreateOrderCommand) string {
	if len(cmd.Items) == 0 {
		return "order has no items"
	}
	for _, it := range cmd.Items {
		if _, ok := s.products[it.ProductID]; !ok {
			return "unknown product " + it.ProductID.String()
		}
		if it.Quantity <= 0 {
			return "quantity must be positive"
		}
		for _, a := range it.AddOns {
			if _, ok := s.products[a.ProductID]; !ok {
				return "unknown add-on " + a.ProductID.String()
			}
			if len(a.AddOns) > 0 {
				return "add-ons cannot have add-ons"
			}
		}
	}
	return ""
}

// acceptLocked creates the order, or returns the one already created for the
// same client order id.
func (s *Server) acceptLocked(cmd pos.CreateOrderCommand) pos.Order {
	if cmd.ClientOrderID != "" {
		if existing, ok := s.byClientID[cmd.ClientOrderID]; ok {
			s.logger.Info("duplicate client order id", zap.String("client_order_id", cmd.ClientOrderID))
			return existing
		}
	}
	status := cmd.Status
	if status == 0 {
		status = pos.OrderStatusPending
	}
	order := pos.Order{
		ID:            uuid.New(),
		OrderNumber:   s.nextNumber,
		CustomerID:    cmd.CustomerID,
		Status:        status,
		TotalAmount:   s.totalLocked(cmd),
		ClientOrderID: cmd.ClientOrderID,
		CreatedAt:     time.Now().UTC(),
	}
	s.nextNumber++
	s.orders = append(s.orders, order)
	if cmd.ClientOrderID != "" {
		s.byClientID[cmd.ClientOrderID] = order
	}
	return order
}

func (s *Server) totalLocked(cmd pos.CreateOrderCommand) decimal.Decimal {
	total := decimal.Zero
	for _, it := range cmd.Items {
		unit := s.products[it.ProductID].EffectivePrice()
		for _, a := range it.AddOns {
			unit = unit.Add(s.products[a.ProductID].EffectivePrice().Mul(decimal.NewFromInt(int64(max(a.Quantity, 1)))))
		}
		total = total.Add(unit.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

func (s *Server) listOrders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Orders())
}

func (s *Server) toggleDown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Down bool `json:"down"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.SetDown(req.Down)
	s.logger.Info("server availability toggled", zap.Bool("down", req.Down))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleFailOrders(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status int `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.FailOrders(req.Status)
	s.logger.Info("order failure toggled", zap.Int("status", req.Status))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

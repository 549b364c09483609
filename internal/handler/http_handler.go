package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"virtual-market/internal/database"
	"virtual-market/internal/domain"
	"virtual-market/internal/metrics"
	"virtual-market/internal/notify"
	"virtual-market/internal/service"
)

type HTTPHandler struct {
	orders         service.OrderService
	push           *notify.PushRegistry
	hub            *notify.Hub
	ws             http.Handler
	health         database.Service
	log            logrus.FieldLogger
	allowedOrigins map[string]bool
}

type Deps struct {
	Orders         service.OrderService
	Push           *notify.PushRegistry
	Hub            *notify.Hub
	Health         database.Service
	Metrics        *metrics.Metrics
	Log            logrus.FieldLogger
	AllowedOrigins []string
}

type ErrorResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

type CreateOrderResponse struct {
	Success     bool      `json:"success"`
	OrderID     uuid.UUID `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type SubscribeRequest struct {
	Subscription notify.Subscription `json:"subscription"`
	DeviceID     string              `json:"deviceId"`
	UserID       string              `json:"userId"`
}

func NewRouter(d Deps) *gin.Engine {
	h := &HTTPHandler{
		orders:         d.Orders,
		push:           d.Push,
		hub:            d.Hub,
		ws:             notify.NewWebSocketServer(d.Hub, d.Log, d.AllowedOrigins),
		health:         d.Health,
		log:            d.Log,
		allowedOrigins: make(map[string]bool),
	}
	for _, o := range d.AllowedOrigins {
		h.allowedOrigins[o] = true
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     d.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", h.Health)
	r.GET("/ws", gin.WrapH(h.ws))
	r.POST("/subscribe", h.Subscribe)

	api := r.Group("/api")
	api.GET("/events", h.Events)
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders", h.ListOrders)
	api.GET("/orders/stats", h.Stats)
	api.GET("/orders/track/:orderNumber", h.TrackOrder)
	api.POST("/orders/:id/status", h.UpdateStatus)
	api.POST("/orders/:id/accept", h.Accept)
	return r
}

// CreateOrder
// POST /api/orders
func (h *HTTPHandler) CreateOrder(c *gin.Context) {
	var sub domain.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body: " + err.Error()})
		return
	}
	if sub.Device != nil && sub.Device.UserAgent == "" {
		sub.Device.UserAgent = c.Request.UserAgent()
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), sub)
	if err != nil {
		h.writeError(c, err, "Error saving order")
		return
	}
	c.JSON(http.StatusOK, CreateOrderResponse{Success: true, OrderID: order.ID, OrderNumber: order.OrderNumber})
}

// ListOrders returns every order, newest first.
// GET /api/orders
func (h *HTTPHandler) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "Error fetching orders")
		return
	}
	c.JSON(http.StatusOK, orders)
}

// GET /api/orders/stats
func (h *HTTPHandler) Stats(c *gin.Context) {
	stats, err := h.orders.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "Error fetching stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// TrackOrder exposes only the customer-safe tracking fields.
// GET /api/orders/track/:orderNumber
func (h *HTTPHandler) TrackOrder(c *gin.Context) {
	tracking, err := h.orders.TrackOrder(c.Request.Context(), c.Param("orderNumber"))
	if err != nil {
		h.writeError(c, err, "Error tracking order")
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// POST /api/orders/:id/status
func (h *HTTPHandler) UpdateStatus(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body", Fields: []string{"status"}})
		return
	}
	order, err := h.orders.UpdateStatus(c.Request.Context(), id, domain.OrderStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		h.writeError(c, err, "Error updating order status")
		return
	}
	c.JSON(http.StatusOK, order)
}

// POST /api/orders/:id/accept
func (h *HTTPHandler) Accept(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	order, err := h.orders.Accept(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "Error accepting order")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

// Subscribe registers a browser push endpoint for a device, or for a user
// when no device id is sent.
// POST /subscribe
func (h *HTTPHandler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}
	key := strings.TrimSpace(req.DeviceID)
	if key == "" {
		key = strings.TrimSpace(req.UserID)
	}
	if err := h.push.Subscribe(c.Request.Context(), key, req.Subscription); err != nil {
		h.writeError(c, err, "Error saving subscription")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

// GET /health
func (h *HTTPHandler) Health(c *gin.Context) {
	stats := h.health.Health()
	code := http.StatusOK
	if stats["status"] != "up" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, stats)
}

func (h *HTTPHandler) orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		// Unparseable ids cannot name an order.
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Order not found"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps domain errors to status codes. Persistence details are
// logged, never returned.
func (h *HTTPHandler) writeError(c *gin.Context, err error, fallback string) {
	var (
		verr *domain.ValidationError
		nf   *domain.NotFoundError
		it   *domain.InvalidTransitionError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: verr.Error(), Fields: verr.Fields})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Order not found"})
	case errors.As(err, &it):
		c.JSON(http.StatusConflict, ErrorResponse{Message: it.Error()})
	default:
		h.log.WithError(err).WithField("path", c.FullPath()).Error(fallback)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: fallback})
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request")
	}
}

package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"dispatch-service/internal/apperr"
	"dispatch-service/internal/auth"
	"dispatch-service/internal/dispatch"
	"dispatch-service/internal/models"
	"dispatch-service/internal/sensor"
	"dispatch-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains the HTTP handlers of the dispatch API.
type Handler struct {
	assignment   *dispatch.AssignmentService
	confirmation *dispatch.ConfirmationService
	registry     *dispatch.Registry
	ledger       dispatch.Ledger
	samples      dispatch.SampleStore
	tokens       *auth.TokenManager

	router     dispatch.Router
	geocoder   dispatch.Geocoder
	thresholdM float64

	plannerMu sync.Mutex
	planners  map[int64]*dispatch.RoutePlanner
}

// NewHandler creates the HTTP handler set.
func NewHandler(
	assignment *dispatch.AssignmentService,
	confirmation *dispatch.ConfirmationService,
	registry *dispatch.Registry,
	ledger dispatch.Ledger,
	samples dispatch.SampleStore,
	tokens *auth.TokenManager,
	router dispatch.Router,
	geocoder dispatch.Geocoder,
	thresholdM float64,
) *Handler {
	return &Handler{
		assignment:   assignment,
		confirmation: confirmation,
		registry:     registry,
		ledger:       ledger,
		samples:      samples,
		tokens:       tokens,
		router:       router,
		geocoder:     geocoder,
		thresholdM:   thresholdM,
		planners:     make(map[int64]*dispatch.RoutePlanner),
	}
}

// SetupRoutes sets up HTTP routes.
func (h *Handler) SetupRoutes(engine *gin.Engine) {
	engine.Use(gin.Recovery())
	engine.Use(prometheusMiddleware())
	engine.Use(gin.Logger())

	engine.GET("/health", h.healthCheck)
	engine.GET("/ready", h.readinessCheck)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	v1.Use(h.tokens.Middleware())
	{
		v1.POST("/orders/:id/pickup-requests", h.requestPickup)
		v1.POST("/pickup-requests/:id/approve", h.approvePickup)
		v1.POST("/pickup-requests/:id/reject", h.rejectPickup)
		v1.POST("/pickup-requests/:id/depart", h.markDeparted)
		v1.POST("/orders/:id/confirm-delivery", h.confirmDelivery)
		v1.GET("/orders/:id/location", h.latestLocation)
		v1.GET("/orders/:id/route", h.routeForOrder)
		v1.POST("/couriers/me/attach", h.attachSession)
		v1.POST("/couriers/me/position", h.ingestPosition)
		v1.POST("/couriers/me/logout", h.logout)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) requestPickup(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	courierID, _, ok := auth.CourierFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing courier identity"})
		return
	}

	req, err := h.assignment.RequestPickup(c.Request.Context(), orderID, courierID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) approvePickup(c *gin.Context) {
	requestID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.assignment.Approve(c.Request.Context(), requestID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.PickupStatusApproved})
}

func (h *Handler) rejectPickup(c *gin.Context) {
	requestID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.assignment.Reject(c.Request.Context(), requestID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.PickupStatusRejected})
}

type departRequest struct {
	CourierName  string `json:"courier_name" binding:"required"`
	CourierPhone string `json:"courier_phone" binding:"required"`
}

func (h *Handler) markDeparted(c *gin.Context) {
	requestID, ok := pathID(c, "id")
	if !ok {
		return
	}
	courierID, sessionID, ok := auth.CourierFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing courier identity"})
		return
	}

	var body departRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	// Only the courier who owns the request may depart with it.
	req, err := h.ledger.GetPickupRequestByID(c.Request.Context(), requestID)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.CourierID != courierID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Pickup request belongs to another courier"})
		return
	}

	if err := h.assignment.MarkDeparted(c.Request.Context(), requestID, body.CourierName, body.CourierPhone, sessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.PickupStatusOutForDelivery})
}

type confirmDeliveryRequest struct {
	Code     string `json:"code" binding:"required"`
	ProofRef string `json:"proof_ref"`
}

func (h *Handler) confirmDelivery(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body confirmDeliveryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.confirmation.ConfirmDelivery(c.Request.Context(), orderID, body.Code, body.ProofRef); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.OrderStatusDelivered})
}

func (h *Handler) latestLocation(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	sample, err := h.samples.GetLatestSample(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	if sample == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No location available"})
		return
	}
	c.JSON(http.StatusOK, sample)
}

func (h *Handler) routeForOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lat/lng"})
		return
	}

	order, err := h.ledger.GetOrderByID(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	route := h.plannerFor(orderID).RouteFor(c.Request.Context(), order, models.Coordinate{Lat: lat, Lng: lng})
	c.JSON(http.StatusOK, gin.H{"waypoints": route})
}

func (h *Handler) attachSession(c *gin.Context) {
	courierID, sessionID, ok := auth.CourierFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing courier identity"})
		return
	}

	if err := h.registry.Attach(c.Request.Context(), courierID, sessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courier_id": courierID})
}

type positionRequest struct {
	Lat        float64   `json:"lat" binding:"required"`
	Lng        float64   `json:"lng" binding:"required"`
	Accuracy   float64   `json:"accuracy"`
	Heading    *float64  `json:"heading"`
	Speed      *float64  `json:"speed"`
	CapturedAt time.Time `json:"captured_at"`
}

func (h *Handler) ingestPosition(c *gin.Context) {
	courierID, sessionID, ok := auth.CourierFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing courier identity"})
		return
	}

	var body positionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if body.CapturedAt.IsZero() {
		body.CapturedAt = time.Now()
	}

	fix := sensor.Fix{
		Lat:        body.Lat,
		Lng:        body.Lng,
		Accuracy:   body.Accuracy,
		Heading:    body.Heading,
		Speed:      body.Speed,
		CapturedAt: body.CapturedAt,
	}
	if err := h.registry.Ingest(courierID, sessionID, fix); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) logout(c *gin.Context) {
	courierID, sessionID, ok := auth.CourierFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing courier identity"})
		return
	}

	if err := h.registry.Logout(courierID, sessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// plannerFor returns the order's route planner, creating it on first use.
func (h *Handler) plannerFor(orderID int64) *dispatch.RoutePlanner {
	h.plannerMu.Lock()
	defer h.plannerMu.Unlock()
	planner, ok := h.planners[orderID]
	if !ok {
		planner = dispatch.NewRoutePlanner(h.router, h.geocoder, h.ledger, h.thresholdM)
		h.planners[orderID] = planner
	}
	return planner
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// writeError maps a classified domain error onto its HTTP status.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindSessionFenced:
		status = http.StatusUnauthorized
	case apperr.KindSensorUnavailable:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics.
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

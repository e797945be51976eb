package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"storefront-session/internal/cart"
	"storefront-session/internal/dispute"
	"storefront-session/internal/models"
	"storefront-session/internal/store"
	"storefront-session/internal/upstream"
	"storefront-session/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	sessionCookieName = "session"
	guestCookieName   = "guest_cart_id"
	guestCookieMaxAge = 30 * 24 * 60 * 60
)

// Handler contains HTTP handlers
type Handler struct {
	carts    *cart.Manager
	disputes *dispute.Service
	store    *store.Store
}

// NewHandler creates a new HTTP handler. store may be nil, in which
// case the activity endpoints are not registered.
func NewHandler(carts *cart.Manager, disputes *dispute.Service, st *store.Store) *Handler {
	return &Handler{
		carts:    carts,
		disputes: disputes,
		store:    st,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/refresh", h.refreshCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PUT("/cart/items/:key", h.updateCartItemQuantity)
		v1.PATCH("/cart/items/:key", h.patchCartItem)
		v1.DELETE("/cart/items/:key", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.GET("/orders/:id/dispute", h.getDispute)
		v1.POST("/orders/:id/dispute/message", h.postDisputeMessage)
		v1.POST("/orders/:id/dispute/offer", h.submitOffer)
		v1.POST("/orders/:id/dispute/offer/accept", h.acceptOffer)
		v1.POST("/orders/:id/dispute/offer/reject", h.rejectOffer)
		v1.POST("/orders/:id/dispute/request-arbitration", h.requestArbitration)
		v1.POST("/orders/:id/dispute/capture-paypal-arbitration", h.capturePayPalArbitration)
		v1.POST("/orders/:id/dispute/cancel", h.cancelDispute)

		if h.store != nil {
			v1.GET("/activity/recent", h.recentActivity)
			v1.GET("/activity/orders/:id", h.activityByOrder)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// session resolves the caller's cart session. A "session" cookie means
// an authenticated user whose cart mirrors upstream; otherwise the
// caller gets (or keeps) a guest cart identified by its own cookie.
func (h *Handler) session(c *gin.Context) cart.Session {
	if sid, err := c.Cookie(sessionCookieName); err == nil && sid != "" {
		return cart.Session{
			Key:    "user:" + sid,
			Cookie: c.GetHeader("Cookie"),
		}
	}

	guestID, err := c.Cookie(guestCookieName)
	if err != nil || guestID == "" {
		guestID = uuid.New().String()
		c.SetCookie(guestCookieName, guestID, guestCookieMaxAge, "/", "", false, true)
	}
	return cart.Session{Key: "guest:" + guestID, Guest: true}
}

// disputeSession resolves the caller for dispute routes, which require
// an authenticated session.
func (h *Handler) disputeSession(c *gin.Context) (cookie, userID string, ok bool) {
	sid, err := c.Cookie(sessionCookieName)
	if err != nil || sid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", "", false
	}
	userID = c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user identity required"})
		return "", "", false
	}
	return c.GetHeader("Cookie"), userID, true
}

func cartResponse(snap cart.Snapshot) gin.H {
	items := snap.Lines
	if items == nil {
		items = []models.CartLine{}
	}
	return gin.H{
		"items": items,
		"count": snap.Count,
		"total": snap.Total,
	}
}

// getCart returns the session's cart snapshot
func (h *Handler) getCart(c *gin.Context) {
	engine := h.carts.Engine(c.Request.Context(), h.session(c))
	c.JSON(http.StatusOK, cartResponse(engine.State()))
}

// refreshCart re-pulls the authoritative server cart
func (h *Handler) refreshCart(c *gin.Context) {
	engine := h.carts.Engine(c.Request.Context(), h.session(c))
	if err := engine.Refresh(c.Request.Context()); err != nil {
		h.cartError(c, engine, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(engine.State()))
}

type addItemRequest struct {
	models.CartLine
	Quantity int `json:"quantity"`
}

// addCartItem adds (or merges) a line into the cart
func (h *Handler) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.ServiceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service_id is required"})
		return
	}

	engine := h.carts.Engine(c.Request.Context(), h.session(c))
	if err := engine.AddItem(c.Request.Context(), req.CartLine, req.Quantity); err != nil {
		h.cartError(c, engine, err)
		return
	}
	c.JSON(http.StatusCreated, cartResponse(engine.State()))
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

// updateCartItemQuantity sets a line's quantity
func (h *Handler) updateCartItemQuantity(c *gin.Context) {
	var req updateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	engine := h.carts.Engine(c.Request.Context(), h.session(c))
	if err := engine.UpdateQuantity(c.Request.Context(), c.Param("key"), req.Quantity); err != nil {
		h.cartError(c, engine, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(engine.State()))
}

// patchCartItem merges partial line fields, e.g. booking details
func (h *Handler) patchCartItem(c *gin.Context) {
	var patch models.CartLinePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	engine := h.carts.Engine(c.Request.Context(), h.session(c))
	if err := engine.UpdateFields(c.Request.Context(), c.Param("key"), patch); err != nil {
		h.cartError(c, engine, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(engine.State()))
}

// removeCartItem deletes a line
func (h *Handler) removeCartItem(c *gin.Context) {
	engine := h.carts.Engine(c.Request.Context(), h.session(c))
	if err := engine.RemoveItem(c.Request.Context(), c.Param("key")); err != nil {
		h.cartError(c, engine, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(engine.State()))
}

// clearCart empties the cart
func (h *Handler) clearCart(c *gin.Context) {
	engine := h.carts.Engine(c.Request.Context(), h.session(c))
	if err := engine.Clear(c.Request.Context()); err != nil {
		h.cartError(c, engine, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(engine.State()))
}

// cartError maps cart failures to HTTP responses. A mirror failure has
// already reverted local state, so the response carries the converged
// snapshot for the caller to re-render from.
func (h *Handler) cartError(c *gin.Context, engine *cart.Engine, err error) {
	var mirrorErr *cart.MirrorError
	switch {
	case errors.Is(err, cart.ErrLineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "cart line not found"})
	case errors.As(err, &mirrorErr):
		body := cartResponse(engine.State())
		body["error"] = upstreamMessage(mirrorErr.Err)
		c.JSON(http.StatusBadGateway, body)
	default:
		var apiErr *upstream.APIError
		if errors.As(err, &apiErr) {
			c.JSON(apiErr.StatusCode, gin.H{"error": apiErr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
	}
}

func upstreamMessage(err error) string {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "something went wrong, please try again"
}

// getDispute returns the order, its dispute and the viewer's projection
func (h *Handler) getDispute(c *gin.Context) {
	cookie, userID, ok := h.disputeSession(c)
	if !ok {
		return
	}

	order, proj, err := h.disputes.View(c.Request.Context(), cookie, userID, c.Param("id"))
	if err != nil {
		h.disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "projection": proj})
}

// postDisputeMessage appends a message to the dispute conversation. The
// request is multipart form data: a "message" field plus optional
// "attachments" files.
func (h *Handler) postDisputeMessage(c *gin.Context) {
	cookie, userID, ok := h.disputeSession(c)
	if !ok {
		return
	}

	text := c.PostForm("message")
	var attachments []upstream.Attachment
	if form, err := c.MultipartForm(); err == nil && form != nil {
		for _, fh := range form.File["attachments"] {
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "could not read attachment " + fh.Filename})
				return
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "could not read attachment " + fh.Filename})
				return
			}
			attachments = append(attachments, upstream.Attachment{Filename: fh.Filename, Content: content})
		}
	}

	order, proj, err := h.disputes.PostMessage(c.Request.Context(), cookie, userID, c.Param("id"), text, attachments)
	if err != nil {
		h.disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "projection": proj})
}

// A zero amount is legal when the viewer's lower bound is zero, so the
// amount carries no binding constraint; bound validation happens in the
// dispute service.
type offerRequest struct {
	Amount int64 `json:"amount"`
}

// submitOffer submits a settlement offer
func (h *Handler) submitOffer(c *gin.Context) {
	cookie, userID, ok := h.disputeSession(c)
	if !ok {
		return
	}

	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, proj, err := h.disputes.SubmitOffer(c.Request.Context(), cookie, userID, c.Param("id"), req.Amount)
	if err != nil {
		h.disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "projection": proj})
}

// acceptOffer accepts the opposing party's outstanding offer
func (h *Handler) acceptOffer(c *gin.Context) {
	cookie, userID, ok := h.disputeSession(c)
	if !ok {
		return
	}

	order, proj, err := h.disputes.AcceptOffer(c.Request.Context(), cookie, userID, c.Param("id"))
	if err != nil {
		h.disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "projection": proj})
}

// rejectOffer declines the opposing party's outstanding offer
func (h *Handler) rejectOffer(c *gin.Context) {
	cookie, userID, ok := h.disputeSession(c)
	if !ok {
		return
	}

	order, proj, err := h.disputes.RejectOffer(c.Request.Context(), cookie, userID, c.Param("id"))
	if err != nil {
		h.disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "projection": proj})
}

type arbitrationRequest struct {
	PaymentMethod   string `json:"paymentMethod" binding:"required"`
	PaymentMethodID string `json:"paymentMethodId"`
	Confirmed       bool   `json:"confirmed"`
}

// requestArbitration escalates the dispute to the arbitration team
func (h *Handler) requestArbitration(c *gin.Context) {
	cookie, userID, ok := h.disputeSession(c)
	if !ok {
		return
	}

	var req arbitrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.disputes.RequestArbitration(c.Request.Context(), cookie, userID, c.Param("id"),
		req.PaymentMethod, req.PaymentMethodID, req.Confirmed)
	if err != nil {
		h.disputeError(c, err)
		return
	}

	body := gin.H{"order": result.Order, "projection": result.Projection}
	if result.RedirectURL != "" {
		body["redirectUrl"] = result.RedirectURL
	}
	c.JSON(http.StatusOK, body)
}

type captureRequest struct {
	PayPalOrderID string `json:"paypalOrderId" binding:"required"`
}

// capturePayPalArbitration completes a deferred PayPal fee payment
func (h *Handler) capturePayPalArbitration(c *gin.Context) {
	cookie, userID, ok := h.disputeSession(c)
	if !ok {
		return
	}

	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, proj, err := h.disputes.CapturePayPalArbitration(c.Request.Context(), cookie, userID, c.Param("id"), req.PayPalOrderID)
	if err != nil {
		h.disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "projection": proj})
}

// cancelDispute withdraws the dispute
func (h *Handler) cancelDispute(c *gin.Context) {
	cookie, userID, ok := h.disputeSession(c)
	if !ok {
		return
	}

	order, proj, err := h.disputes.Cancel(c.Request.Context(), cookie, userID, c.Param("id"))
	if err != nil {
		h.disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "projection": proj})
}

// disputeError maps dispute failures to HTTP responses. Upstream errors
// pass through with the server's status and message.
func (h *Handler) disputeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispute.ErrConfirmationRequired):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "warning": true})
	case errors.Is(err, dispute.ErrEmptyMessage),
		errors.Is(err, dispute.ErrInvalidPaymentMethod),
		errors.Is(err, dispute.ErrMissingPayPalOrder):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, dispute.ErrNoDispute):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, dispute.ErrOfferNotAllowed),
		errors.Is(err, dispute.ErrOfferBelowMinimum),
		errors.Is(err, dispute.ErrOfferAboveMaximum),
		errors.Is(err, dispute.ErrNoOutstandingOffer),
		errors.Is(err, dispute.ErrArbitrationUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		var apiErr *upstream.APIError
		if errors.As(err, &apiErr) {
			c.JSON(apiErr.StatusCode, gin.H{"error": apiErr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
	}
}

// recentActivity returns the newest journal entries
func (h *Handler) recentActivity(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := h.store.RecentActivity(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load activity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": records})
}

// activityByOrder returns the journal entries for one order
func (h *Handler) activityByOrder(c *gin.Context) {
	records, err := h.store.ActivityByOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load activity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": records})
}

// prometheusMiddleware collects HTTP metrics
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

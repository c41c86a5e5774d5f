package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"booth-pos/middlewares"
	"booth-pos/models"
	"booth-pos/services"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type OrderController struct {
	svc *services.OrderService
	log logrus.FieldLogger
}

func NewOrderController(svc *services.OrderService, log logrus.FieldLogger) *OrderController {
	return &OrderController{svc: svc, log: log.WithField("component", "orders_api")}
}

// CreateOrder answers 201 for a new order and 200 when the idempotency key
// was already used.
func (oc *OrderController) CreateOrder(c *gin.Context) {
	defer middlewares.RecordOperation(c, "create")

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	order, created, err := oc.svc.CreateOrder(c.Request.Context(), &req, key)
	if err != nil {
		respondServiceError(c, oc.log, err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, order)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	defer middlewares.RecordOperation(c, "details")

	order, err := oc.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, oc.log, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (oc *OrderController) GetQueue(c *gin.Context) {
	oc.respondList(c, "queue", oc.svc.GetQueue)
}

func (oc *OrderController) GetPending(c *gin.Context) {
	oc.respondList(c, "list_pending", oc.svc.GetPendingPayment)
}

func (oc *OrderController) GetCompleted(c *gin.Context) {
	oc.respondList(c, "list_completed", oc.svc.GetCompleted)
}

func (oc *OrderController) ListAll(c *gin.Context) {
	oc.respondList(c, "list_all", oc.svc.ListAll)
}

func (oc *OrderController) GetMenu(c *gin.Context) {
	defer middlewares.RecordOperation(c, "menu")

	availableOnly := false
	if raw := c.Query("available"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, CodeInvalidRequest, "available must be a boolean")
			return
		}
		availableOnly = v
	}
	items, err := oc.svc.ListMenu(c.Request.Context(), availableOnly)
	if err != nil {
		respondServiceError(c, oc.log, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

type verifyRequest struct {
	PaymentMethod *models.PaymentMethod `json:"payment_method"`
}

func (oc *OrderController) VerifyPayment(c *gin.Context) {
	defer middlewares.RecordOperation(c, "verify")

	var req verifyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
			return
		}
	}
	order, err := oc.svc.VerifyPayment(c.Request.Context(), c.Param("id"), req.PaymentMethod)
	oc.respondOrder(c, order, err)
}

func (oc *OrderController) MarkReady(c *gin.Context) {
	defer middlewares.RecordOperation(c, "ready")
	order, err := oc.svc.MarkReady(c.Request.Context(), c.Param("id"))
	oc.respondOrder(c, order, err)
}

func (oc *OrderController) CompleteOrder(c *gin.Context) {
	defer middlewares.RecordOperation(c, "complete")
	order, err := oc.svc.CompleteOrder(c.Request.Context(), c.Param("id"))
	oc.respondOrder(c, order, err)
}

func (oc *OrderController) CancelOrder(c *gin.Context) {
	defer middlewares.RecordOperation(c, "cancel")
	order, err := oc.svc.CancelOrder(c.Request.Context(), c.Param("id"))
	oc.respondOrder(c, order, err)
}

func (oc *OrderController) Stats(c *gin.Context) {
	defer middlewares.RecordOperation(c, "stats")

	dateKey := 0
	if raw := c.Query("date_key"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, CodeInvalidRequest, "date_key must be a number")
			return
		}
		dateKey = v
	}
	summary, err := oc.svc.Stats(c.Request.Context(), dateKey)
	if err != nil {
		respondServiceError(c, oc.log, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Health pings the store; the kiosk's connectivity probe depends on it.
func (oc *OrderController) Health(c *gin.Context) {
	if err := oc.svc.Ping(c.Request.Context()); err != nil {
		oc.log.WithError(err).Warn("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (oc *OrderController) respondOrder(c *gin.Context, order *models.Order, err error) {
	if err != nil {
		respondServiceError(c, oc.log, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (oc *OrderController) respondList(c *gin.Context, operation string, fetch func(context.Context) ([]models.Order, error)) {
	defer middlewares.RecordOperation(c, operation)

	orders, err := fetch(c.Request.Context())
	if err != nil {
		respondServiceError(c, oc.log, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

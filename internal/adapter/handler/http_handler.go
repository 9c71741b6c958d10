package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/service"
)

type HTTPHandler struct {
	svc *service.InventoryService
	log logrus.FieldLogger
}

func NewHTTPHandler(svc *service.InventoryService, log logrus.FieldLogger) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: log}
}

// NewRouter builds the gin engine. events, when set, serves the websocket
// event stream at /ws/events.
func NewRouter(h *HTTPHandler, events http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/health", h.HealthCheck)
	api := r.Group("/api")
	{
		api.POST("/actors", h.SpawnActor)
		api.GET("/actors/:id/inventory", h.Inventory)
		api.POST("/containers", h.CreateContainer)
		api.GET("/containers/:id", h.Look)
		api.POST("/transactions", h.Execute)
	}
	if events != nil {
		r.GET("/ws/events", gin.WrapH(events))
	}
	return r
}

func (h *HTTPHandler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start),
		}).Debug("http request")
	}
}

func (h *HTTPHandler) Execute(c *gin.Context) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, TransactionResponse{Message: "invalid request body"})
		return
	}
	tx, err := req.Transaction()
	if err != nil {
		c.JSON(http.StatusBadRequest, TransactionResponse{Message: err.Error()})
		return
	}

	res, err := h.svc.Submit(c.Request.Context(), tx)
	if err != nil {
		c.JSON(statusFor(err), errorResponse(res.TxID, err))
		return
	}
	c.JSON(http.StatusOK, resultResponse(res))
}

func (h *HTTPHandler) SpawnActor(c *gin.Context) {
	var req SpawnActorRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Template == "" {
		c.JSON(http.StatusBadRequest, TransactionResponse{Message: "template is required"})
		return
	}
	a, err := h.svc.SpawnActor(c.Request.Context(), req.Template, req.Capacity)
	if err != nil {
		c.JSON(statusFor(err), errorResponse("", err))
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *HTTPHandler) CreateContainer(c *gin.Context) {
	var req CreateContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, TransactionResponse{Message: "invalid request body"})
		return
	}
	ctr, err := h.svc.CreateContainer(c.Request.Context(), req.Owner, req.Capacity)
	if err != nil {
		c.JSON(statusFor(err), errorResponse("", err))
		return
	}
	c.JSON(http.StatusCreated, ctr)
}

func (h *HTTPHandler) Inventory(c *gin.Context) {
	view, err := h.svc.Inventory(c.Request.Context(), domain.ID(c.Param("id")))
	if err != nil {
		c.JSON(statusFor(err), errorResponse("", err))
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) Look(c *gin.Context) {
	view, err := h.svc.Look(c.Request.Context(), domain.ID(c.Param("id")))
	if err != nil {
		c.JSON(statusFor(err), errorResponse("", err))
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func statusFor(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	return domain.KindOf(err).HTTPStatus()
}

package handlers

import (
	"wallbox_control/internal/logger"
	"wallbox_control/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires the HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
	secret   string
}

// NewHandler constructs a new HTTP handler with dependencies. An empty
// secret disables authentication on the API group.
func NewHandler(services *service.Service, log *logger.Logger, secret string) *Handler {
	return &Handler{services: services, log: log, secret: secret}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)

	// Inbound automation events. Not behind the API middleware: the
	// event router authenticates these itself so that CLI callers and
	// HTTP callers share one auth path.
	h.registerWebhookRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// Minimal WebSocket connection (HTTP upgrade) — same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerWebhookRoutes(r *gin.Engine) {
	webhook := r.Group("/webhook")
	{
		webhook.POST("/grafana", h.grafanaWebhook)
		webhook.POST("/command", h.commandWebhook)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.sharedSecretMiddleware)
	{
		h.registerWallboxRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerWallboxRoutes(api *gin.RouterGroup) {
	wallbox := api.Group("/wallbox")
	{
		wallbox.POST("/start", h.startCharging)
		wallbox.POST("/stop", h.stopCharging)
		// Body example: {"mode":"solar"}
		wallbox.POST("/mode", h.setMode)
		wallbox.GET("/mode", h.getMode)
		wallbox.GET("/status", h.getStatus)
		wallbox.GET("/snapshot", h.getSnapshot)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}

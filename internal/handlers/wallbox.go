package handlers

import (
	"net/http"

	"wallbox_control/internal/models"

	"github.com/gin-gonic/gin"
)

const errInvalidBodyPref = "invalid body: "

// Request DTO for setting the charge mode.
type modeRequest struct {
	Mode string `json:"mode" binding:"required"` // eco | full | solar
}

// SetModeRequest is an exported model for Swagger docs of the setMode payload.
type SetModeRequest struct {
	// Mode to set. Allowed: eco, full, solar
	Mode string `json:"mode" example:"solar"`
}

// statusForOutcome maps the outcome's error kind onto an HTTP status.
// The outcome body is returned unchanged either way; the status code is
// a convenience for dumb HTTP clients.
func statusForOutcome(out models.ActionOutcome) int {
	switch out.Error {
	case "":
		return http.StatusOK
	case models.ErrInvalidParameter:
		return http.StatusBadRequest
	case models.ErrUnauthorized:
		return http.StatusUnauthorized
	case models.ErrBusy:
		return http.StatusConflict
	case models.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		// device_unreachable, device_state_unrecognized, action_failed:
		// the upstream device is the problem.
		return http.StatusBadGateway
	}
}

// execute runs the action and writes the outcome, logging failures.
func (h *Handler) execute(c *gin.Context, a models.Action) {
	out := h.services.Control.Execute(c.Request.Context(), a)
	if out.Error != "" && h.log != nil {
		h.log.Errorw("wallbox_action_failed", "action", a.Kind, "err", out.Error, "detail", out.Detail)
	}
	c.JSON(statusForOutcome(out), out)
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// @Summary      Start charging
// @Description  No-op if the wallbox is already charging.
// @Tags         wallbox
// @Produce      json
// @Success      200  {object}  models.ActionOutcome
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  models.ActionOutcome
// @Failure      502  {object}  models.ActionOutcome
// @Failure      504  {object}  models.ActionOutcome
// @Router       /api/v1/wallbox/start [post]
// @Security     BearerAuth
func (h *Handler) startCharging(c *gin.Context) {
	h.execute(c, models.Action{Kind: models.ActionStart})
}

// @Summary      Stop charging
// @Description  Refused while the wallbox reports Finishing.
// @Tags         wallbox
// @Produce      json
// @Success      200  {object}  models.ActionOutcome
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  models.ActionOutcome
// @Failure      502  {object}  models.ActionOutcome
// @Failure      504  {object}  models.ActionOutcome
// @Router       /api/v1/wallbox/stop [post]
// @Security     BearerAuth
func (h *Handler) stopCharging(c *gin.Context) {
	h.execute(c, models.Action{Kind: models.ActionStop})
}

// @Summary      Set charge mode
// @Tags         wallbox
// @Accept       json
// @Produce      json
// @Param        body  body   SetModeRequest  true  "Mode payload"
// @Success      200   {object}  models.ActionOutcome
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      502   {object}  models.ActionOutcome
// @Router       /api/v1/wallbox/mode [post]
// @Security     BearerAuth
func (h *Handler) setMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	mode, ok := models.ParseChargeMode(req.Mode)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be one of eco, full, solar"})
		return
	}
	h.execute(c, models.Action{Kind: models.ActionSetMode, Mode: mode})
}

// @Summary      Read charge mode
// @Description  Performs a fresh read of the control panel.
// @Tags         wallbox
// @Produce      json
// @Success      200  {object}  models.ActionOutcome
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  models.ActionOutcome
// @Router       /api/v1/wallbox/mode [get]
// @Security     BearerAuth
func (h *Handler) getMode(c *gin.Context) {
	h.execute(c, models.Action{Kind: models.ActionGetMode})
}

// @Summary      Read charging status
// @Description  Performs a fresh read of the control panel.
// @Tags         wallbox
// @Produce      json
// @Success      200  {object}  models.ActionOutcome
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  models.ActionOutcome
// @Router       /api/v1/wallbox/status [get]
// @Security     BearerAuth
func (h *Handler) getStatus(c *gin.Context) {
	h.execute(c, models.Action{Kind: models.ActionGetStatus})
}

// @Summary      Last observed state
// @Description  Returns the persisted snapshot without touching the device.
// @Tags         wallbox
// @Produce      json
// @Success      200  {object}  models.Snapshot
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/wallbox/snapshot [get]
// @Security     BearerAuth
func (h *Handler) getSnapshot(c *gin.Context) {
	snap, err := h.services.Monitoring.Snapshot(c.Request.Context())
	if err != nil {
		if h.log != nil {
			h.log.Errorw("snapshot_load_failed", "err", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshot"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

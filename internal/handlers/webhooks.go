package handlers

import (
	"errors"
	"net/http"

	"wallbox_control/internal/models"
	"wallbox_control/internal/service"

	"github.com/gin-gonic/gin"
)

// grafanaAlert is the subset of Grafana's webhook payload the router
// cares about. EvalMatches carries the metric values that triggered
// the alert, so threshold rules can see them.
type grafanaAlert struct {
	RuleName    string `json:"ruleName" binding:"required"`
	State       string `json:"state" binding:"required"`
	EvalMatches []struct {
		Metric string  `json:"metric"`
		Value  float64 `json:"value"`
	} `json:"evalMatches"`
}

// commandRequest is a direct command event, for simple automations that
// are not alert-shaped (Node-RED flows, shell scripts).
type commandRequest struct {
	Command string             `json:"command" binding:"required"` // start | stop | set_mode | ...
	Mode    string             `json:"mode,omitempty"`
	Fields  map[string]float64 `json:"fields,omitempty"`
}

// @Summary      Grafana alert webhook
// @Description  Maps an alert (ruleName, state) onto a wallbox action via the rule table.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Success      200  {object}  models.ActionOutcome
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /webhook/grafana [post]
func (h *Handler) grafanaWebhook(c *gin.Context) {
	var alert grafanaAlert
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	env := service.Envelope{
		Name:  alert.RuleName,
		State: alert.State,
		Token: bearerToken(c),
	}
	if len(alert.EvalMatches) > 0 {
		env.Fields = make(map[string]float64, len(alert.EvalMatches))
		for _, m := range alert.EvalMatches {
			env.Fields[m.Metric] = m.Value
		}
	}

	h.routeAndExecute(c, env)
}

// @Summary      Direct command webhook
// @Description  Maps a command (start, stop, set_mode, get_status, get_mode) onto a wallbox action.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Success      200  {object}  models.ActionOutcome
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /webhook/command [post]
func (h *Handler) commandWebhook(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	h.routeAndExecute(c, service.Envelope{
		Name:   req.Command,
		Mode:   req.Mode,
		Fields: req.Fields,
		Token:  bearerToken(c),
	})
}

// routeAndExecute runs an envelope through the rule table and, on a
// match, dispatches the resulting action.
func (h *Handler) routeAndExecute(c *gin.Context, env service.Envelope) {
	action, err := h.services.EventRouter.Route(env)
	if err != nil {
		h.writeRouteError(c, env, err)
		return
	}
	h.execute(c, action)
}

func (h *Handler) writeRouteError(c *gin.Context, env service.Envelope, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": string(models.ErrUnauthorized),
		})
	case errors.Is(err, service.ErrInvalidParameter):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  string(models.ErrInvalidParameter),
			"detail": err.Error(),
		})
	case errors.Is(err, service.ErrUnrecognizedEvent):
		if h.log != nil {
			h.log.Infow("event_unrecognized", "name", env.Name, "state", env.State)
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  string(models.ErrUnrecognizedEvent),
			"detail": err.Error(),
		})
	default:
		if h.log != nil {
			h.log.Errorw("event_route_failed", "name", env.Name, "err", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to route event"})
	}
}

package service

import (
	"context"
	"time"

	"wallbox_control/internal/config"
	"wallbox_control/internal/logger"
	"wallbox_control/internal/models"
	"wallbox_control/internal/panel"
	"wallbox_control/internal/repository"
)

// Control executes one wallbox action with safety checks and reports a
// structured outcome. Outcomes carry failures; Execute never returns an
// error value.
type Control interface {
	Execute(ctx context.Context, a models.Action) models.ActionOutcome
}

// EventRouter maps an inbound automation event onto one Action. It
// never touches the device; all safety logic stays in Control.
type EventRouter interface {
	Route(env Envelope) (models.Action, error)
}

// Monitoring exposes the last observed panel state for reporting.
type Monitoring interface {
	Snapshot(ctx context.Context) (models.Snapshot, error)
}

// EventLog exposes the append-only audit log with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.WallboxEvent, error)
}

// LogFilter supports history filtering by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "START", "STOP", "MODE_CHANGE", "SKIP", "ERROR"
}

//
// Root Service aggregates all sub-services.
//

type Service struct {
	Control
	EventRouter
	Monitoring
	EventLog
}

// NewService wires the device facade, persistence, and configuration
// into concrete services.
func NewService(device panel.Device, repos *repository.Repository, cfg *config.Config, log *logger.Logger) *Service {
	return &Service{
		Control: NewControlService(device, repos.Snapshots, repos.Events, log, ControlOptions{
			ActionTimeout:  cfg.Wallbox.ActionTimeout,
			PollInterval:   cfg.Wallbox.PollInterval,
			RejectWhenBusy: cfg.Gate.Policy == config.GateReject,
			SerializeReads: cfg.Gate.SerializeReads,
		}),
		EventRouter: NewRouterService(cfg.Rules, cfg.Auth.Secret),
		Monitoring:  NewMonitoringService(repos.Snapshots),
		EventLog:    NewEventLogService(repos.Events),
	}
}

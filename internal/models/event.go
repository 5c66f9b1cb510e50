package models

import "time"

// WallboxEvent is a single audit log entry.
type WallboxEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // START | STOP | MODE_CHANGE | SKIP | ERROR
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}

// Event type values stored in the audit log.
const (
	EventStart      = "START"
	EventStop       = "STOP"
	EventModeChange = "MODE_CHANGE"
	EventSkip       = "SKIP"
	EventError      = "ERROR"
)

// Snapshot is the last observed panel state. It exists for reporting
// (websocket feed, responses) only; decisions always re-read the device.
type Snapshot struct {
	ID         int         `json:"id"`
	Status     DeviceState `json:"status"`
	Mode       ChargeMode  `json:"mode,omitempty"`
	LastAction ActionKind  `json:"last_action,omitempty"`
	Mutated    bool        `json:"mutated"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

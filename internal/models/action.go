package models

// ActionKind identifies a requested operation on the wallbox.
type ActionKind string

const (
	ActionStart     ActionKind = "start"
	ActionStop      ActionKind = "stop"
	ActionSetMode   ActionKind = "set_mode"
	ActionGetStatus ActionKind = "get_status"
	ActionGetMode   ActionKind = "get_mode"
)

// Action is one requested operation, built once per invocation from
// caller input and immutable afterwards. Mode is only meaningful for
// ActionSetMode.
type Action struct {
	Kind ActionKind `json:"kind"`
	Mode ChargeMode `json:"mode,omitempty"`
}

// SkipReason explains why an Execute call deliberately performed no
// device interaction. Skips are not failures.
type SkipReason string

const (
	SkipAlreadyActive        SkipReason = "already_active"
	SkipAlreadyInactive      SkipReason = "already_inactive"
	SkipAlreadyInDesiredMode SkipReason = "already_in_desired_mode"
	SkipFinishingProtected   SkipReason = "finishing_protected"
)

// ErrorKind classifies Execute and Route failures for callers.
type ErrorKind string

const (
	ErrDeviceUnreachable ErrorKind = "device_unreachable"
	ErrStateUnrecognized ErrorKind = "device_state_unrecognized"
	ErrTimeout           ErrorKind = "timeout"
	ErrActionFailed      ErrorKind = "action_failed"
	ErrUnauthorized      ErrorKind = "unauthorized"
	ErrUnrecognizedEvent ErrorKind = "unrecognized_event"
	ErrInvalidParameter  ErrorKind = "invalid_parameter"
	ErrBusy              ErrorKind = "busy"
)

// Observation is a point-in-time reading of the panel. RawStatus and
// RawMode carry the verbatim panel text when it did not map onto the
// closed enums.
type Observation struct {
	Status    DeviceState `json:"status,omitempty"`
	Mode      ChargeMode  `json:"mode,omitempty"`
	RawStatus string      `json:"raw_status,omitempty"`
	RawMode   string      `json:"raw_mode,omitempty"`
}

// ActionOutcome is the structured result of executing one Action.
// Produced once per Action and never mutated after return.
type ActionOutcome struct {
	Action         ActionKind  `json:"action"`
	Mode           ChargeMode  `json:"mode,omitempty"`
	Succeeded      bool        `json:"succeeded"`
	Mutated        bool        `json:"mutated"`
	ObservedBefore Observation `json:"observed_before"`
	ObservedAfter  Observation `json:"observed_after"`
	SkippedReason  SkipReason  `json:"skipped_reason,omitempty"`
	Error          ErrorKind   `json:"error,omitempty"`
	Detail         string      `json:"detail,omitempty"`
}

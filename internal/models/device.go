package models

import "strings"

// DeviceState is the charging status shown by the wallbox panel.
type DeviceState string

const (
	StateReady     DeviceState = "Ready"
	StateCharging  DeviceState = "Charging"
	StateFinishing DeviceState = "Finishing"
	StateUnknown   DeviceState = "Unknown"
)

// ChargeMode is the charging strategy selected on the panel.
type ChargeMode string

const (
	ModeEco   ChargeMode = "Eco"
	ModeFull  ChargeMode = "Full"
	ModeSolar ChargeMode = "Solar"
)

// Control is one clickable control on the panel.
type Control string

const (
	ControlStart    Control = "start"
	ControlStop     Control = "stop"
	ControlSetEco   Control = "set_eco"
	ControlSetFull  Control = "set_full"
	ControlSetSolar Control = "set_solar"
)

// ParseDeviceState maps panel text onto the closed state enum.
// The second return reports whether the text was recognized; unrecognized
// text maps to StateUnknown and must be surfaced verbatim by the caller,
// never guessed at.
func ParseDeviceState(raw string) (DeviceState, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ready":
		return StateReady, true
	case "charging":
		return StateCharging, true
	case "finishing":
		return StateFinishing, true
	}
	return StateUnknown, false
}

// ParseChargeMode maps panel or caller text onto the closed mode enum.
func ParseChargeMode(raw string) (ChargeMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "eco":
		return ModeEco, true
	case "full":
		return ModeFull, true
	case "solar":
		return ModeSolar, true
	}
	return "", false
}

// ControlForMode returns the panel control that selects the given mode.
func ControlForMode(m ChargeMode) Control {
	switch m {
	case ModeFull:
		return ControlSetFull
	case ModeSolar:
		return ControlSetSolar
	default:
		return ControlSetEco
	}
}

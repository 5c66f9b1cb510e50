package service

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"wallbox_control/internal/config"
	"wallbox_control/internal/models"
)

// Routing failures, surfaced to transport handlers as typed errors.
var (
	ErrUnauthorized      = errors.New("event rejected: bad or missing shared secret")
	ErrUnrecognizedEvent = errors.New("no rule matches the event")
	ErrInvalidParameter  = errors.New("invalid parameter")
)

// Envelope is the normalized form of an inbound automation event.
// Alert-style events carry Name+State; command-style events carry Name
// (the command), an optional Mode parameter, and optional numeric
// Fields. Token is the shared secret presented by the caller.
type Envelope struct {
	Name   string
	State  string
	Mode   string
	Fields map[string]float64
	Token  string
}

// RouterService matches envelopes against the immutable rule table
// loaded at startup. Routing is a pure function of (rules, envelope).
type RouterService struct {
	rules  []config.Rule
	secret string
}

func NewRouterService(rules []config.Rule, secret string) *RouterService {
	return &RouterService{rules: rules, secret: secret}
}

// Route maps an envelope onto one Action. Exact (name, state) rules win
// over a rule's catch-all (state-less) form; within a pass, table order
// decides. Numeric conditions must hold for a rule to match at all.
func (r *RouterService) Route(env Envelope) (models.Action, error) {
	if r.secret != "" {
		if subtle.ConstantTimeCompare([]byte(env.Token), []byte(r.secret)) != 1 {
			return models.Action{}, ErrUnauthorized
		}
	}

	for _, rule := range r.rules {
		if rule.State == "" || rule.Name != env.Name || rule.State != env.State {
			continue
		}
		if !conditionHolds(rule, env) {
			continue
		}
		return buildAction(rule, env)
	}
	for _, rule := range r.rules {
		if rule.State != "" || rule.Name != env.Name {
			continue
		}
		if !conditionHolds(rule, env) {
			continue
		}
		return buildAction(rule, env)
	}

	return models.Action{}, fmt.Errorf("%w: %q (state %q)", ErrUnrecognizedEvent, env.Name, env.State)
}

// conditionHolds evaluates a rule's numeric threshold, if any, against
// the envelope's fields. No unit conversion or smoothing happens here;
// that belongs upstream.
func conditionHolds(rule config.Rule, env Envelope) bool {
	if rule.Field == "" {
		return true
	}
	v, ok := env.Fields[rule.Field]
	if !ok {
		return false
	}
	switch rule.Op {
	case ">":
		return v > rule.Threshold
	case ">=":
		return v >= rule.Threshold
	case "<":
		return v < rule.Threshold
	case "<=":
		return v <= rule.Threshold
	case "==":
		return v == rule.Threshold
	default:
		return false
	}
}

// buildAction turns a matched rule into a concrete Action. A forwarded
// mode parameter is validated against the closed enum, never guessed.
func buildAction(rule config.Rule, env Envelope) (models.Action, error) {
	switch rule.Action {
	case "start":
		return models.Action{Kind: models.ActionStart}, nil
	case "stop":
		return models.Action{Kind: models.ActionStop}, nil
	case "get_status":
		return models.Action{Kind: models.ActionGetStatus}, nil
	case "get_mode":
		return models.Action{Kind: models.ActionGetMode}, nil
	case "set_mode":
		src := rule.Mode
		if rule.ForwardMode {
			src = env.Mode
		}
		mode, ok := models.ParseChargeMode(src)
		if !ok {
			return models.Action{}, fmt.Errorf("%w: mode %q is not one of eco, full, solar", ErrInvalidParameter, src)
		}
		return models.Action{Kind: models.ActionSetMode, Mode: mode}, nil
	default:
		// Unreachable with a validated rule table.
		return models.Action{}, fmt.Errorf("%w: rule action %q", ErrInvalidParameter, rule.Action)
	}
}

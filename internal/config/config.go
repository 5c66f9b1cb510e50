// Package config loads the process configuration from configs/config.yml
// via viper. Malformed configuration is fatal at startup; nothing here is
// re-read during steady-state operation.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"wallbox_control/internal/models"
)

// Gate policies for callers arriving while a device interaction is in
// flight.
const (
	GateBlock  = "block"
	GateReject = "reject"
)

// Rule maps an inbound automation event onto one wallbox action.
// State is the alert firing-state to match; an empty State matches any
// state and is also how command-style events (which have no state) are
// matched. A Rule with Field set only matches when the envelope carries
// that numeric field and the comparison against Threshold holds.
type Rule struct {
	Name        string  `mapstructure:"name"`
	State       string  `mapstructure:"state"`
	Action      string  `mapstructure:"action"` // start | stop | set_mode | get_status | get_mode
	Mode        string  `mapstructure:"mode"`   // template mode for set_mode
	ForwardMode bool    `mapstructure:"forward_mode"`
	Field       string  `mapstructure:"field"`
	Op          string  `mapstructure:"op"` // > | >= | < | <= | ==
	Threshold   float64 `mapstructure:"threshold"`
}

// Config is the full process configuration.
type Config struct {
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	Wallbox struct {
		URL           string        `mapstructure:"url"`
		PageLoadWait  time.Duration `mapstructure:"page_load_wait"`
		ActionTimeout time.Duration `mapstructure:"action_timeout"`
		PollInterval  time.Duration `mapstructure:"poll_interval"`
		Headless      bool          `mapstructure:"headless"`
	} `mapstructure:"wallbox"`

	Auth struct {
		// Secret is the shared bearer secret; empty disables authentication.
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`

	Gate struct {
		Policy         string `mapstructure:"policy"` // block | reject
		SerializeReads bool   `mapstructure:"serialize_reads"`
	} `mapstructure:"gate"`

	Rules []Rule `mapstructure:"rules"`
}

// Load reads configs/config.yml (or the file at path when non-empty),
// applies defaults, and validates the rule table.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine; defaults cover a stock setup.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("db.path", "wallbox.db")
	v.SetDefault("wallbox.url", "http://enpal.fritz.box/wallbox")
	v.SetDefault("wallbox.page_load_wait", "5s")
	v.SetDefault("wallbox.action_timeout", "20s")
	v.SetDefault("wallbox.poll_interval", "3s")
	v.SetDefault("wallbox.headless", true)
	v.SetDefault("gate.policy", GateBlock)
	v.SetDefault("gate.serialize_reads", true)
}

// DefaultRules mirrors the stock automation behavior: Grafana solar
// alerts toggle solar/eco mode, command events map one-to-one, and
// solar production above 3kW auto-switches to solar.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "HighSolarProduction", State: "alerting", Action: "set_mode", Mode: "solar"},
		{Name: "HighSolarProduction", State: "ok", Action: "set_mode", Mode: "eco"},
		{Name: "start", Action: "start"},
		{Name: "stop", Action: "stop"},
		{Name: "set_mode", Action: "set_mode", ForwardMode: true},
		{Name: "solar_production", Action: "set_mode", Mode: "solar", Field: "production", Op: ">", Threshold: 3000},
	}
}

func (c *Config) validate() error {
	switch c.Gate.Policy {
	case GateBlock, GateReject:
	default:
		return fmt.Errorf("gate.policy %q: must be %q or %q", c.Gate.Policy, GateBlock, GateReject)
	}
	if c.Wallbox.ActionTimeout <= 0 {
		return fmt.Errorf("wallbox.action_timeout must be positive")
	}
	if c.Wallbox.PollInterval <= 0 {
		return fmt.Errorf("wallbox.poll_interval must be positive")
	}
	for i, r := range c.Rules {
		if err := validateRule(r); err != nil {
			return fmt.Errorf("rules[%d] (%s): %w", i, r.Name, err)
		}
	}
	return nil
}

func validateRule(r Rule) error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch r.Action {
	case "start", "stop", "get_status", "get_mode":
	case "set_mode":
		if !r.ForwardMode {
			if _, ok := models.ParseChargeMode(r.Mode); !ok {
				return fmt.Errorf("mode %q is not one of eco, full, solar", r.Mode)
			}
		}
	default:
		return fmt.Errorf("action %q is not supported", r.Action)
	}
	if r.Field != "" {
		switch r.Op {
		case ">", ">=", "<", "<=", "==":
		default:
			return fmt.Errorf("op %q: must be one of >, >=, <, <=, ==", r.Op)
		}
	}
	return nil
}

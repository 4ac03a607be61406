package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/ibacktest/internal/engine/commission"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
)

// FillPolicy controls when a market order submitted during tick T may fill.
type FillPolicy string

const (
	// FillPolicySameBarOpen fills orders submitted during tick T against
	// tick T's own bar. Introduces look-ahead bias; intended for testing.
	FillPolicySameBarOpen FillPolicy = "same_bar_open"
	// FillPolicyNextBarOpen defers orders submitted during tick T to tick
	// T+1's bar. Conservative default.
	FillPolicyNextBarOpen FillPolicy = "next_bar_open"
)

var AllFillPolicies = []any{
	FillPolicySameBarOpen,
	FillPolicyNextBarOpen,
}

// CommissionConfig selects a commission model and its tunables.
type CommissionConfig struct {
	Model  commission.ModelName `yaml:"model" json:"model" jsonschema:"title=Commission Model,description=Commission model applied per fill"`
	Params commission.Params    `yaml:"params" json:"params" jsonschema:"title=Model Parameters"`
}

// RunConfig is the full configuration for one backtest run.
type RunConfig struct {
	InitialCash float64          `yaml:"initial_cash" json:"initial_cash" jsonschema:"title=Initial Cash,description=Starting cash for the backtest in USD,minimum=0"`
	Commission  CommissionConfig `yaml:"commission" json:"commission"`
	FillPolicy  FillPolicy       `yaml:"fill_policy" json:"fill_policy" jsonschema:"title=Fill Policy,description=When market orders submitted during a tick may fill"`
	// MarginEnabled allows cash to go negative. Disabled by default: a fill
	// that would drive cash below zero is rejected.
	MarginEnabled bool `yaml:"margin_enabled" json:"margin_enabled" jsonschema:"title=Margin Enabled"`
	// LiquidityCapRatio caps the quantity fillable on one bar to this
	// fraction of the bar's volume. None disables the cap (all-or-nothing).
	LiquidityCapRatio optional.Option[float64] `yaml:"liquidity_cap_ratio" json:"liquidity_cap_ratio" jsonschema:"title=Liquidity Cap Ratio"`
	// LookbackWindow is the number of prior bars per symbol handed to the
	// strategy each tick.
	LookbackWindow int `yaml:"lookback_window" json:"lookback_window" jsonschema:"title=Lookback Window,minimum=0"`
	// Strict aborts the run on the first strategy error instead of skipping
	// the failing tick.
	Strict bool `yaml:"strict" json:"strict" jsonschema:"title=Strict Mode"`
	// BrokerAckTimeout bounds how long a live order may stay unacknowledged
	// before its reconciliation entry is marked unresolved.
	BrokerAckTimeout time.Duration              `yaml:"broker_ack_timeout" json:"broker_ack_timeout" jsonschema:"title=Broker Ack Timeout"`
	StartTime        optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start time for the backtest period"`
	EndTime          optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end time for the backtest period"`
}

// UnmarshalYAML implements custom unmarshaling for RunConfig.
func (c *RunConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type Config struct {
		InitialCash       float64          `yaml:"initial_cash"`
		Commission        CommissionConfig `yaml:"commission"`
		FillPolicy        FillPolicy       `yaml:"fill_policy"`
		MarginEnabled     bool             `yaml:"margin_enabled"`
		LiquidityCapRatio *float64         `yaml:"liquidity_cap_ratio"`
		LookbackWindow    int              `yaml:"lookback_window"`
		Strict            bool             `yaml:"strict"`
		BrokerAckTimeout  time.Duration    `yaml:"broker_ack_timeout"`
		StartTime         *time.Time       `yaml:"start_time"`
		EndTime           *time.Time       `yaml:"end_time"`
	}

	defaults := DefaultConfig()
	config := Config{
		InitialCash:      defaults.InitialCash,
		Commission:       defaults.Commission,
		FillPolicy:       defaults.FillPolicy,
		MarginEnabled:    defaults.MarginEnabled,
		LookbackWindow:   defaults.LookbackWindow,
		Strict:           defaults.Strict,
		BrokerAckTimeout: defaults.BrokerAckTimeout,
	}

	if err := unmarshal(&config); err != nil {
		return err
	}

	c.InitialCash = config.InitialCash
	c.Commission = config.Commission
	c.FillPolicy = config.FillPolicy
	c.MarginEnabled = config.MarginEnabled
	c.LookbackWindow = config.LookbackWindow
	c.Strict = config.Strict
	c.BrokerAckTimeout = config.BrokerAckTimeout

	if config.LiquidityCapRatio != nil {
		c.LiquidityCapRatio = optional.Some(*config.LiquidityCapRatio)
	}

	if config.StartTime != nil {
		c.StartTime = optional.Some(*config.StartTime)
	}

	if config.EndTime != nil {
		c.EndTime = optional.Some(*config.EndTime)
	}

	return nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *RunConfig) Validate() error {
	if c.InitialCash < 0 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "initial cash must be non-negative: %f", c.InitialCash)
	}

	switch c.FillPolicy {
	case FillPolicySameBarOpen, FillPolicyNextBarOpen:
	default:
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown fill policy: %s", c.FillPolicy)
	}

	if c.LiquidityCapRatio.IsSome() {
		ratio := c.LiquidityCapRatio.Unwrap()
		if ratio <= 0 || ratio > 1 {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "liquidity cap ratio must be in (0, 1]: %f", ratio)
		}
	}

	if c.LookbackWindow < 0 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "lookback window must be non-negative: %d", c.LookbackWindow)
	}

	return nil
}

// GenerateSchema generates a JSON schema for the RunConfig.
func (c *RunConfig) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}

			if t.String() == "optional.Option[float64]" {
				return &jsonschema.Schema{
					Type: "number",
				}
			}

			if strings.Contains(t.String(), "commission.ModelName") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: commission.AllModels,
				}
			}

			if strings.Contains(t.String(), "engine.FillPolicy") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: AllFillPolicies,
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "backtest-run-config"
	schema.Description = "Configuration schema for a backtest run"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates a JSON schema string for the RunConfig.
func (c *RunConfig) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// DefaultConfig returns a RunConfig with conservative defaults.
func DefaultConfig() RunConfig {
	return RunConfig{
		InitialCash: 0,
		Commission: CommissionConfig{
			Model:  commission.ModelZero,
			Params: commission.Params{Fixed: 0, PerShare: 0},
		},
		FillPolicy:        FillPolicyNextBarOpen,
		MarginEnabled:     false,
		LiquidityCapRatio: optional.None[float64](),
		LookbackWindow:    50,
		Strict:            false,
		BrokerAckTimeout:  5 * time.Second,
		StartTime:         optional.None[time.Time](),
		EndTime:           optional.None[time.Time](),
	}
}

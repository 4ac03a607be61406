// Package commission provides per-fill commission cost models.
package commission

// Model computes the commission fee in USD for a fill of the given quantity.
type Model interface {
	Calculate(quantity float64) float64
}

type ModelName string

const (
	ModelZero              ModelName = "none"
	ModelFixed             ModelName = "fixed"
	ModelInteractiveBroker ModelName = "interactive_broker"
)

var AllModels = []any{
	ModelZero,
	ModelFixed,
	ModelInteractiveBroker,
}

// Params carries the tunables for the configurable models.
type Params struct {
	Fixed    float64 `yaml:"fixed" json:"fixed" jsonschema:"title=Fixed Fee,description=Fixed fee charged per fill in USD,minimum=0"`
	PerShare float64 `yaml:"per_share" json:"per_share" jsonschema:"title=Per Share Fee,description=Fee charged per share in USD,minimum=0"`
}

// GetModel returns the commission model for the given name. Unknown names
// fall back to zero commission.
func GetModel(name ModelName, params Params) Model {
	switch name {
	case ModelFixed:
		return NewFixedCommission(params.Fixed, params.PerShare)
	case ModelInteractiveBroker:
		return NewInteractiveBrokerCommission()
	case ModelZero:
		return NewZeroCommission()
	default:
		return NewZeroCommission()
	}
}

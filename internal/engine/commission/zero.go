package commission

// ZeroCommission implements Model with zero commission.
type ZeroCommission struct{}

// NewZeroCommission creates a new zero commission model.
func NewZeroCommission() Model {
	return &ZeroCommission{}
}

// Calculate returns 0 for any quantity.
func (c *ZeroCommission) Calculate(quantity float64) float64 {
	return 0.0
}

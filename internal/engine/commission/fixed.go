package commission

// FixedCommission charges a fixed fee plus a per-share fee on every fill.
type FixedCommission struct {
	fixed    float64
	perShare float64
}

// NewFixedCommission creates a fixed + per-share commission model.
func NewFixedCommission(fixed, perShare float64) Model {
	return &FixedCommission{
		fixed:    fixed,
		perShare: perShare,
	}
}

func (c *FixedCommission) Calculate(quantity float64) float64 {
	if quantity < 0 {
		quantity = -quantity
	}

	return c.fixed + c.perShare*quantity
}

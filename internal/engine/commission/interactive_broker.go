package commission

// InteractiveBrokerCommission models IB's fixed-rate US equity pricing:
// $0.005 per share with a $1.00 minimum per fill.
type InteractiveBrokerCommission struct{}

func NewInteractiveBrokerCommission() Model {
	return &InteractiveBrokerCommission{}
}

func (c *InteractiveBrokerCommission) Calculate(quantity float64) float64 {
	if quantity < 0 {
		quantity = -quantity
	}

	fee := 0.005 * quantity
	if fee < 1.0 {
		return 1.0
	}

	return fee
}

package commission

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type CommissionTestSuite struct {
	suite.Suite
}

func TestCommissionSuite(t *testing.T) {
	suite.Run(t, new(CommissionTestSuite))
}

func (suite *CommissionTestSuite) TestZeroCommission() {
	model := NewZeroCommission()
	suite.NotNil(model)

	tests := []struct {
		name     string
		quantity float64
		expected float64
	}{
		{"zero quantity", 0, 0},
		{"small quantity", 10, 0},
		{"large quantity", 10000, 0},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Equal(tc.expected, model.Calculate(tc.quantity))
		})
	}
}

func (suite *CommissionTestSuite) TestFixedCommission() {
	model := NewFixedCommission(1.0, 0.01)

	tests := []struct {
		name     string
		quantity float64
		expected float64
	}{
		{"zero quantity", 0, 1.0},
		{"hundred shares", 100, 2.0},
		{"negative quantity uses magnitude", -100, 2.0},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.InDelta(tc.expected, model.Calculate(tc.quantity), 1e-9)
		})
	}
}

func (suite *CommissionTestSuite) TestInteractiveBrokerCommission() {
	model := NewInteractiveBrokerCommission()

	tests := []struct {
		name     string
		quantity float64
		expected float64
	}{
		{"minimum fee applies", 10, 1.0},    // 0.005 * 10 = 0.05 < 1.0
		{"exactly at threshold", 200, 1.0},  // 0.005 * 200 = 1.0
		{"above threshold", 1000, 5.0},      // 0.005 * 1000 = 5.0
		{"very large quantity", 10000, 50.0},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Equal(tc.expected, model.Calculate(tc.quantity))
		})
	}
}

func (suite *CommissionTestSuite) TestGetModel() {
	tests := []struct {
		name           string
		model          ModelName
		testQuantity   float64
		expectedResult float64
	}{
		{"interactive broker", ModelInteractiveBroker, 1000, 5.0},
		{"fixed", ModelFixed, 1000, 1.5},
		{"none", ModelZero, 1000, 0.0},
		{"unknown defaults to zero", ModelName("unknown"), 1000, 0.0},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			model := GetModel(tc.model, Params{Fixed: 1.0, PerShare: 0.0005})
			suite.NotNil(model)
			suite.InDelta(tc.expectedResult, model.Calculate(tc.testQuantity), 1e-9)
		})
	}
}

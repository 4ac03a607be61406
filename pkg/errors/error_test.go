package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNew() {
	err := New(ErrCodeInvalidOrder, "quantity must be positive")
	suite.Equal(ErrCodeInvalidOrder, err.Code)
	suite.Equal("[102] quantity must be positive", err.Error())
	suite.Nil(err.Unwrap())
}

func (suite *ErrorTestSuite) TestNewf() {
	err := Newf(ErrCodeUnknownInstrument, "instrument %s not tracked", "AAPL")
	suite.Equal("[104] instrument AAPL not tracked", err.Error())
}

func (suite *ErrorTestSuite) TestWrapPreservesCause() {
	cause := stderrors.New("disk full")
	err := Wrap(ErrCodeHistoryFailed, "failed to export history", cause)

	suite.ErrorIs(err, cause)
	suite.Equal(cause, err.Unwrap())
	suite.Contains(err.Error(), "disk full")
}

func (suite *ErrorTestSuite) TestGetCode() {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"structured error", New(ErrCodeFeedExhausted, "no more bars"), ErrCodeFeedExhausted},
		{"wrapped structured error", fmt.Errorf("outer: %w", New(ErrCodeBrokerTimeout, "ack timeout")), ErrCodeBrokerTimeout},
		{"plain error", stderrors.New("plain"), ErrCodeUnknown},
		{"nil", nil, ErrCodeUnknown},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Equal(tc.expected, GetCode(tc.err))
		})
	}
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := Wrap(ErrCodeInsufficientFunds, "fill would drive cash negative", stderrors.New("cash=-10"))
	suite.True(HasCode(err, ErrCodeInsufficientFunds))
	suite.False(HasCode(err, ErrCodeInvalidOrder))
}

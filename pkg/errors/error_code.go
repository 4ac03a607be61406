package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidTimeInForce   ErrorCode = 103
	ErrCodeUnknownInstrument    ErrorCode = 104

	// Feed errors (200-299)
	ErrCodeFeedExhausted       ErrorCode = 200
	ErrCodeFeedUnavailable     ErrorCode = 201
	ErrCodeFeedOutOfOrder      ErrorCode = 202
	ErrCodeFeedQueryFailed     ErrorCode = 203
	ErrCodeFeedNoData          ErrorCode = 204
	ErrCodeFeedUnsupportedFile ErrorCode = 206

	// Ledger errors (300-399)
	ErrCodeInsufficientFunds            ErrorCode = 300
	ErrCodeAccountingInvariantViolation ErrorCode = 301
	ErrCodeFillOutsideBarRange          ErrorCode = 302

	// Strategy errors (400-499)
	ErrCodeStrategyError       ErrorCode = 400
	ErrCodeStrategyConfigError ErrorCode = 401
	ErrCodeStrategyNotLoaded   ErrorCode = 402

	// Broker/reconciliation errors (500-599)
	ErrCodeBrokerTimeout      ErrorCode = 500
	ErrCodeBrokerDisconnected ErrorCode = 502

	// Run/engine errors (600-699)
	ErrCodeRunNoStrategy   ErrorCode = 600
	ErrCodeRunNoFeed       ErrorCode = 601
	ErrCodeRunNoResultsDir ErrorCode = 602
	ErrCodeRunAborted      ErrorCode = 603
	ErrCodeHistoryFailed   ErrorCode = 604
)

package models

import "fmt"

// The error taxonomy below is the contract between pipeline stages: callers
// match with errors.As and handle each category explicitly instead of
// swallowing a generic error.

// DataUnavailableError reports that the provider returned fewer bars than the
// slowest indicator requires. Retry next cycle; do not fail the bot.
type DataUnavailableError struct {
	Symbol string
	Got    int
	Want   int
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("market data unavailable for %s: got %d bars, need %d", e.Symbol, e.Got, e.Want)
}

// TransientFetchError wraps network or rate-limit failures at the market data
// boundary. Retryable on the next cycle.
type TransientFetchError struct {
	Symbol string
	Cause  error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error for %s: %v", e.Symbol, e.Cause)
}

func (e *TransientFetchError) Unwrap() error { return e.Cause }

// FatalFetchError reports a non-retryable data failure such as an unknown
// symbol. The symbol is disabled for the rest of the session.
type FatalFetchError struct {
	Symbol string
	Cause  error
}

func (e *FatalFetchError) Error() string {
	return fmt.Sprintf("fatal fetch error for %s: %v", e.Symbol, e.Cause)
}

func (e *FatalFetchError) Unwrap() error { return e.Cause }

// DecisionSchemaError reports that an external reasoning oracle returned a
// payload that failed validation. The decision is dropped to hold; an
// unvalidated decision is never executed.
type DecisionSchemaError struct {
	Symbol string
	Reason string
}

func (e *DecisionSchemaError) Error() string {
	return fmt.Sprintf("oracle decision for %s rejected: %s", e.Symbol, e.Reason)
}

// RiskRejectedError is the expected, non-error outcome of a failed risk
// check. The reason is a distinct, loggable policy string.
type RiskRejectedError struct {
	Symbol string
	Reason string
}

func (e *RiskRejectedError) Error() string {
	return fmt.Sprintf("risk gate rejected %s: %s", e.Symbol, e.Reason)
}

// OrderRejectedError reports that the exchange declined an order. No state
// was mutated; the decision is logged and dropped.
type OrderRejectedError struct {
	Symbol string
	Reason string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected for %s: %s", e.Symbol, e.Reason)
}

// ExecutionTimeoutError reports that an order submission timed out with an
// unknown outcome. The caller must reconcile against exchange order status
// before any retry; a possibly-filled order is never blind-retried.
type ExecutionTimeoutError struct {
	Symbol        string
	ClientOrderID string
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution timed out for %s (client order %s); reconcile before retry", e.Symbol, e.ClientOrderID)
}

// LedgerInconsistencyError reports a mismatch between the authoritative store
// and the in-memory ledger. This halts trading for the bot: continuing on
// inconsistent capital is worse than stopping.
type LedgerInconsistencyError struct {
	BotID  string
	Detail string
}

func (e *LedgerInconsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistency for bot %s: %s", e.BotID, e.Detail)
}

// Package marketdata implements the quote provider boundary: typed provider
// errors and the REST implementation of model.QuoteProvider. Streaming
// ingest, fan-out, and bar aggregation live in the subpackages.
package marketdata

import "fmt"

// NotFoundError reports an unknown symbol at the provider.
type NotFoundError struct {
	Symbol string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("marketdata: symbol %s not found", e.Symbol)
}

// NetworkError reports a transport-level failure talking to the provider.
// The core never retries; the failure is surfaced to the caller unchanged.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("marketdata: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

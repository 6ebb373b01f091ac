package qbsync

import (
	"errors"
	"fmt"
)

// Failure kinds recorded on sync results and audit rows.
const (
	ErrKindValidation = "validation"
	ErrKindAuth       = "auth"
	ErrKindFault      = "fault"
	ErrKindNetwork    = "network"
	ErrKindInternal   = "internal"
)

const ErrCodeAlreadySynced = "ALREADY_SYNCED"

var (
	// ErrAuthExpired means the connection's credentials are invalid or expired
	// and the user must go through the OAuth consent flow again.
	ErrAuthExpired = errors.New("quickbooks authorization expired")

	// ErrAlreadySynced is the idempotency guard: the entity already has a
	// remote id and must not be resubmitted for creation.
	ErrAlreadySynced = errors.New("entity is already synced to quickbooks")
)

// RemoteFault is a structured business-rule error returned by QuickBooks,
// distinct from transport-level failures. Code and Detail are preserved
// verbatim for operator diagnosis.
type RemoteFault struct {
	Code   string
	Detail string
}

func (e *RemoteFault) Error() string {
	return fmt.Sprintf("quickbooks fault %s: %s", e.Code, e.Detail)
}

// HttpError is a non-2xx response without a parseable fault body.
type HttpError struct {
	StatusCode int
	Body       string
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("quickbooks http error %d: %s", e.StatusCode, e.Body)
}

// NetworkError wraps transport failures (DNS, timeout, connection reset).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("quickbooks network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AmountMismatchError fails a transform whose line sum does not equal the
// recorded total; submitting a mismatched total is a correctness bug.
type AmountMismatchError struct {
	Total   string
	LineSum string
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("line amounts sum to %s but recorded total is %s", e.LineSum, e.Total)
}

// ValidationError rejects a record before any remote call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// classifyError maps an error to a failure kind and a stable error code.
func classifyError(err error) (kind string, code string) {
	var fault *RemoteFault
	if errors.As(err, &fault) {
		return ErrKindFault, fault.Code
	}
	if errors.Is(err, ErrAuthExpired) {
		return ErrKindAuth, "AUTH_EXPIRED"
	}
	var httpErr *HttpError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 401 || httpErr.StatusCode == 403 {
			return ErrKindAuth, "AUTH_EXPIRED"
		}
		return ErrKindNetwork, fmt.Sprintf("HTTP_%d", httpErr.StatusCode)
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return ErrKindNetwork, "NETWORK_ERROR"
	}
	var mismatch *AmountMismatchError
	if errors.As(err, &mismatch) {
		return ErrKindValidation, "AMOUNT_MISMATCH"
	}
	var invalid *ValidationError
	if errors.As(err, &invalid) {
		return ErrKindValidation, "VALIDATION_FAILED"
	}
	return ErrKindInternal, "INTERNAL_ERROR"
}

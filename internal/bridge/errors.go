package bridge

import (
	"errors"
	"fmt"
)

// Workflow error taxonomy. Every terminal failure maps onto exactly one
// of these, so callers can tell a dead run from a resumable one.
var (
	// ErrInvalidAsset marks malformed or unsupported input; not retryable.
	ErrInvalidAsset = errors.New("invalid asset")
	// ErrSubmission marks a transaction that was rejected or failed to
	// land; retry only after confirming it truly did not land.
	ErrSubmission = errors.New("transaction submission failed")
	// ErrNoMessageFound marks a confirmed attestation transaction whose
	// receipt carries no bridge message; a protocol mismatch, fatal.
	ErrNoMessageFound = errors.New("no bridge message in receipt")
	// ErrProofTimeout marks an exhausted proof wait; the message id
	// stays valid and the wait may be resumed.
	ErrProofTimeout = errors.New("proof wait timed out")
	// ErrConfirmationTimeout marks an exhausted confirmation poll after
	// a successful submission; the registry may simply be lagging.
	ErrConfirmationTimeout = errors.New("wrapped asset confirmation timed out")

	// ErrNoWrappedAsset is the registry's not-found state, returned by
	// TokenBridgeView.GetWrappedAsset.
	ErrNoWrappedAsset = errors.New("no wrapped asset registered")
	// ErrProofNotReady means the verification network has not finalized
	// the message yet; a state, not a failure.
	ErrProofNotReady = errors.New("proof not yet available")
)

// Error kind names, as surfaced in API responses and run records.
const (
	KindInvalidAsset        = "InvalidAssetError"
	KindSubmission          = "SubmissionError"
	KindNoMessageFound      = "NoMessageFoundError"
	KindProofTimeout        = "ProofTimeoutError"
	KindConfirmationTimeout = "ConfirmationTimeoutError"
	KindUnknown             = "UnknownError"
)

// KindOf maps an error onto its taxonomy name.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAsset):
		return KindInvalidAsset
	case errors.Is(err, ErrSubmission):
		return KindSubmission
	case errors.Is(err, ErrNoMessageFound):
		return KindNoMessageFound
	case errors.Is(err, ErrProofTimeout):
		return KindProofTimeout
	case errors.Is(err, ErrConfirmationTimeout):
		return KindConfirmationTimeout
	default:
		return KindUnknown
	}
}

// RunError decorates a workflow failure with the partial progress a
// caller needs to resume: the retained message id and the attestation
// transaction that already landed.
type RunError struct {
	Err             error
	MessageID       *MessageID
	AttestationTxID string
}

func (e *RunError) Error() string {
	if e.MessageID != nil {
		return fmt.Sprintf("%v (message %s retained)", e.Err, e.MessageID)
	}
	return e.Err.Error()
}

func (e *RunError) Unwrap() error { return e.Err }

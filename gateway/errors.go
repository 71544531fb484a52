package gateway

import "fmt"

// RejectedError reports a group the ledger refused. Reason is the ledger's
// abort diagnostic, unchanged. Rejections are never retried.
type RejectedError struct {
	TxID   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction %s rejected: %s", e.TxID, e.Reason)
}

// SubmissionError reports a transport, signing or confirmation failure.
// The group may be re-issued verbatim when Retryable is set: the failed
// attempt never reached the ledger.
type SubmissionError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission %s: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

package models

import "encoding/json"

// BatchRequest is the POST /transactions and POST /applications payload.
// Only the field matching the endpoint's kind may be populated.
type BatchRequest struct {
	Source       string            `json:"source"`
	BatchID      string            `json:"batch_id,omitempty"`
	Transactions []json.RawMessage `json:"transactions,omitempty"`
	Applications []json.RawMessage `json:"applications,omitempty"`
}

// Outcome is the terminal state of one submitted record.
type Outcome string

const (
	OutcomeAccepted      Outcome = "accepted"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeRejected      Outcome = "rejected"
	OutcomeStorageFailed Outcome = "storage_failed"
)

// Succeeded reports whether the record is durably accepted, either now or
// by an earlier submission.
func (o Outcome) Succeeded() bool {
	return o == OutcomeAccepted || o == OutcomeDuplicate
}

// FieldError names one offending field and why it was refused.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// RecordResult is the per-record line of a batch response.
type RecordResult struct {
	Index        int          `json:"index"`
	RecordID     string       `json:"record_id"`
	Outcome      Outcome      `json:"outcome"`
	Reason       string       `json:"reason,omitempty"`
	Fields       []FieldError `json:"fields,omitempty"`
	Fingerprint  string       `json:"fingerprint,omitempty"`
	Location     string       `json:"location,omitempty"`
	PublishError string       `json:"publish_error,omitempty"`
}

// BatchResponse accounts for every submitted record exactly once.
type BatchResponse struct {
	BatchID         string         `json:"batch_id"`
	RecordKind      Kind           `json:"record_kind"`
	Source          string         `json:"source"`
	Accepted        int            `json:"accepted"`
	Duplicates      int            `json:"duplicates"`
	Rejected        int            `json:"rejected"`
	StorageFailures int            `json:"storage_failures"`
	PublishFailures int            `json:"publish_failures"`
	Details         []RecordResult `json:"details"`
}

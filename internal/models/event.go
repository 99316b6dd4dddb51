package models

import (
	"encoding/json"
	"time"
)

// EventTypeRecordAccepted is the event_type of every AcceptanceEvent.
const EventTypeRecordAccepted = "ingestion.record_accepted"

// AcceptanceEvent announces a newly stored artifact to downstream consumers.
// Consumers must tolerate redelivery; the fingerprint is the idempotency key.
type AcceptanceEvent struct {
	EventType   string    `json:"event_type"`
	Fingerprint string    `json:"fingerprint"`
	Location    string    `json:"location"`
	RecordKind  Kind      `json:"record_kind"`
	SourceTag   string    `json:"source_tag"`
	RecordID    string    `json:"record_id,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

// Envelope is the body persisted for an accepted record. It holds nothing
// submission-specific, so equal fingerprints always produce equal bytes.
type Envelope struct {
	Fingerprint string          `json:"fingerprint"`
	RecordKind  Kind            `json:"record_kind"`
	SourceTag   string          `json:"source_tag"`
	RecordID    string          `json:"record_id"`
	Record      json.RawMessage `json:"record"`
}

// Package publish announces accepted records to downstream consumers.
// Delivery is at-least-once; consumers dedupe on the fingerprint.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

// Publisher emits acceptance events and returns the broker message ID.
type Publisher interface {
	Publish(ctx context.Context, ev models.AcceptanceEvent) (string, error)
	Close() error
}

// Attributes are the message attributes sent alongside the JSON body, so
// subscribers can filter without decoding.
func Attributes(ev models.AcceptanceEvent) map[string]string {
	return map[string]string{
		"source":      ev.SourceTag,
		"record_kind": string(ev.RecordKind),
		"fingerprint": ev.Fingerprint,
		"event_type":  ev.EventType,
	}
}

// LogPublisher writes events to the log. It is the local-development
// backend when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, ev models.AcceptanceEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	p.log.InfoContext(ctx, "acceptance event", "message_id", id, "event", string(body))
	return id, nil
}

func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher collects events in memory, with failure injection.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []models.AcceptanceEvent
	fail   error
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

// Fail makes Publish return err until cleared with nil.
func (p *MemoryPublisher) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *MemoryPublisher) Publish(ctx context.Context, ev models.AcceptanceEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	p.events = append(p.events, ev)
	return uuid.NewString(), nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []models.AcceptanceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.AcceptanceEvent(nil), p.events...)
}

func (p *MemoryPublisher) Close() error { return nil }

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*MemoryPublisher)(nil)
)

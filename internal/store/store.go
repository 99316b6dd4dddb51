// Package store is the durable, content-addressed artifact store. Objects
// are immutable: the first write of a key wins and later writes of the same
// bytes are no-ops.
package store

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

var (
	// ErrContentMismatch means a key already holds different bytes. Keys end
	// in the content fingerprint, so this is a contract violation.
	ErrContentMismatch = errors.New("store: existing object has different content")
	ErrNotFound        = errors.New("store: object not found")
	ErrInvalidKey      = errors.New("store: invalid object key")
)

// DateLayout formats the submission_date key segment.
const DateLayout = "2006-01-02"

// Artifact is one object to persist.
type Artifact struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// Object describes a stored artifact.
type Object struct {
	Key      string    `json:"key"`
	Location string    `json:"location"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

// Store persists artifacts. Put is idempotent for equal content. List
// returns objects sorted by key on every backend.
type Store interface {
	Put(ctx context.Context, a Artifact) (location string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	Ping(ctx context.Context) error
}

// Key builds {source_tag}/{record_kind}/{submission_date}/{fingerprint}.
func Key(source string, kind models.Kind, submitted time.Time, fingerprint string) string {
	return path.Join(source, string(kind), submitted.UTC().Format(DateLayout), fingerprint)
}

// DayPrefix is the listing prefix for one source, kind and day.
func DayPrefix(source string, kind models.Kind, day time.Time) string {
	return path.Join(source, string(kind), day.UTC().Format(DateLayout)) + "/"
}

// cleanKey rejects absolute keys and keys that escape the store root.
func cleanKey(key string) (string, error) {
	k := path.Clean(strings.TrimSpace(key))
	if k == "." || k == "" || path.IsAbs(k) || k == ".." || strings.HasPrefix(k, "../") {
		return "", ErrInvalidKey
	}
	return k, nil
}

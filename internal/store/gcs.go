package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSStore writes artifacts to a Cloud Storage bucket. Create-if-absent is
// enforced server side with a DoesNotExist precondition.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore connects with application default credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs: bucket required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

var _ Store = (*GCSStore)(nil)

func (s *GCSStore) location(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}

// Put uploads a.Body unless the object exists. On a precondition failure
// the existing object is compared byte for byte.
func (s *GCSStore) Put(ctx context.Context, a Artifact) (string, error) {
	key, err := cleanKey(a.Key)
	if err != nil {
		return "", err
	}
	obj := s.client.Bucket(s.bucket).Object(key)

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = a.ContentType
	w.Metadata = a.Metadata
	if _, err := w.Write(a.Body); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			existing, rerr := s.Get(ctx, key)
			if rerr != nil {
				return "", rerr
			}
			if !bytes.Equal(existing, a.Body) {
				return "", ErrContentMismatch
			}
			return s.location(key), nil
		}
		return "", err
	}
	return s.location(key), nil
}

// Get downloads the object stored under key.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// List enumerates objects under prefix sorted by key.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Object{
			Key:      attrs.Name,
			Location: s.location(attrs.Name),
			Size:     attrs.Size,
			Created:  attrs.Created.UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Ping checks bucket reachability.
func (s *GCSStore) Ping(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

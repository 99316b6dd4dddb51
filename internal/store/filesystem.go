package store

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tmpPrefix = ".tmp-"

// FSStore keeps one file per key under a root directory. New objects are
// written to a temp file and hard-linked into place, which fails if the
// target exists, so concurrent writers cannot clobber each other.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: abs}, nil
}

var _ Store = (*FSStore)(nil)

func (s *FSStore) location(dest string) string {
	return "file://" + filepath.ToSlash(dest)
}

// Put writes a.Body under a.Key unless the key already exists.
func (s *FSStore) Put(ctx context.Context, a Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := cleanKey(a.Key)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(s.root, filepath.FromSlash(key))
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(a.Body); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Link(tmpPath, dest); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		existing, rerr := os.ReadFile(dest)
		if rerr != nil {
			return "", rerr
		}
		if !bytes.Equal(existing, a.Body) {
			return "", ErrContentMismatch
		}
		return s.location(dest), nil
	}
	_ = syncDir(dir)
	return s.location(dest), nil
}

// Get reads the object stored under key.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(k)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// List returns the objects whose key starts with prefix, sorted by key.
// The prefix must name a directory, for example a DayPrefix.
func (s *FSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	k, err := cleanKey(prefix)
	if err != nil {
		return nil, err
	}
	base := filepath.Join(s.root, filepath.FromSlash(k))

	var out []Object
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		out = append(out, Object{
			Key:      filepath.ToSlash(rel),
			Location: s.location(p),
			Size:     info.Size(),
			Created:  info.ModTime().UTC(),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Ping checks that the root is still a writable directory.
func (s *FSStore) Ping(ctx context.Context) error {
	f, err := os.CreateTemp(s.root, tmpPrefix+"ping-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// syncDir fsyncs a directory so the new link survives a crash.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Package blob stores uploaded files and hands back retrievable URLs.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrInvalidKey = errors.New("invalid blob key")

// File is an uploaded file.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Object describes a stored file.
type Object struct {
	Key    string `json:"key"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Store writes a file under a folder hint and returns its URL.
type Store interface {
	Store(ctx context.Context, f File, folder string) (string, error)
}

// LocalStore keeps files under Root. Keys look like
// <folder>/<yyyy>/<mm>/<ulid>-<name> and URLs are BaseURL + "/" + key.
type LocalStore struct {
	Root    string
	BaseURL string
	now     func() time.Time
}

// NewLocalStore returns a store writing below root.
func NewLocalStore(root, baseURL string) *LocalStore {
	return &LocalStore{Root: root, BaseURL: strings.TrimSuffix(baseURL, "/"), now: time.Now}
}

// Store implements Store.
func (s *LocalStore) Store(ctx context.Context, f File, folder string) (string, error) {
	obj, err := s.Put(ctx, f, folder)
	if err != nil {
		return "", err
	}
	return obj.URL, nil
}

// Put writes f and reports its key, size and checksum.
func (s *LocalStore) Put(ctx context.Context, f File, folder string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if f.Content == nil {
		return Object{}, errors.New("blob: file has no content")
	}

	now := s.now().UTC()
	key := path.Join(
		cleanFolder(folder),
		fmt.Sprintf("%04d/%02d", now.Year(), int(now.Month())),
		ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()+"-"+safeName(f.Name),
	)

	full, err := s.Path(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Object{}, fmt.Errorf("blob: %w", err)
	}
	out, err := os.Create(full)
	if err != nil {
		return Object{}, fmt.Errorf("blob: %w", err)
	}
	defer out.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), f.Content)
	if err != nil {
		_ = os.Remove(full)
		return Object{}, fmt.Errorf("blob: write %s: %w", key, err)
	}
	return Object{
		Key:    key,
		URL:    s.BaseURL + "/" + key,
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Path maps a key to its location on disk.
func (s *LocalStore) Path(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.Root, filepath.FromSlash(clean)), nil
}

// Delete removes the file stored under key.
func (s *LocalStore) Delete(key string) error {
	full, err := s.Path(key)
	if err != nil {
		return err
	}
	return os.Remove(full)
}

func cleanFolder(folder string) string {
	var parts []string
	for _, p := range strings.Split(folder, "/") {
		p = strings.TrimSpace(p)
		if p == "" || p == "." || p == ".." {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "/")
}

func safeName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	name = strings.Map(func(r rune) rune {
		if r == ' ' || r == '/' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// Package content stores uploaded audio and generated documents on disk,
// addressed by the SHA-256 of the uploaded bytes.
package content

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	audioDir  = "audio"
	outputDir = "outputs"
	tempDir   = "temp"
	lockDir   = "locks"

	lockRetry = 50 * time.Millisecond
)

var extPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// HashReader digests r to EOF and returns the hex digest and byte count.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Store is the content-addressed data directory.
type Store struct {
	root string
}

// New creates the data directory layout under root.
func New(root string) (*Store, error) {
	for _, d := range []string{audioDir, outputDir, tempDir, lockDir} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", d, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the data directory.
func (s *Store) Root() string { return s.root }

// AudioPath returns where the upload for hash is (or will be) stored.
func (s *Store) AudioPath(hash, originalName string) string {
	return filepath.Join(s.root, audioDir, hash+extension(originalName))
}

// DocumentPath returns where the generated document for hash is written.
func (s *Store) DocumentPath(hash, ext string) string {
	return filepath.Join(s.root, outputDir, hash+ext)
}

// Put writes r to the audio path for hash. An existing file is never
// overwritten; its path is returned and r is left unread.
func (s *Store) Put(ctx context.Context, hash, originalName string, r io.Reader) (string, error) {
	dst := s.AudioPath(hash, originalName)
	unlock, err := s.lock(ctx, hash)
	if err != nil {
		return "", err
	}
	defer unlock()

	if Exists(dst) {
		return dst, nil
	}
	if err := writeAtomic(dst, r); err != nil {
		return "", fmt.Errorf("store audio: %w", err)
	}
	return dst, nil
}

// WriteDocument writes a generated document for hash and returns its path.
func (s *Store) WriteDocument(ctx context.Context, hash, ext string, data []byte) (string, error) {
	dst := s.DocumentPath(hash, ext)
	unlock, err := s.lock(ctx, hash)
	if err != nil {
		return "", err
	}
	defer unlock()

	if err := writeAtomic(dst, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return dst, nil
}

// Spool is an upload buffered to disk with its digest computed.
type Spool struct {
	Path string
	Hash string
	Size int64
}

// Open reopens the spooled bytes for reading.
func (sp *Spool) Open() (*os.File, error) {
	return os.Open(sp.Path)
}

// Remove deletes the spool file.
func (sp *Spool) Remove() {
	os.Remove(sp.Path)
}

// Spool copies r into a temp file while hashing it, so large uploads
// never sit in memory.
func (s *Store) Spool(r io.Reader) (*Spool, error) {
	f, err := os.CreateTemp(filepath.Join(s.root, tempDir), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	defer f.Close()

	hash, n, err := HashReader(io.TeeReader(r, f))
	if err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	return &Spool{Path: f.Name(), Hash: hash, Size: n}, nil
}

// TempDir creates a private scratch directory for one job. The caller
// removes it with the returned cleanup func.
func (s *Store) TempDir(hash string) (string, func(), error) {
	dir, err := os.MkdirTemp(filepath.Join(s.root, tempDir), hash+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (s *Store) lock(ctx context.Context, hash string) (func(), error) {
	fl := flock.New(filepath.Join(s.root, lockDir, hash+".lock"))
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", hash, err)
	}
	if !ok {
		return nil, errors.New("lock " + hash + ": not acquired")
	}
	return func() { fl.Unlock() }, nil
}

func writeAtomic(dst string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func extension(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if !extPattern.MatchString(ext) {
		return ""
	}
	return "." + ext
}

// Package filestore keeps uploaded files on local disk under generated
// storage names so that shared files can be downloaded by other devices.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
)

// Sentinel errors for file store operations.
var (
	// ErrNotFound is returned when no file exists under the storage name.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidName is returned for storage names that could escape the
	// storage directory.
	ErrInvalidName = errors.New("invalid storage name")

	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("file exceeds maximum upload size")
)

const (
	defaultContentType = "application/octet-stream"
	// keyAlphabet excludes '_' so the key/name separator stays unambiguous.
	keyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// contentTypeByExt maps file extensions to MIME types.
var contentTypeByExt = map[string]string{
	".txt":  "text/plain",
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".heic": "image/heic",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// StoredFile describes a file written to the store.
type StoredFile struct {
	FileID      string
	StorageName string
	DisplayName string
	Size        int64
	ContentType string
	StoredAt    time.Time
}

// Store writes uploads into a single directory.
type Store struct {
	dir     string
	maxSize int64
	newKey  func() string
}

// New creates the storage directory if needed and returns a store that
// rejects uploads larger than maxSize bytes (no limit when maxSize <= 0).
func New(dir string, maxSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	gen, err := nanoid.CustomASCII(keyAlphabet, 12)
	if err != nil {
		return nil, fmt.Errorf("create key generator: %w", err)
	}
	return &Store{dir: dir, maxSize: maxSize, newKey: gen}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save copies r to disk. The write completes (and is synced) before Save
// returns, so callers may announce the file immediately afterwards.
func (s *Store) Save(ctx context.Context, filename string, r io.Reader, contentType string) (StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return StoredFile{}, err
	}

	displayName := SanitizeFilename(filename)
	storageName := s.newKey() + "_" + displayName
	if contentType == "" || contentType == defaultContentType {
		contentType = ContentTypeFor(displayName)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return StoredFile{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Printf("Error removing temp upload %s: %v", tmpName, rmErr)
			}
		}
	}()

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	written, err := io.Copy(tmp, src)
	if err == nil && s.maxSize > 0 && written > s.maxSize {
		err = ErrTooLarge
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return StoredFile{}, err
		}
		return StoredFile{}, fmt.Errorf("write upload: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, storageName)); err != nil {
		return StoredFile{}, fmt.Errorf("store upload: %w", err)
	}
	tmpName = ""

	return StoredFile{
		FileID:      uuid.New().String(),
		StorageName: storageName,
		DisplayName: displayName,
		Size:        written,
		ContentType: contentType,
		StoredAt:    time.Now().UTC(),
	}, nil
}

// Path resolves a storage name to a path inside the store.
func (s *Store) Path(storageName string) (string, error) {
	if !validStorageName(storageName) {
		return "", ErrInvalidName
	}
	path := filepath.Join(s.dir, storageName)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

// Remove deletes a stored file.
func (s *Store) Remove(storageName string) error {
	path, err := s.Path(storageName)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// DisplayName recovers the original file name from a storage name.
func DisplayName(storageName string) string {
	if _, name, found := strings.Cut(storageName, "_"); found && name != "" {
		return name
	}
	return storageName
}

// SanitizeFilename removes path components and separators from filename.
func SanitizeFilename(filename string) string {
	clean := filepath.Base(filepath.Clean(strings.ReplaceAll(filename, "\\", "/")))
	clean = strings.TrimSpace(strings.Trim(clean, "/"))
	if clean == "." || clean == ".." || clean == "" {
		return "unnamed"
	}
	return clean
}

// ContentTypeFor guesses a MIME type from the file extension.
func ContentTypeFor(filename string) string {
	if ct, ok := contentTypeByExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return defaultContentType
}

func validStorageName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

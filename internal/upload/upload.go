// Package upload stores shared documents on disk under content-addressed
// names. A file's name is the BLAKE3 digest of its bytes plus an
// extension for its type, so identical uploads share one file and a
// URL, once returned, always refers to the same content.
package upload

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/muffinhead3/screen-share-app/internal/session"
)

// DefaultMaxSize is the upload cap used when none is configured.
const DefaultMaxSize int64 = 50 << 20

var (
	// ErrUnsupportedFileType is returned for a mimetype other than PDF,
	// JPEG, PNG or GIF.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrFileTooLarge is returned when the payload exceeds the cap.
	ErrFileTooLarge = errors.New("file too large")
)

type kind struct {
	fileType session.FileType
	ext      string
}

var kinds = map[string]kind{
	"application/pdf": {session.FilePDF, ".pdf"},
	"image/jpeg":      {session.FileImage, ".jpg"},
	"image/png":       {session.FileImage, ".png"},
	"image/gif":       {session.FileImage, ".gif"},
}

// Classify maps a declared mimetype to a document type. Parameters such
// as charset are ignored.
func Classify(mimetype string) (session.FileType, error) {
	k, err := lookup(mimetype)
	return k.fileType, err
}

func lookup(mimetype string) (kind, error) {
	mediaType, _, err := mime.ParseMediaType(mimetype)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimetype))
	}
	k, ok := kinds[mediaType]
	if !ok {
		return kind{}, fmt.Errorf("%w: %q", ErrUnsupportedFileType, mimetype)
	}
	return k, nil
}

// Result describes a stored upload.
type Result struct {
	URL  string           `json:"fileUrl"`
	Name string           `json:"-"`
	Type session.FileType `json:"fileType"`
	Size int64            `json:"size"`
}

// Service writes uploads into a single directory.
type Service struct {
	dir       string
	urlPrefix string
	maxSize   int64
}

// NewService returns a service that stores files in dir and reports URLs
// under urlPrefix. dir is created if missing. A non-positive maxSize
// selects DefaultMaxSize.
func NewService(dir, urlPrefix string, maxSize int64) (*Service, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Service{
		dir:       dir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
		maxSize:   maxSize,
	}, nil
}

// Dir returns the directory uploads are stored in.
func (s *Service) Dir() string { return s.dir }

// MaxSize returns the upload cap in bytes.
func (s *Service) MaxSize() int64 { return s.maxSize }

// Upload reads r to the end and stores it. The file only becomes
// visible under its final name once it has been written completely.
func (s *Service) Upload(ctx context.Context, r io.Reader, mimetype string) (Result, error) {
	k, err := lookup(mimetype)
	if err != nil {
		return Result{}, err
	}

	tmpFile, err := os.CreateTemp(s.dir, "upload-*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("creating temp upload file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	hasher := blake3.New()
	limited := io.LimitReader(&ctxReader{ctx: ctx, r: r}, s.maxSize+1)
	n, err := io.Copy(io.MultiWriter(tmpFile, hasher), limited)
	if err != nil {
		tmpFile.Close()
		return Result{}, fmt.Errorf("writing upload: %w", err)
	}
	if n > s.maxSize {
		tmpFile.Close()
		return Result{}, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, s.maxSize)
	}
	if err := tmpFile.Close(); err != nil {
		return Result{}, fmt.Errorf("closing temp upload file: %w", err)
	}

	name := hex.EncodeToString(hasher.Sum(nil)) + k.ext
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return Result{}, fmt.Errorf("renaming upload: %w", err)
	}
	success = true

	return Result{
		URL:  path.Join(s.urlPrefix, name),
		Name: name,
		Type: k.fileType,
		Size: n,
	}, nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package formrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultMaxUploadBytes int64 = 5 << 20

var DefaultAllowedExtensions = []string{".pdf", ".doc", ".docx"}

// Upload is a file persisted to the upload directory for the lifetime of one request.
type Upload struct {
	Path         string
	OriginalName string
	Size         int64
}

// Intake validates uploaded files and persists them to a temporary directory.
type Intake struct {
	dir      string
	maxBytes int64
	allowed  []string
	now      func() time.Time
}

func NewIntake(dir string, maxBytes int64) *Intake {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Intake{
		dir:      dir,
		maxBytes: maxBytes,
		allowed:  DefaultAllowedExtensions,
		now:      time.Now,
	}
}

func (in *Intake) Dir() string      { return in.dir }
func (in *Intake) MaxBytes() int64 { return in.maxBytes }

// EnsureDir creates the upload directory if it does not exist.
func (in *Intake) EnsureDir() error {
	if err := os.MkdirAll(in.dir, 0o750); err != nil {
		return fmt.Errorf("create upload dir %s: %w", in.dir, err)
	}
	return nil
}

// Validate checks name against the extension allow-list and size against the cap.
func (in *Intake) Validate(name string, size int64) error {
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(in.allowed, ext) {
		return &ValidationError{
			Code:    CodeInvalidFileType,
			Message: "Invalid file type. Only PDF, DOC, and DOCX files are allowed.",
		}
	}
	if size > in.maxBytes {
		return &SizeLimitError{Limit: in.maxBytes}
	}
	return nil
}

// Accept validates fh and copies it into the upload directory. The caller owns
// the returned Upload and must Release it.
func (in *Intake) Accept(fh *multipart.FileHeader) (*Upload, error) {
	if err := in.Validate(fh.Filename, fh.Size); err != nil {
		return nil, err
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(in.dir, in.storedName(fh.Filename))
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}

	n, copyErr := io.Copy(dst, io.LimitReader(src, in.maxBytes+1))
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("persist upload: %w", err)
	}
	if n > in.maxBytes {
		_ = os.Remove(path)
		return nil, &SizeLimitError{Limit: in.maxBytes}
	}

	return &Upload{Path: path, OriginalName: fh.Filename, Size: n}, nil
}

// storedName keeps the original base name readable while making it unique.
func (in *Intake) storedName(original string) string {
	return fmt.Sprintf("%d-%s-%s", in.now().UnixMilli(), uuid.NewString()[:8], sanitizeFilename(original))
}

// Release removes the persisted file. Failures are logged and swallowed.
func (u *Upload) Release(ctx context.Context) {
	if u == nil {
		return
	}
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		LoggerFromContext(ctx).Warn("failed to delete upload", zap.String("path", u.Path), zap.Error(err))
	}
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}

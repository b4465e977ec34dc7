// Package blob keeps original uploads under opaque handles. Handles have the
// form pdfs/YYYY/MM/DD/<uuid>.pdf and are never reused.
package blob

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vetlab/bloodwork-analyzer/internal/config"
	"github.com/vetlab/bloodwork-analyzer/internal/domain"
)

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.BlobConfig) (domain.BlobStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "fs":
		return NewFSStore(cfg.FS.Root)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unsupported blob driver %q", cfg.Driver), nil)
	}
}

// NewHandle builds a fresh handle for a blob of contentType created at t.
func NewHandle(t time.Time, contentType string) string {
	return fmt.Sprintf("pdfs/%s/%s%s", t.UTC().Format("2006/01/02"), uuid.NewString(), extensionFor(contentType))
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	if mediaType == "application/pdf" {
		return ".pdf"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func notFound(handle string) error {
	return domain.NotFoundError(fmt.Sprintf("blob %s", handle))
}

// validHandle rejects handles that could escape a storage root.
func validHandle(handle string) error {
	switch {
	case strings.TrimSpace(handle) == "":
		return domain.ValidationError("empty blob handle", nil)
	case strings.Contains(handle, ".."):
		return domain.ValidationError("blob handle contains '..'", nil)
	case strings.HasPrefix(handle, "/"):
		return domain.ValidationError("blob handle must be relative", nil)
	}
	return nil
}

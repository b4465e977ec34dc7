package pdf

import (
	"fmt"
	"mime"
	"strings"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
)

// ContentType is the only media type accepted for analysis.
const ContentType = "application/pdf"

// Validator checks uploads before they enter the pipeline.
type Validator struct {
	maxBytes int64
}

// NewValidator creates a validator rejecting uploads larger than maxBytes.
// A non-positive maxBytes disables the size check.
func NewValidator(maxBytes int64) *Validator {
	return &Validator{maxBytes: maxBytes}
}

// ValidateUpload rejects uploads that are not PDFs or are empty or too large.
// It checks the declared media type only; whether the bytes are a readable
// document is discovered when rendering.
func (v *Validator) ValidateUpload(upload domain.Upload) error {
	if strings.TrimSpace(upload.ContentType) == "" {
		return domain.ValidationError("content type is required", nil)
	}

	mediaType, _, err := mime.ParseMediaType(upload.ContentType)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("invalid content type %q", upload.ContentType), err)
	}
	if mediaType != ContentType {
		return domain.ValidationError(fmt.Sprintf("only PDF files are allowed, got %s", mediaType), nil)
	}

	if len(upload.Data) == 0 {
		return domain.ValidationError("file is empty", nil)
	}

	if v.maxBytes > 0 && int64(len(upload.Data)) > v.maxBytes {
		return domain.ValidationError(
			fmt.Sprintf("file is too large (%d MB, limit %d MB)", len(upload.Data)>>20, v.maxBytes>>20), nil)
	}

	return nil
}

package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeAllocation        ErrorType = "allocation"
	ErrorTypeCorruptDocument   ErrorType = "corrupt_document"
	ErrorTypePageRender        ErrorType = "page_render"
	ErrorTypeTransport         ErrorType = "transport"
	ErrorTypeRemote            ErrorType = "remote"
	ErrorTypeMalformedResponse ErrorType = "malformed_response"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeDuplicate         ErrorType = "duplicate_identifier"
	ErrorTypeStorage           ErrorType = "storage"
	ErrorTypeConfig            ErrorType = "config"
)

// Sentinels matched with errors.Is. Typed errors wrap them where relevant.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// PageRenderError reports a single page that could not be rasterised.
// Page is 1-based.
type PageRenderError struct {
	Page int
	Err  error
}

func (e *PageRenderError) Error() string {
	return fmt.Sprintf("[%s] failed to render page %d: %v", ErrorTypePageRender, e.Page, e.Err)
}

func (e *PageRenderError) Unwrap() error {
	return e.Err
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func AllocationError(message string, err error) *DomainError {
	return NewError(ErrorTypeAllocation, message, err)
}

func CorruptDocumentError(message string, err error) *DomainError {
	return NewError(ErrorTypeCorruptDocument, message, err)
}

func TransportError(message string, err error) *DomainError {
	return NewError(ErrorTypeTransport, message, err)
}

// RemoteError reports a non-success status from the inference endpoint.
// The body is truncated so a verbose error page does not flood the record.
func RemoteError(statusCode int, body string) *DomainError {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody] + "..."
	}
	return NewError(ErrorTypeRemote, fmt.Sprintf("endpoint returned status %d: %s", statusCode, body), nil)
}

func MalformedResponseError(message string, err error) *DomainError {
	return NewError(ErrorTypeMalformedResponse, message, err)
}

func NotFoundError(message string) *DomainError {
	return NewError(ErrorTypeNotFound, message, ErrNotFound)
}

func DuplicateIdentifierError(id string, err error) *DomainError {
	if err == nil {
		err = ErrDuplicateIdentifier
	} else {
		err = fmt.Errorf("%w: %v", ErrDuplicateIdentifier, err)
	}
	return NewError(ErrorTypeDuplicate, fmt.Sprintf("identifier %s already exists", id), err)
}

func StorageError(message string, err error) *DomainError {
	return NewError(ErrorTypeStorage, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

// TypeOf returns the ErrorType of the first typed error in err's chain, or ""
// when the chain carries none.
func TypeOf(err error) ErrorType {
	var pageErr *PageRenderError
	if errors.As(err, &pageErr) {
		return ErrorTypePageRender
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// IsType reports whether err carries a typed error of kind t.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

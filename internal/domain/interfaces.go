package domain

import "context"

// BlobStore keeps the original uploaded binary under an opaque handle.
type BlobStore interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
}

// Allocator issues human-readable identifiers scoped by entity type.
// Next never fails; when the backing store is unavailable it degrades to a
// timestamp-derived identifier.
type Allocator interface {
	Next(ctx context.Context, entityType string) string
}

// RecordStore persists diagnostic records.
type RecordStore interface {
	Insert(ctx context.Context, record *DiagnosticRecord) (*DiagnosticRecord, error)
	Get(ctx context.Context, id string) (*DiagnosticRecord, error)

	// UpdateStatus applies a targeted update of status plus the fields set in
	// update. It returns false without error when no record has id.
	UpdateStatus(ctx context.Context, id string, status Status, update StatusUpdate) (bool, error)

	NextSequenceNumber(ctx context.Context, ownerReference string) (int, error)
	ListByOwner(ctx context.Context, ownerReference string, limit, offset int) ([]*DiagnosticRecord, int, error)
	LatestForOwner(ctx context.Context, ownerReference string) (*DiagnosticRecord, error)
}

// Renderer turns a document binary into page images in document order.
type Renderer interface {
	Render(ctx context.Context, data []byte, pagePrefix string) ([]PageImage, error)
}

// VisionClient sends page images and an instruction to a remote model and
// returns the raw textual payload.
type VisionClient interface {
	Analyze(ctx context.Context, images []PageImage, instruction string) (string, error)
	Model() string
}

// OwnerDirectory answers whether an owner reference (e.g. a patient) exists.
type OwnerDirectory interface {
	Exists(ctx context.Context, ownerReference string) (bool, error)
}

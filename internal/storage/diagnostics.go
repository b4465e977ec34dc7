package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
)

const diagnosticColumns = `id, owner_reference, sequence_number, status, blob_reference,
	original_filename, file_size, content_type, uploaded_at,
	result, processing_info, created_by, created_at, updated_at`

// DiagnosticRepository implements domain.RecordStore.
type DiagnosticRepository struct {
	db  DB
	now func() time.Time
}

// NewDiagnosticRepository creates a new diagnostic record repository.
func NewDiagnosticRepository(db DB) *DiagnosticRepository {
	return &DiagnosticRepository{db: db, now: time.Now}
}

// Insert stores a new record. Records must be created QUEUED with neither a
// result nor an error detail.
func (r *DiagnosticRepository) Insert(ctx context.Context, record *domain.DiagnosticRecord) (*domain.DiagnosticRecord, error) {
	if record.ID == "" {
		return nil, domain.ValidationError("record id is required", nil)
	}
	if record.Status == "" {
		record.Status = domain.StatusQueued
	}
	if record.Status != domain.StatusQueued {
		return nil, domain.ValidationError(fmt.Sprintf("records are created QUEUED, got %s", record.Status), nil)
	}
	if len(record.Result) > 0 || record.ProcessingInfo.Error != "" {
		return nil, domain.ValidationError("a QUEUED record cannot carry a result or error", nil)
	}

	now := r.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = record.CreatedAt
	if record.PDF.UploadedAt.IsZero() {
		record.PDF.UploadedAt = record.CreatedAt
	}

	info, err := json.Marshal(record.ProcessingInfo)
	if err != nil {
		return nil, domain.StorageError("encode processing info", err)
	}

	query := `
		INSERT INTO diagnostic_records (id, owner_reference, sequence_number, status, blob_reference,
			original_filename, file_size, content_type, uploaded_at,
			result, processing_info, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.OwnerReference, record.SequenceNumber, string(record.Status), record.BlobReference,
		record.PDF.OriginalFilename, record.PDF.FileSize, record.PDF.ContentType, record.PDF.UploadedAt,
		string(info), record.CreatedBy, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.DuplicateIdentifierError(record.ID, err)
		}
		return nil, domain.StorageError("insert diagnostic record", err)
	}
	return record, nil
}

// Get retrieves a record by identifier.
func (r *DiagnosticRepository) Get(ctx context.Context, id string) (*domain.DiagnosticRecord, error) {
	query := `SELECT ` + diagnosticColumns + ` FROM diagnostic_records WHERE id = $1`
	record, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError(fmt.Sprintf("diagnostic %s", id))
	}
	if err != nil {
		return nil, domain.StorageError("get diagnostic record", err)
	}
	return record, nil
}

// UpdateStatus moves a record to status and writes only the fields set in
// update. The write is guarded on the current status so it can only move
// forward. It returns false when no record has id and ErrInvalidTransition
// when the record exists but is not in a predecessor state.
func (r *DiagnosticRepository) UpdateStatus(ctx context.Context, id string, status domain.Status, update domain.StatusUpdate) (bool, error) {
	if err := update.Validate(status); err != nil {
		return false, err
	}

	// sqlite3 binds $N by first appearance, so placeholders must be numbered
	// in the order they occur in the statement.
	args := []interface{}{string(status), r.now().UTC()}
	sets := []string{"status = $1", "updated_at = $2"}

	if update.Result != nil {
		data, err := json.Marshal(update.Result)
		if err != nil {
			return false, domain.StorageError("encode result", err)
		}
		args = append(args, string(data))
		sets = append(sets, fmt.Sprintf("result = $%d", len(args)))
	}
	if update.ProcessingInfo != nil {
		data, err := json.Marshal(update.ProcessingInfo)
		if err != nil {
			return false, domain.StorageError("encode processing info", err)
		}
		args = append(args, string(data))
		sets = append(sets, fmt.Sprintf("processing_info = $%d", len(args)))
	}

	args = append(args, id)
	idPlaceholder := fmt.Sprintf("$%d", len(args))

	preds := status.Predecessors()
	placeholders := make([]string, 0, len(preds))
	for _, p := range preds {
		args = append(args, string(p))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(
		"UPDATE diagnostic_records SET %s WHERE id = %s AND status IN (%s)",
		strings.Join(sets, ", "), idPlaceholder, strings.Join(placeholders, ", "),
	)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, domain.StorageError("update diagnostic status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.StorageError("update diagnostic status", err)
	}
	if affected > 0 {
		return true, nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM diagnostic_records WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.StorageError("read diagnostic status", err)
	}
	return false, domain.NewError(domain.ErrorTypeValidation,
		fmt.Sprintf("diagnostic %s cannot move from %s to %s", id, current, status),
		domain.ErrInvalidTransition)
}

// NextSequenceNumber returns one more than the highest sequence number held
// by owner, or 1 for an owner with no records.
func (r *DiagnosticRepository) NextSequenceNumber(ctx context.Context, ownerReference string) (int, error) {
	query := `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM diagnostic_records WHERE owner_reference = $1`
	var next int
	if err := r.db.QueryRowContext(ctx, query, ownerReference).Scan(&next); err != nil {
		return 0, domain.StorageError("compute sequence number", err)
	}
	return next, nil
}

// CountForOwner returns how many records owner has.
func (r *DiagnosticRepository) CountForOwner(ctx context.Context, ownerReference string) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM diagnostic_records WHERE owner_reference = $1`, ownerReference,
	).Scan(&total)
	if err != nil {
		return 0, domain.StorageError("count diagnostic records", err)
	}
	return total, nil
}

// ListByOwner returns one page of owner's records, newest first, together
// with the owner's total record count.
func (r *DiagnosticRepository) ListByOwner(ctx context.Context, ownerReference string, limit, offset int) ([]*domain.DiagnosticRecord, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	total, err := r.CountForOwner(ctx, ownerReference)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + diagnosticColumns + `
		FROM diagnostic_records
		WHERE owner_reference = $1
		ORDER BY sequence_number DESC, created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, ownerReference, limit, offset)
	if err != nil {
		return nil, 0, domain.StorageError("list diagnostic records", err)
	}
	defer rows.Close()

	records := make([]*domain.DiagnosticRecord, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, domain.StorageError("scan diagnostic record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.StorageError("list diagnostic records", err)
	}
	return records, total, nil
}

// LatestForOwner returns owner's record with the highest sequence number.
func (r *DiagnosticRepository) LatestForOwner(ctx context.Context, ownerReference string) (*domain.DiagnosticRecord, error) {
	query := `SELECT ` + diagnosticColumns + `
		FROM diagnostic_records
		WHERE owner_reference = $1
		ORDER BY sequence_number DESC, created_at DESC
		LIMIT 1`
	record, err := scanRecord(r.db.QueryRowContext(ctx, query, ownerReference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError(fmt.Sprintf("no diagnostics for %s", ownerReference))
	}
	if err != nil {
		return nil, domain.StorageError("get latest diagnostic record", err)
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*domain.DiagnosticRecord, error) {
	var (
		record domain.DiagnosticRecord
		status string
		result []byte
		info   []byte
	)
	err := row.Scan(
		&record.ID, &record.OwnerReference, &record.SequenceNumber, &status, &record.BlobReference,
		&record.PDF.OriginalFilename, &record.PDF.FileSize, &record.PDF.ContentType, &record.PDF.UploadedAt,
		&result, &info, &record.CreatedBy, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Status = domain.Status(status)

	if len(result) > 0 {
		if err := json.Unmarshal(result, &record.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &record.ProcessingInfo); err != nil {
			return nil, fmt.Errorf("decode processing info: %w", err)
		}
	}
	return &record, nil
}

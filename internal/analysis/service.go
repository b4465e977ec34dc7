// Package analysis accepts diagnostic documents and runs their analysis in
// the background.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vetlab/bloodwork-analyzer/internal/cache"
	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/llm"
	"github.com/vetlab/bloodwork-analyzer/internal/metrics"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
)

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("analysis service is shutting down")

const acceptedMessage = "PDF uploaded successfully. Analysis is in progress."

// Failure kinds that have no domain error type. Transport failures are only
// reported by the vision client.
const (
	failureCancelled domain.ErrorType = "cancelled"
	failureInternal  domain.ErrorType = "internal"
)

// UploadValidator checks an upload before anything is stored.
type UploadValidator interface {
	ValidateUpload(upload domain.Upload) error
}

// Dependencies are the collaborators of the Service. Owners, Cache and
// Metrics are optional.
type Dependencies struct {
	Allocator domain.Allocator
	Records   domain.RecordStore
	Blobs     domain.BlobStore
	Renderer  domain.Renderer
	Vision    domain.VisionClient
	Validator UploadValidator
	Owners    domain.OwnerDirectory
	Cache     cache.Client
	Metrics   *metrics.Metrics
	Logger    *observability.Logger
}

// Options tune the background run.
type Options struct {
	Instruction       string
	MaxConcurrent     int64
	AllowPartialPages bool
	CacheTTL          time.Duration
}

// SubmitResult is returned to the caller as soon as the record is queued.
type SubmitResult struct {
	ID      string        `json:"diagnostic_id"`
	Status  domain.Status `json:"status"`
	Message string        `json:"message"`
}

// ResultView is a record as seen by a poller. Ready is false until the
// record reaches a terminal state.
type ResultView struct {
	Record *domain.DiagnosticRecord
	Ready  bool
}

// Service accepts documents and analyses them asynchronously.
type Service struct {
	deps   Dependencies
	opts   Options
	logger *observability.Logger
	now    func() time.Time

	renderSlots *semaphore.Weighted
	ownerLocks  *keyedMutex

	// root outlives every request; background runs derive from it.
	root   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closing bool
	tasks   sync.WaitGroup
}

// NewService wires a Service. Required dependencies are checked here so a
// misconfiguration fails at startup.
func NewService(deps Dependencies, opts Options) (*Service, error) {
	switch {
	case deps.Allocator == nil:
		return nil, domain.ConfigError("allocator is required", nil)
	case deps.Records == nil:
		return nil, domain.ConfigError("record store is required", nil)
	case deps.Blobs == nil:
		return nil, domain.ConfigError("blob store is required", nil)
	case deps.Renderer == nil:
		return nil, domain.ConfigError("renderer is required", nil)
	case deps.Vision == nil:
		return nil, domain.ConfigError("vision client is required", nil)
	case deps.Validator == nil:
		return nil, domain.ConfigError("upload validator is required", nil)
	}

	if deps.Logger == nil {
		deps.Logger = observability.Nop()
	}
	if opts.Instruction == "" {
		opts.Instruction = llm.DefaultInstruction
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}

	root, cancel := context.WithCancel(context.Background())

	return &Service{
		deps:        deps,
		opts:        opts,
		logger:      deps.Logger.WithComponent("analysis"),
		now:         time.Now,
		renderSlots: semaphore.NewWeighted(opts.MaxConcurrent),
		ownerLocks:  newKeyedMutex(),
		root:        root,
		cancel:      cancel,
	}, nil
}

// Submit stores the upload, creates a QUEUED record and schedules the
// analysis. It returns without waiting for the analysis.
func (s *Service) Submit(ctx context.Context, upload domain.Upload, ownerRef string, principal domain.Principal) (*SubmitResult, error) {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return nil, ErrShuttingDown
	}

	ownerRef = strings.TrimSpace(ownerRef)
	if ownerRef == "" {
		return nil, domain.ValidationError("patient reference is required", nil)
	}
	if principal == nil || principal.Identifier() == "" {
		return nil, domain.ValidationError("principal is required", nil)
	}
	if err := s.deps.Validator.ValidateUpload(upload); err != nil {
		return nil, err
	}

	if s.deps.Owners != nil {
		ok, err := s.deps.Owners.Exists(ctx, ownerRef)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.NotFoundError(fmt.Sprintf("patient %s not found", ownerRef))
		}
	}

	uploadedAt := s.now().UTC()
	handle, err := s.deps.Blobs.Put(ctx, upload.Data, upload.ContentType)
	if err != nil {
		return nil, err
	}

	id := s.deps.Allocator.Next(ctx, domain.EntityDiagnostic)

	record, err := s.insertQueued(ctx, &domain.DiagnosticRecord{
		ID:             id,
		OwnerReference: ownerRef,
		Status:         domain.StatusQueued,
		BlobReference:  handle,
		PDF: domain.PDFMetadata{
			OriginalFilename: upload.Filename,
			FileSize:         int64(len(upload.Data)),
			ContentType:      upload.ContentType,
			UploadedAt:       uploadedAt,
		},
		CreatedBy: principal.Identifier(),
	})
	if err != nil {
		if delErr := s.deps.Blobs.Delete(context.WithoutCancel(ctx), handle); delErr != nil {
			s.logger.Warn().Str("blob_reference", handle).Err(delErr).Msg("Failed to remove orphaned upload")
		}
		return nil, err
	}

	s.deps.Metrics.Submitted()
	s.logger.Info().
		Str("diagnostic_id", record.ID).
		Str("patient_id", ownerRef).
		Int("sequence_number", record.SequenceNumber).
		Str("created_by", record.CreatedBy).
		Msg("Diagnostic queued")

	if !s.schedule(record.ID) {
		// Shutdown started after the record was written; the outcome is
		// recorded on it like any other failure.
		s.fail(record.ID, uploadedAt, ErrShuttingDown, s.logger.WithDiagnostic(record.ID))
		return &SubmitResult{ID: record.ID, Status: domain.StatusFailed, Message: ErrShuttingDown.Error()}, nil
	}

	return &SubmitResult{ID: record.ID, Status: domain.StatusQueued, Message: acceptedMessage}, nil
}

// insertQueued assigns the per-owner sequence number and inserts the record
// while holding the owner's lock.
func (s *Service) insertQueued(ctx context.Context, record *domain.DiagnosticRecord) (*domain.DiagnosticRecord, error) {
	unlock := s.ownerLocks.Lock(record.OwnerReference)
	defer unlock()

	seq, err := s.deps.Records.NextSequenceNumber(ctx, record.OwnerReference)
	if err != nil {
		return nil, err
	}
	record.SequenceNumber = seq

	return s.deps.Records.Insert(ctx, record)
}

func (s *Service) schedule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.process(s.root, id)
	}()
	return true
}

// process runs one analysis to a terminal state. It never returns an error;
// every failure is recorded on the record.
func (s *Service) process(ctx context.Context, id string) {
	logger := s.logger.WithDiagnostic(id)
	started := s.now().UTC()

	s.deps.Metrics.Started()
	status := domain.StatusFailed
	defer func() {
		s.deps.Metrics.Finished(string(status), s.now().Sub(started).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("Analysis panicked")
			status = domain.StatusFailed
			s.fail(id, started, domain.NewError(failureInternal, fmt.Sprintf("panic: %v", r), nil), logger)
		}
	}()

	ok, err := s.deps.Records.UpdateStatus(ctx, id, domain.StatusProcessing, domain.StatusUpdate{
		ProcessingInfo: &domain.ProcessingInfo{StartedAt: &started},
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to mark diagnostic as processing")
		s.fail(id, started, err, logger)
		return
	}
	if !ok {
		logger.Warn().Msg("Diagnostic disappeared before processing")
		return
	}

	info, result, err := s.analyze(ctx, id, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Analysis failed")
		s.fail(id, started, err, logger)
		return
	}

	finished := s.now().UTC()
	info.StartedAt = &started
	info.FinishedAt = &finished
	info.ProcessingTimeMs = finished.Sub(started).Milliseconds()

	if _, err := s.deps.Records.UpdateStatus(ctx, id, domain.StatusCompleted, domain.StatusUpdate{
		Result:         result,
		ProcessingInfo: info,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to store analysis result")
		s.fail(id, started, err, logger)
		return
	}

	status = domain.StatusCompleted
	logger.Info().
		Int("pages", info.PageCount).
		Int64("processing_time_ms", info.ProcessingTimeMs).
		Str("model", info.ModelVersion).
		Msg("Analysis completed")
}

// analyze loads the document, renders it and asks the model for a result.
func (s *Service) analyze(ctx context.Context, id string, logger *observability.Logger) (*domain.ProcessingInfo, map[string]any, error) {
	record, err := s.deps.Records.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	data, err := s.deps.Blobs.Get(ctx, record.BlobReference)
	if err != nil {
		return nil, nil, err
	}

	images, err := s.render(ctx, data, id)
	if err != nil {
		if len(images) == 0 || !s.opts.AllowPartialPages {
			return nil, nil, err
		}
		logger.Warn().Err(err).Int("rendered", len(images)).Msg("Continuing with partially rendered document")
	}
	s.deps.Metrics.PagesRendered(len(images))
	logger.Debug().Int("pages", len(images)).Msg("Document rendered")

	payload, err := s.deps.Vision.Analyze(ctx, images, s.opts.Instruction)
	if err != nil {
		return nil, nil, err
	}

	result, err := llm.ParseResult(payload)
	if err != nil {
		return nil, nil, err
	}

	return &domain.ProcessingInfo{
		ModelVersion: s.deps.Vision.Model(),
		PageCount:    len(images),
	}, llm.CleanResponse(result), nil
}

func (s *Service) render(ctx context.Context, data []byte, prefix string) ([]domain.PageImage, error) {
	if err := s.renderSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.renderSlots.Release(1)

	return s.deps.Renderer.Render(ctx, data, prefix)
}

// fail records err on the record. The write uses a context detached from
// cancellation so a shutdown still leaves a terminal state when possible.
func (s *Service) fail(id string, started time.Time, cause error, logger *observability.Logger) {
	failedAt := s.now().UTC()
	info := &domain.ProcessingInfo{
		Error:            FailureDetail(cause),
		StartedAt:        &started,
		FailedAt:         &failedAt,
		ProcessingTimeMs: failedAt.Sub(started).Milliseconds(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.root), 10*time.Second)
	defer cancel()

	if _, err := s.deps.Records.UpdateStatus(ctx, id, domain.StatusFailed, domain.StatusUpdate{ProcessingInfo: info}); err != nil {
		logger.Error().Err(err).Msg("Failed to record analysis failure")
	}
}

// FailureDetail renders err as "<kind>: <detail>" for storage on a failed
// record.
func FailureDetail(err error) string {
	kind := domain.TypeOf(err)
	switch {
	case kind == "" && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, ErrShuttingDown)):
		kind = failureCancelled
	case kind == "":
		kind = failureInternal
	}
	msg := strings.ReplaceAll(err.Error(), "["+string(kind)+"] ", "")
	return fmt.Sprintf("%s: %s", kind, msg)
}

// GetResult returns the record for id. Terminal records are served from the
// cache when possible.
func (s *Service) GetResult(ctx context.Context, id string) (*ResultView, error) {
	if rec := s.cached(ctx, id); rec != nil {
		return &ResultView{Record: rec, Ready: true}, nil
	}

	rec, err := s.deps.Records.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !rec.Status.IsTerminal() {
		return &ResultView{Record: rec, Ready: false}, nil
	}

	s.store(ctx, rec)
	return &ResultView{Record: rec, Ready: true}, nil
}

func (s *Service) cached(ctx context.Context, id string) *domain.DiagnosticRecord {
	if s.deps.Cache == nil {
		return nil
	}
	raw, err := s.deps.Cache.Get(ctx, cache.DiagnosticKey(id))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Str("diagnostic_id", id).Err(err).Msg("Result cache read failed")
		}
		return nil
	}
	var rec domain.DiagnosticRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn().Str("diagnostic_id", id).Err(err).Msg("Discarding undecodable cache entry")
		return nil
	}
	return &rec
}

func (s *Service) store(ctx context.Context, rec *domain.DiagnosticRecord) {
	if s.deps.Cache == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.deps.Cache.Set(ctx, cache.DiagnosticKey(rec.ID), raw, s.opts.CacheTTL); err != nil {
		s.logger.Warn().Str("diagnostic_id", rec.ID).Err(err).Msg("Result cache write failed")
	}
}

// ListForOwner returns one page of an owner's diagnostics, newest first,
// together with the owner's total.
func (s *Service) ListForOwner(ctx context.Context, ownerRef string, limit, offset int) ([]*domain.DiagnosticRecord, int, error) {
	if limit < 0 || offset < 0 {
		return nil, 0, domain.ValidationError("limit and offset must not be negative", nil)
	}
	return s.deps.Records.ListByOwner(ctx, ownerRef, limit, offset)
}

// LatestForOwner returns the owner's most recent diagnostic.
func (s *Service) LatestForOwner(ctx context.Context, ownerRef string) (*domain.DiagnosticRecord, error) {
	return s.deps.Records.LatestForOwner(ctx, ownerRef)
}

// Shutdown stops accepting submissions and waits for running analyses. When
// ctx expires first the remaining runs are cancelled; their records keep the
// last state that was written.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

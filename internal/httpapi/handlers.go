package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vetlab/bloodwork-analyzer/internal/analysis"
	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
)

const notReadyMessage = "Result not ready yet. Try again later."

// Handler serves the diagnostic analysis endpoints.
type Handler struct {
	logger         *observability.Logger
	svc            Analyzer
	maxUploadBytes int64
}

// PendingDTO is returned while a diagnostic is still being analysed.
type PendingDTO struct {
	ID      string        `json:"diagnostic_id"`
	Status  domain.Status `json:"status"`
	Message string        `json:"message"`
}

// DiagnosticListDTO is one page of an owner's diagnostics.
type DiagnosticListDTO struct {
	PatientID   string                     `json:"patient_id"`
	Diagnostics []*domain.DiagnosticRecord `json:"diagnostics"`
	Total       int                        `json:"total"`
	Limit       int                        `json:"limit"`
	Offset      int                        `json:"offset"`
}

// SubmitAnalysis handles POST /api/v1/pdf_analysis.
func (h *Handler) SubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := PrincipalFrom(ctx)

	if h.maxUploadBytes > 0 {
		// multipart framing needs some room on top of the file itself
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "file is required", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file", err.Error())
		return
	}

	patientID := r.FormValue("patient_id")

	h.logger.WithContext(ctx).Info().
		Str("filename", header.Filename).
		Str("patient_id", patientID).
		Int("size", len(data)).
		Msg("Received PDF analysis request")

	res, err := h.svc.Submit(ctx, domain.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, patientID, principal)
	if err != nil {
		h.writeServiceError(w, r, "submission failed", err)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

// GetAnalysisResult handles GET /api/v1/pdf_analysis_result/{id}.
func (h *Handler) GetAnalysisResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.svc.GetResult(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "lookup failed", err)
		return
	}

	if !view.Ready {
		writeJSON(w, http.StatusAccepted, PendingDTO{
			ID:      view.Record.ID,
			Status:  view.Record.Status,
			Message: notReadyMessage,
		})
		return
	}

	writeJSON(w, http.StatusOK, view.Record)
}

// ListDiagnostics handles GET /api/v1/patients/{patientId}/diagnostics.
func (h *Handler) ListDiagnostics(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientId")

	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset", err.Error())
		return
	}

	records, total, err := h.svc.ListForOwner(r.Context(), patientID, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, "list failed", err)
		return
	}
	if records == nil {
		records = []*domain.DiagnosticRecord{}
	}

	writeJSON(w, http.StatusOK, DiagnosticListDTO{
		PatientID:   patientID,
		Diagnostics: records,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

// LatestDiagnostic handles GET /api/v1/patients/{patientId}/diagnostics/latest.
func (h *Handler) LatestDiagnostic(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.LatestForOwner(r.Context(), chi.URLParam(r, "patientId"))
	if err != nil {
		h.writeServiceError(w, r, "lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writeServiceError maps a service error to its HTTP status.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err.Error())
}

func statusFor(err error) int {
	if errors.Is(err, analysis.ErrShuttingDown) {
		return http.StatusServiceUnavailable
	}
	switch domain.TypeOf(err) {
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeNotFound:
		return http.StatusNotFound
	case domain.ErrorTypeDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

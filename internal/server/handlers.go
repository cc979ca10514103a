package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/scanning"
	"github.com/zombor/expense-tracker/internal/source"
)

const (
	// maxUploadSize allows high-resolution phone photos
	maxUploadSize = int64(50 << 20)
	maxTextBody   = int64(64 << 10)
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

type recordResponse struct {
	ID          uint64    `json:"id"`
	Date        string    `json:"date"`
	Vendor      string    `json:"vendor"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	Source      string    `json:"source"`
	Notes       string    `json:"notes,omitempty"`
	OriginID    string    `json:"origin_id,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

func toRecordResponse(r *expense.ExpenseRecord) *recordResponse {
	if r == nil {
		return nil
	}
	return &recordResponse{
		ID:          r.ID,
		Date:        r.Date.Format(time.DateOnly),
		Vendor:      r.Vendor,
		Amount:      r.AmountString(),
		Currency:    r.Currency,
		Category:    r.Category,
		Source:      string(r.Source),
		Notes:       r.Notes,
		OriginID:    r.OriginID,
		Fingerprint: r.Fingerprint(),
		CreatedAt:   r.CreatedAt,
	}
}

type outcomeResponse struct {
	Status    expense.Status  `json:"status"`
	Record    *recordResponse `json:"record,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Field     expense.Field   `json:"field,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

func toOutcomeResponse(o expense.Outcome) outcomeResponse {
	return outcomeResponse{
		Status:    o.Status,
		Record:    toRecordResponse(o.Record),
		Reason:    o.Reason(),
		Field:     o.Field(),
		Retryable: o.Retryable(),
	}
}

type messageResponse struct {
	OriginID string         `json:"origin_id,omitempty"`
	Subject  string         `json:"subject,omitempty"`
	Status   expense.Status `json:"status"`
	Reason   string         `json:"reason,omitempty"`
}

type pullResponse struct {
	RunID            string            `json:"run_id"`
	Query            string            `json:"query"`
	Checked          int               `json:"checked"`
	Persisted        int               `json:"persisted"`
	Duplicates       int               `json:"duplicates"`
	AlreadyProcessed int               `json:"already_processed"`
	Rejected         int               `json:"rejected"`
	Messages         []messageResponse `json:"messages"`
}

func toPullResponse(s *source.PullSummary) pullResponse {
	resp := pullResponse{
		RunID:            s.RunID,
		Query:            s.Query,
		Checked:          s.Checked,
		Persisted:        s.Persisted,
		Duplicates:       s.Duplicates,
		AlreadyProcessed: s.AlreadyProcessed,
		Rejected:         s.Rejected,
		Messages:         make([]messageResponse, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		resp.Messages = append(resp.Messages, messageResponse{
			OriginID: m.OriginID,
			Subject:  m.Subject,
			Status:   m.Outcome.Status,
			Reason:   m.Outcome.Reason(),
		})
	}
	return resp
}

// OutcomeHTTPStatus maps a submission outcome to a response code
func OutcomeHTTPStatus(o expense.Outcome) int {
	switch o.Status {
	case expense.StatusPersisted:
		return http.StatusCreated
	case expense.StatusDuplicate, expense.StatusAlreadyProcessed:
		return http.StatusOK
	}

	var (
		aerr *expense.AdapterError
		nerr *expense.NormalizationError
		verr *expense.ValidationError
	)
	switch {
	case errors.Is(o.Err, scanning.ErrInferenceTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(o.Err, scanning.ErrInference):
		return http.StatusBadGateway
	case errors.As(o.Err, &aerr), errors.As(o.Err, &nerr), errors.As(o.Err, &verr),
		errors.Is(o.Err, expense.ErrNotExpense):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// MapHTTPStatus maps query and pull errors to response codes
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, expense.ErrNotFound), errors.Is(err, ErrNoImage):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrPullInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrPullDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := MapHTTPStatus(err)
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		writeError(w, "Internal server error", code)
		return
	}
	writeError(w, err.Error(), code)
}

// handleSubmitText accepts {"text": "..."}
func (s *Server) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextBody)).Decode(&req); err != nil {
		writeError(w, "Request body must be JSON with a text field", http.StatusBadRequest)
		return
	}

	outcome := s.service.SubmitText(r.Context(), req.Text)
	writeJSON(w, OutcomeHTTPStatus(outcome), toOutcomeResponse(outcome))
}

// handleSubmitImage accepts a multipart upload in the "file" field
func (s *Server) handleSubmitImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(header.Filename)
	}

	outcome := s.service.SubmitImage(r.Context(), data, contentType)
	writeJSON(w, OutcomeHTTPStatus(outcome), toOutcomeResponse(outcome))
}

// handlePullEmail runs one email pull and reports its summary
func (s *Server) handlePullEmail(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.PullEmail(r.Context())
	if err != nil && summary == nil {
		writeServiceError(w, err)
		return
	}
	if err != nil {
		slog.Warn("Email pull ended early", "error", err)
	}
	writeJSON(w, http.StatusOK, toPullResponse(summary))
}

// handleListExpenses lists expenses, filtered by month, vendor or category
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records, err := s.service.ListExpenses(ExpenseQuery{
		Month:    q.Get("month"),
		Vendor:   q.Get("vendor"),
		Category: q.Get("category"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]*recordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	record, err := s.service.GetExpense(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(record))
}

// handleGetReceiptImage returns the archived upload of an expense
func (s *Server) handleGetReceiptImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	data, contentType, err := s.service.ReceiptImage(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, "Expense ID must be a positive number", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

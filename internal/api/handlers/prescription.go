// Package handlers provides HTTP handlers for the lifecycle API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/api/middleware"
	"github.com/careloop/rx-engine/internal/domain/confidence"
	"github.com/careloop/rx-engine/internal/domain/prescription"
	"github.com/careloop/rx-engine/internal/intake"
	"github.com/careloop/rx-engine/internal/lifecycle"
	"github.com/careloop/rx-engine/internal/observability/metrics"
)

// PrescriptionHandler exposes the prescription lifecycle over HTTP.
type PrescriptionHandler struct {
	repo            *prescription.Repository
	validator       *lifecycle.Validator
	service         *lifecycle.Service
	parser          *intake.Parser
	reviewThreshold int
	metrics         *metrics.Metrics
	logger          *zap.Logger
}

// NewPrescriptionHandler creates a new handler.
func NewPrescriptionHandler(repo *prescription.Repository, validator *lifecycle.Validator, service *lifecycle.Service, parser *intake.Parser, reviewThreshold int, m *metrics.Metrics, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{
		repo:            repo,
		validator:       validator,
		service:         service,
		parser:          parser,
		reviewThreshold: reviewThreshold,
		metrics:         m,
		logger:          logger,
	}
}

// Routes returns the handler routes.
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/validate", h.Validate)
	r.Put("/{id}/approve", h.Approve)
	r.Put("/{id}/reject", h.Reject)
	r.Post("/{id}/request-clarification", h.RequestClarification)
	return r
}

// ItemInput is one medication line supplied directly by the client.
type ItemInput struct {
	MedicationName      string `json:"medicationName"`
	Dosage              string `json:"dosage"`
	Frequency           string `json:"frequency"`
	Duration            string `json:"duration,omitempty"`
	Quantity            *int   `json:"quantity,omitempty"`
	NameConfidence      *int   `json:"nameConfidence,omitempty"`
	DosageConfidence    *int   `json:"dosageConfidence,omitempty"`
	FrequencyConfidence *int   `json:"frequencyConfidence,omitempty"`
}

// CreateRequest is the request body for creating a prescription. Items can
// be supplied directly or extracted from OCR lines; direct items win when
// both are present.
type CreateRequest struct {
	PharmacyID string           `json:"pharmacyId"`
	PatientID  string           `json:"patientId"`
	DoctorID   *string          `json:"doctorId,omitempty"`
	ImageURL   string           `json:"imageUrl,omitempty"`
	ExpiryDate *time.Time       `json:"expiryDate,omitempty"`
	Items      []ItemInput      `json:"items,omitempty"`
	OCRLines   []intake.OCRLine `json:"ocrLines,omitempty"`
}

// CreateResponse is the response for creating a prescription.
type CreateResponse struct {
	ID                  string     `json:"id"`
	Status              string     `json:"status"`
	TranscriptionStatus string     `json:"transcriptionStatus"`
	AIConfidenceScore   *int       `json:"aiConfidenceScore,omitempty"`
	ItemCount           int        `json:"itemCount"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// Create handles POST /prescriptions.
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prescription-handler")
	ctx, span := tracer.Start(ctx, "create_prescription")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeCode(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PharmacyID == "" || req.PatientID == "" {
		h.writeCode(w, "MISSING_FIELDS", "pharmacyId and patientId are required", http.StatusBadRequest)
		return
	}

	prescriptionID := uuid.New().String()
	span.SetAttributes(attribute.String("prescription_id", prescriptionID))

	items := h.buildItems(prescriptionID, &req)
	if len(items) == 0 {
		h.writeCode(w, "NO_ITEMS", "no medication items supplied or extractable", http.StatusBadRequest)
		return
	}

	var confidences []*int
	for i := range items {
		confidences = append(confidences,
			items[i].NameConfidence, items[i].DosageConfidence, items[i].FrequencyConfidence)
	}
	score := confidence.Aggregate(confidences)

	p := &prescription.Prescription{
		ID:                prescriptionID,
		PharmacyID:        req.PharmacyID,
		PatientID:         req.PatientID,
		DoctorID:          req.DoctorID,
		ImageURL:          req.ImageURL,
		Status:            prescription.StatusPending,
		AIConfidenceScore: score,
		ExpiryDate:        req.ExpiryDate,
		Items:             items,
	}

	if err := h.repo.Create(ctx, p); err != nil {
		h.logger.Error("create failed", zap.Error(err))
		h.writeCode(w, "INTERNAL_ERROR", "failed to create prescription", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.PrescriptionsCreated.Inc()
	}
	h.logger.Info("prescription created",
		zap.String("id", prescriptionID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Int("items", len(items)),
	)

	resp := CreateResponse{
		ID:                  prescriptionID,
		Status:              string(p.Status),
		TranscriptionStatus: string(confidence.Classify(score, h.reviewThreshold)),
		AIConfidenceScore:   score,
		ItemCount:           len(items),
		CreatedAt:           p.CreatedAt,
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *PrescriptionHandler) buildItems(prescriptionID string, req *CreateRequest) []prescription.Item {
	var items []prescription.Item

	if len(req.Items) > 0 {
		for _, in := range req.Items {
			if in.MedicationName == "" {
				continue
			}
			items = append(items, prescription.Item{
				ID:                  uuid.New().String(),
				PrescriptionID:      prescriptionID,
				MedicationName:      in.MedicationName,
				Dosage:              in.Dosage,
				Frequency:           in.Frequency,
				Duration:            in.Duration,
				Quantity:            in.Quantity,
				NameConfidence:      in.NameConfidence,
				DosageConfidence:    in.DosageConfidence,
				FrequencyConfidence: in.FrequencyConfidence,
			})
		}
		return items
	}

	for _, med := range h.parser.Parse(req.OCRLines) {
		nameConf, dosageConf, freqConf := med.NameConfidence, med.DosageConfidence, med.FrequencyConfidence
		items = append(items, prescription.Item{
			ID:                  uuid.New().String(),
			PrescriptionID:      prescriptionID,
			MedicationName:      med.Name,
			Dosage:              med.Dosage,
			Frequency:           med.Frequency,
			Duration:            med.Duration,
			NameConfidence:      &nameConf,
			DosageConfidence:    &dosageConf,
			FrequencyConfidence: &freqConf,
		})
	}
	return items
}

// Get handles GET /prescriptions/{id}.
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	p, err := h.repo.GetWithItems(ctx, id)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			h.writeCode(w, "PRESCRIPTION_NOT_FOUND", "prescription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load failed", zap.String("id", id), zap.Error(err))
		h.writeCode(w, "INTERNAL_ERROR", "failed to load prescription", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, p)
}

// Validate handles POST /prescriptions/{id}/validate.
func (h *PrescriptionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	outcome, err := h.validator.Validate(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, outcome)
}

// ApproveResponse is the response for a successful approval.
type ApproveResponse struct {
	Status               string     `json:"status"`
	ApprovedAt           *time.Time `json:"approvedAt"`
	ApprovedBy           *string    `json:"approvedBy"`
	CorrectionsRecorded  int        `json:"correctionsRecorded"`
	TreatmentPlanCreated bool       `json:"treatmentPlanCreated"`
	TreatmentPlanID      *string    `json:"treatmentPlanId,omitempty"`
}

// Approve handles PUT /prescriptions/{id}/approve.
func (h *PrescriptionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req lifecycle.ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeCode(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Approve(ctx, id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := ApproveResponse{
		Status:               string(result.Prescription.Status),
		ApprovedAt:           result.Prescription.ApprovedAt,
		ApprovedBy:           result.Prescription.ApprovedByPharmacistID,
		CorrectionsRecorded:  result.Corrections,
		TreatmentPlanCreated: result.TreatmentPlan != nil,
		TreatmentPlanID:      result.Prescription.TreatmentPlanID,
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// RejectResponse is the response for a successful rejection.
type RejectResponse struct {
	Status            string     `json:"status"`
	RejectionReason   string     `json:"rejectionReason"`
	RejectedAt        *time.Time `json:"rejectedAt"`
	RejectedBy        *string    `json:"rejectedBy"`
	NotificationsSent []string   `json:"notificationsSent"`
}

// Reject handles PUT /prescriptions/{id}/reject.
func (h *PrescriptionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req lifecycle.RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeCode(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Reject(ctx, id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := RejectResponse{
		Status:            string(result.Prescription.Status),
		RejectionReason:   result.Prescription.RejectionReason,
		RejectedAt:        result.Prescription.RejectedAt,
		RejectedBy:        result.Prescription.PharmacistID,
		NotificationsSent: result.NotificationsSent,
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ClarifyResponse is the response for a successful clarification request.
type ClarifyResponse struct {
	ClarificationID string `json:"clarificationId"`
	Status          string `json:"status"`
	DoctorID        string `json:"doctorId"`
}

// RequestClarification handles POST /prescriptions/{id}/request-clarification.
func (h *PrescriptionHandler) RequestClarification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req lifecycle.ClarifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeCode(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.RequestClarification(ctx, id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := ClarifyResponse{
		ClarificationID: result.Clarification.ID,
		Status:          string(result.Prescription.Status),
		DoctorID:        result.Clarification.DoctorID,
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *PrescriptionHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders lifecycle errors with their code and status; anything
// else becomes a generic 500.
func (h *PrescriptionHandler) writeError(w http.ResponseWriter, err error) {
	if e, ok := lifecycle.AsError(err); ok {
		h.writeJSON(w, e.Status, map[string]interface{}{"error": e})
		return
	}
	h.logger.Error("unhandled error", zap.Error(err))
	h.writeCode(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
}

func (h *PrescriptionHandler) writeCode(w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}

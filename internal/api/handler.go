package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"PulseCampaign/internal/campaign"
	"PulseCampaign/internal/config"
	"PulseCampaign/internal/csvparser"
	"PulseCampaign/internal/email"
	"PulseCampaign/internal/models"
)

const (
	maxUploadBytes  = 10 << 20
	maxRequestBytes = 25 << 20

	defaultAttachmentType = "application/octet-stream"
)

// Campaigns is the part of the campaign engine the API needs.
type Campaigns interface {
	Init(ctx context.Context, p campaign.InitParams) error
	Status(ctx context.Context, id string) (models.StatusView, error)
}

type Handler struct {
	Campaigns Campaigns
	Sender    email.Dispatcher
	Config    *config.Config
	Log       *zap.Logger

	// MaxBodyBytes caps JSON request bodies. Zero means 25 MiB.
	MaxBodyBytes int64
}

// Routes mounts every endpoint on a chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/send-email", h.SendEmail)
		r.Post("/upload-recipients", h.UploadRecipients)
		r.Post("/send-bulk", h.SendBulk)
		r.Get("/bulk-status/{jobID}", h.BulkStatus)
	})

	return r
}

type bulkRequest struct {
	Recipients        []models.Recipient  `json:"recipients"`
	Subject           string              `json:"subject"`
	HTMLContent       string              `json:"html_content"`
	Interval          *int                `json:"interval"`
	FromEmailTemplate string              `json:"from_email_template"`
	FromNameTemplate  string              `json:"from_name_template"`
	Attachments       []attachmentRequest `json:"attachments"`
}

// attachmentRequest mirrors the SMTP2GO attachment shape. Fileblob is
// base64 encoded.
type attachmentRequest struct {
	Filename string `json:"filename"`
	Fileblob []byte `json:"fileblob"`
	MIMEType string `json:"mimetype"`
}

// SendBulk validates a campaign request and starts the job.
func (h *Handler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !h.decode(w, r, &req) {
		return
	}

	var missing []string
	if len(req.Recipients) == 0 {
		missing = append(missing, "Recipients data")
	}
	if strings.TrimSpace(req.Subject) == "" {
		missing = append(missing, "Subject template")
	}
	if strings.TrimSpace(req.HTMLContent) == "" {
		missing = append(missing, "Content template")
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", ")+".")
		return
	}

	if n := len(req.Recipients); n > h.Config.MaxRecipients {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Recipient count (%d) exceeds limit (%d).", n, h.Config.MaxRecipients))
		return
	}

	interval := h.Config.DefaultInterval
	if req.Interval != nil {
		interval = h.Config.ClampInterval(*req.Interval)
	}

	jobID := "bulk-" + uuid.NewString()
	err := h.Campaigns.Init(r.Context(), campaign.InitParams{
		ID:                jobID,
		Recipients:        req.Recipients,
		SubjectTemplate:   req.Subject,
		BodyTemplate:      req.HTMLContent,
		IntervalSeconds:   interval,
		FromEmailTemplate: strings.TrimSpace(req.FromEmailTemplate),
		FromNameTemplate:  strings.TrimSpace(req.FromNameTemplate),
		Attachments:       h.attachments(req.Attachments),
	})
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, models.ErrJobExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.Log.Error("failed to initialize bulk job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error initiating campaign.")
		return
	}

	total := len(req.Recipients)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Bulk campaign initiated (%d emails).", total),
		"job_id":  jobID,
		"details": map[string]any{
			"total_emails":              total,
			"interval":                  fmt.Sprintf("%ds", interval),
			"estimated_completion_secs": total * interval,
		},
	})
}

// BulkStatus reports the progress of one job.
func (h *Handler) BulkStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	view, err := h.Campaigns.Status(r.Context(), jobID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found or expired.")
		return
	}
	if err != nil {
		h.Log.Error("failed to load bulk job status", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  view,
	})
}

// UploadRecipients parses a .csv, .xlsx or .txt recipient list.
func (h *Handler) UploadRecipients(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file part in request.")
		return
	}
	defer file.Close()

	res, err := csvparser.Parse(header.Filename, file, h.Config.MaxRecipients)
	switch {
	case errors.Is(err, csvparser.ErrTooManyRecipients):
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Limit of %d recipients exceeded.", h.Config.MaxRecipients))
		return
	case err != nil:
		h.Log.Warn("recipient upload rejected", zap.String("filename", header.Filename), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if res.Invalid > 0 {
		h.Log.Warn("skipped invalid email addresses",
			zap.String("filename", header.Filename),
			zap.Int("invalid", res.Invalid),
		)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"count":      len(res.Recipients),
		"recipients": res.Recipients,
		"columns":    res.Columns,
		"file_type":  res.FileType,
		"invalid":    res.Invalid,
	})
}

// decode reads a size-capped JSON body into v. It writes the error
// response itself and reports whether decoding succeeded.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = maxRequestBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Request body exceeds %d bytes.", tooLarge.Limit))
		return false
	}
	writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
	return false
}

// attachments converts request attachments, skipping unnamed or empty files.
func (h *Handler) attachments(in []attachmentRequest) []models.Attachment {
	var out []models.Attachment
	for _, a := range in {
		name := strings.TrimSpace(a.Filename)
		if name == "" || len(a.Fileblob) == 0 {
			h.Log.Warn("skipping empty attachment", zap.String("filename", name))
			continue
		}
		ct := strings.TrimSpace(a.MIMEType)
		if ct == "" {
			ct = defaultAttachmentType
		}
		out = append(out, models.Attachment{Filename: name, ContentType: ct, Content: a.Fileblob})
	}
	if len(out) > 0 {
		h.Log.Info("processed attachments", zap.Int("count", len(out)))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"PulseCampaign/internal/email"
)

type singleRequest struct {
	ToEmail     string `json:"to_email"`
	ToName      string `json:"to_name"`
	Subject     string `json:"subject"`
	HTMLContent string `json:"html_content"`
	FromEmail   string `json:"from_email"`
	FromName    string `json:"from_name"`
	CC          string `json:"cc"`
	BCC         string `json:"bcc"`

	Attachments []attachmentRequest `json:"attachments"`
}

// SendEmail sends one message immediately. Nothing is persisted.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req singleRequest
	if !h.decode(w, r, &req) {
		return
	}

	to := strings.TrimSpace(req.ToEmail)
	subject := strings.TrimSpace(req.Subject)
	body := strings.TrimSpace(req.HTMLContent)
	if to == "" || subject == "" || body == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields (To, Subject, Content).")
		return
	}
	if !email.Valid(to) {
		writeError(w, http.StatusBadRequest, "Invalid 'To Email' format: "+to)
		return
	}

	from := email.Address{Email: h.Config.DefaultSenderEmail, Name: h.Config.DefaultSenderName}
	if fe := strings.TrimSpace(req.FromEmail); fe != "" {
		if email.Valid(fe) {
			from.Email = fe
			if fn := strings.TrimSpace(req.FromName); fn != "" {
				from.Name = fn
			}
		} else {
			h.Log.Warn("invalid from email, using default sender", zap.String("from_email", fe))
		}
	} else if fn := strings.TrimSpace(req.FromName); fn != "" {
		from.Name = fn
	}

	msg := &email.Message{
		To:      email.Address{Email: to, Name: strings.TrimSpace(req.ToName)},
		From:    from,
		Subject: subject,
		HTML:    body,
		CC:      validList(req.CC),
		BCC:     validList(req.BCC),

		Attachments: h.attachments(req.Attachments),
	}

	ctx := r.Context()
	if h.Config.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.DispatchTimeout)
		defer cancel()
	}

	if err := h.Sender.Send(ctx, msg); err != nil {
		h.Log.Error("single send failed", zap.String("to", to), zap.Error(err))

		status := http.StatusBadGateway
		var te *email.TransportError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		} else if errors.As(err, &te) {
			switch {
			case errors.Is(err, email.ErrNotConfigured):
				status = http.StatusInternalServerError
			case te.StatusCode >= 400:
				status = te.StatusCode
			}
		}
		writeError(w, status, err.Error())
		return
	}

	h.Log.Info("single email sent", zap.String("to", to))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email sent successfully.",
	})
}

// validList splits a comma separated list and keeps valid addresses.
func validList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if addr := strings.TrimSpace(part); email.Valid(addr) {
			out = append(out, addr)
		}
	}
	return out
}

package email

import (
	"context"

	"github.com/resend/resend-go/v3"

	"PulseCampaign/internal/models"
)

// ResendSender delivers messages through the Resend API.
type ResendSender struct {
	client *resend.Client
	apiKey string
}

// NewResend creates a Resend-backed dispatcher. An empty key yields a
// dispatcher whose every Send fails with a TransportError.
func NewResend(apiKey string) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(apiKey),
		apiKey: apiKey,
	}
}

// Send implements Dispatcher.
func (s *ResendSender) Send(ctx context.Context, msg *Message) error {
	if s.apiKey == "" {
		return notConfigured("resend", "RESEND_API_KEY")
	}
	if err := checkSender("resend", msg); err != nil {
		return err
	}

	req := &resend.SendEmailRequest{
		From:    msg.From.String(),
		To:      []string{msg.To.String()},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Cc:      msg.CC,
		Bcc:     msg.BCC,
	}
	if len(msg.Attachments) > 0 {
		req.Attachments = resendAttachments(msg.Attachments)
	}

	if _, err := s.client.Emails.SendWithContext(ctx, req); err != nil {
		return &TransportError{Provider: "resend", Err: err}
	}

	return nil
}

func resendAttachments(in []models.Attachment) []*resend.Attachment {
	out := make([]*resend.Attachment, len(in))
	for i, a := range in {
		out[i] = &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		}
	}
	return out
}

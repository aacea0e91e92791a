package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"PulseCampaign/internal/models"
)

const smtp2goProvider = "smtp2go"

// SMTP2GOSender posts messages to the SMTP2GO /email/send endpoint.
type SMTP2GOSender struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewSMTP2GO creates a dispatcher for the API rooted at baseURL.
func NewSMTP2GO(baseURL, apiKey string, timeout time.Duration) *SMTP2GOSender {
	endpoint := ""
	if base := strings.TrimRight(baseURL, "/"); base != "" {
		endpoint = base + "/email/send"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTP2GOSender{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type smtp2goRequest struct {
	APIKey   string   `json:"api_key"`
	To       []string `json:"to"`
	Sender   string   `json:"sender"`
	Subject  string   `json:"subject"`
	HTMLBody string   `json:"html_body"`
	CC       []string `json:"cc,omitempty"`
	BCC      []string `json:"bcc,omitempty"`

	Attachments []smtp2goAttachment `json:"attachments,omitempty"`
}

type smtp2goAttachment struct {
	Filename string `json:"filename"`
	Fileblob string `json:"fileblob"`
	MIMEType string `json:"mimetype"`
}

// Send implements Dispatcher.
func (s *SMTP2GOSender) Send(ctx context.Context, msg *Message) error {
	if s.endpoint == "" {
		return notConfigured(smtp2goProvider, "SMTP2GO_API_URL")
	}
	if s.apiKey == "" {
		return notConfigured(smtp2goProvider, "SMTP2GO_API_KEY")
	}
	if err := checkSender(smtp2goProvider, msg); err != nil {
		return err
	}

	payload, err := json.Marshal(smtp2goRequest{
		APIKey:   s.apiKey,
		To:       []string{msg.To.String()},
		Sender:   msg.From.String(),
		Subject:  msg.Subject,
		HTMLBody: msg.HTML,
		CC:       msg.CC,
		BCC:      msg.BCC,

		Attachments: smtp2goAttachments(msg.Attachments),
	})
	if err != nil {
		return &TransportError{Provider: smtp2goProvider, Detail: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Provider: smtp2goProvider, Detail: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &TransportError{Provider: smtp2goProvider, Detail: "network error", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusBadRequest {
		return &TransportError{
			Provider:   smtp2goProvider,
			StatusCode: resp.StatusCode,
			Detail:     apiErrorDetail(body),
		}
	}

	return nil
}

func smtp2goAttachments(in []models.Attachment) []smtp2goAttachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]smtp2goAttachment, len(in))
	for i, a := range in {
		out[i] = smtp2goAttachment{
			Filename: a.Filename,
			Fileblob: base64.StdEncoding.EncodeToString(a.Content),
			MIMEType: a.ContentType,
		}
	}
	return out
}

// apiErrorDetail extracts a readable message from an SMTP2GO error body.
// It looks at "error", then "data.errors"/"data.error", then "message",
// and falls back to the first 200 bytes of the raw body.
func apiErrorDetail(body []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return rawSnippet(body)
	}

	if v, ok := parsed["error"]; ok && v != nil {
		if obj, ok := v.(map[string]any); ok {
			for _, k := range []string{"message", "description"} {
				if s, ok := obj[k].(string); ok && s != "" {
					return s
				}
			}
		}
		return fmt.Sprint(v)
	}

	if data, ok := parsed["data"].(map[string]any); ok {
		errs := data["errors"]
		if errs == nil {
			errs = data["error"]
		}
		switch e := errs.(type) {
		case []any:
			if len(e) > 5 {
				e = e[:5]
			}
			parts := make([]string, len(e))
			for i, item := range e {
				parts[i] = fmt.Sprint(item)
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		case nil:
		default:
			return fmt.Sprint(e)
		}
	}

	if m, ok := parsed["message"]; ok && m != nil {
		return fmt.Sprint(m)
	}

	return rawSnippet(body)
}

func rawSnippet(body []byte) string {
	if len(body) > 200 {
		body = body[:200]
	}
	return strings.TrimSpace(string(body))
}

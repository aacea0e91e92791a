package email

import (
	"context"
	"io"

	"gopkg.in/gomail.v2"
)

// SMTPSender delivers messages over plain SMTP.
type SMTPSender struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Send builds a MIME message and hands it to the SMTP server.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if s.Host == "" || s.Port == 0 {
		return notConfigured("smtp", "SMTP_HOST/SMTP_PORT")
	}
	if err := checkSender("smtp", msg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &TransportError{Provider: "smtp", Err: err}
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.From.Email, msg.From.Name)
	m.SetAddressHeader("To", msg.To.Email, msg.To.Name)
	if len(msg.CC) > 0 {
		m.SetHeader("Cc", msg.CC...)
	}
	if len(msg.BCC) > 0 {
		m.SetHeader("Bcc", msg.BCC...)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)
	for _, a := range msg.Attachments {
		content := a.Content
		m.Attach(a.Filename,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}),
		)
	}

	d := gomail.NewDialer(s.Host, s.Port, s.User, s.Password)

	if err := d.DialAndSend(m); err != nil {
		return &TransportError{Provider: "smtp", Detail: "smtp send error", Err: err}
	}

	return nil
}

// Package email delivers rendered messages through an outbound provider.
//
// Providers never retry. Every failure, including missing credentials, is
// reported as a *TransportError so callers can record it uniformly.
package email

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"PulseCampaign/internal/models"
)

var addressRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Valid reports whether addr looks like a deliverable email address.
func Valid(addr string) bool {
	return addr != "" && addressRe.MatchString(addr)
}

// Address is a mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

// String formats the address as "Name <email>" or just "email".
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Message is a fully rendered email ready for dispatch.
type Message struct {
	To      Address
	From    Address
	Subject string
	HTML    string
	CC      []string
	BCC     []string

	Attachments []models.Attachment
}

// Dispatcher sends a single message.
type Dispatcher interface {
	Send(ctx context.Context, msg *Message) error
}

// TransportError describes a failed dispatch.
type TransportError struct {
	Provider   string
	StatusCode int
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " error (%d)", e.StatusCode)
	} else {
		b.WriteString(" error")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrNotConfigured is wrapped by transport errors raised for missing
// credentials or endpoints.
var ErrNotConfigured = errors.New("dispatch provider not configured")

func notConfigured(provider, what string) error {
	return &TransportError{Provider: provider, Detail: "missing " + what, Err: ErrNotConfigured}
}

func checkSender(provider string, msg *Message) error {
	if msg.From.Email == "" {
		return notConfigured(provider, "sender address (DEFAULT_SENDER_EMAIL)")
	}
	return nil
}

package models

import "time"

// Display values for Job.CurrentRecipient outside of a dispatch.
const (
	CurrentInitializing = "Initializing..."
	CurrentCompleted    = "Completed"
	CurrentUnknown      = "N/A"
)

// Recipient is one row of an uploaded recipient list. Values are scalars
// (string, number, bool) keyed by the original column names.
type Recipient map[string]any

// Failure records a recipient that could not be sent.
type Failure struct {
	Index int    `json:"index"`
	Email string `json:"email"`
	Error string `json:"error"`
}

// Attachment is a file sent with every message of a campaign. Content is
// stored base64 encoded in JSON.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// Job is the persisted state of one bulk campaign.
type Job struct {
	ID         string      `json:"id"`
	Recipients []Recipient `json:"recipients"`

	SubjectTemplate   string `json:"subject_template"`
	BodyTemplate      string `json:"body_template"`
	FromEmailTemplate string `json:"from_email_template,omitempty"`
	FromNameTemplate  string `json:"from_name_template,omitempty"`
	Interval          int    `json:"interval"`

	Attachments []Attachment `json:"attachments,omitempty"`

	Total            int       `json:"total"`
	Processed        int       `json:"processed"`
	Success          int       `json:"success"`
	Failed           int       `json:"failed"`
	Failures         []Failure `json:"failures"`
	InProgress       bool      `json:"in_progress"`
	CurrentRecipient string    `json:"current_recipient"`

	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StatusView is the outward projection of a Job. It never carries the
// recipient list.
type StatusView struct {
	ID                   string     `json:"job_id"`
	CreatedAt            time.Time  `json:"start_time"`
	FinishedAt           *time.Time `json:"end_time"`
	Duration             *float64   `json:"duration"`
	Total                int        `json:"total"`
	Processed            int        `json:"processed"`
	Success              int        `json:"success"`
	Failed               int        `json:"failed"`
	Failures             []Failure  `json:"failed_emails"`
	InProgress           bool       `json:"in_progress"`
	CurrentRecipient     string     `json:"current_recipient"`
	CompletionPercentage int        `json:"completion_percentage"`
}

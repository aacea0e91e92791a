package campaign

import (
	"context"

	"PulseCampaign/internal/models"
)

// Repository is the durable, keyed job store.
//
// Implementations must write whole records atomically so a reader never
// observes a partially updated job.
type Repository interface {
	// Create stores a new job. It returns models.ErrJobExists when the id
	// is already taken.
	Create(ctx context.Context, job *models.Job) error

	// Load returns the job or models.ErrNotFound.
	Load(ctx context.Context, id string) (*models.Job, error)

	// Save overwrites an existing job record.
	Save(ctx context.Context, job *models.Job) error

	// ListActive returns the ids of jobs still in progress.
	ListActive(ctx context.Context) ([]string, error)
}

package campaign

import (
	"math"

	"PulseCampaign/internal/models"
)

// Project derives the outward status view of a job.
func Project(job *models.Job) models.StatusView {
	failures := make([]models.Failure, len(job.Failures))
	copy(failures, job.Failures)

	view := models.StatusView{
		ID:                   job.ID,
		CreatedAt:            job.CreatedAt,
		FinishedAt:           job.FinishedAt,
		Total:                job.Total,
		Processed:            job.Processed,
		Success:              job.Success,
		Failed:               job.Failed,
		Failures:             failures,
		InProgress:           job.InProgress,
		CurrentRecipient:     job.CurrentRecipient,
		CompletionPercentage: CompletionPercentage(job.Processed, job.Total),
	}

	if job.FinishedAt != nil {
		d := job.FinishedAt.Sub(job.CreatedAt).Seconds()
		d = math.Round(d*100) / 100
		view.Duration = &d
	}

	return view
}

// CompletionPercentage is floor(processed/total*100), or 0 for an empty job.
func CompletionPercentage(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return processed * 100 / total
}

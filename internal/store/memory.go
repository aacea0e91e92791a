package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"PulseCampaign/internal/models"
)

// Memory keeps serialized job records in process memory. Records do not
// survive a restart.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string][]byte)}
}

func (m *Memory) Create(_ context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return models.ErrJobExists
	}
	m.jobs[job.ID] = data
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	data, ok := m.jobs[id]
	m.mu.RUnlock()

	if !ok {
		return nil, models.ErrNotFound
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (m *Memory) Save(_ context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return models.ErrNotFound
	}
	m.jobs[job.ID] = data
	return nil
}

func (m *Memory) ListActive(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, data := range m.jobs {
		var head struct {
			InProgress bool `json:"in_progress"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return nil, err
		}
		if head.InProgress {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

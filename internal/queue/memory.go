package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"webhookd/internal/types"
)

// MemoryStore is the single-process reference Store: a mutex-guarded job
// table. It is not horizontally scalable and loses state on restart; the
// Postgres store backs durable and multi-instance deployments.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*types.WebhookJob
}

// NewMemoryStore constructs an empty in-memory job table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*types.WebhookJob)}
}

var _ Store = (*MemoryStore)(nil)

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, job *types.WebhookJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("queue: job %s already exists", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// Claim implements Store. Selection, the PROCESSING mark, and the attempt
// count happen under one lock so concurrent workers can never claim the
// same job and a claim never needs a separate follow-up write.
func (s *MemoryStore) Claim(_ context.Context, now time.Time) (*types.WebhookJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *types.WebhookJob
	for _, job := range s.jobs {
		if job.Status != types.JobStatusPending || job.ScheduledAt.After(now) {
			continue
		}
		if best == nil || claimBefore(job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = types.JobStatusProcessing
	best.Attempts++
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

// claimBefore is the claim ordering: priority descending, then schedule
// ascending, then creation time and id so equal candidates resolve the same
// way on every pass.
func claimBefore(a, b *types.WebhookJob) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, job *types.WebhookJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return fmt.Errorf("queue: job %s not found", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*types.WebhookJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("queue: job %s not found", id)
	}
	cp := *job
	return &cp, nil
}

// ListByStatus implements Store. Results are ordered most recent first.
func (s *MemoryStore) ListByStatus(_ context.Context, status types.JobStatus, limit int) ([]*types.WebhookJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.WebhookJob
	for _, job := range s.jobs {
		if job.Status == status {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Purge implements Store.
func (s *MemoryStore) Purge(_ context.Context, status types.JobStatus, cutoff time.Time) ([]*types.WebhookJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged []*types.WebhookJob
	for id, job := range s.jobs {
		if job.Status == status && job.UpdatedAt.Before(cutoff) {
			cp := *job
			purged = append(purged, &cp)
			delete(s.jobs, id)
		}
	}
	return purged, nil
}

// Counts implements Store.
func (s *MemoryStore) Counts(_ context.Context) (map[types.JobStatus]int, map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStatus := make(map[types.JobStatus]int)
	byEventType := make(map[string]int)
	for _, job := range s.jobs {
		byStatus[job.Status]++
		byEventType[job.Event.EventType]++
	}
	return byStatus, byEventType, nil
}

// OldestPending implements Store.
func (s *MemoryStore) OldestPending(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest time.Time
	for _, job := range s.jobs {
		if job.Status != types.JobStatusPending {
			continue
		}
		if oldest.IsZero() || job.CreatedAt.Before(oldest) {
			oldest = job.CreatedAt
		}
	}
	return oldest, nil
}

package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
)

// JobRepository is the in-process queue. The store mutex makes claim and
// completion atomic with respect to other workers of the same process.
type JobRepository struct {
	store *store
}

func waiting(job *models.QueueJob) bool {
	return job.Status == models.JobStatusQueued || job.Status == models.JobStatusFailed
}

func enqueuedBefore(a, b *models.QueueJob) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}

	return a.CreatedAt.Before(b.CreatedAt)
}

func (r *JobRepository) Enqueue(_ context.Context, job *models.QueueJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.QueueJob](r.store, jobsCollection)
	if err != nil {
		return err
	}

	if job.ID == "" {
		job.ID, err = newID()
		if err != nil {
			return err
		}
	}

	now := r.store.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}

	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}

	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	job.UpdatedAt = now
	items[job.ID] = job

	return persist(r.store, jobsCollection, items)
}

func (r *JobRepository) GetByID(_ context.Context, id string) (*models.QueueJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.QueueJob](r.store, jobsCollection)
	if err != nil {
		return nil, err
	}

	job, ok := items[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "job", id, persistence.ErrJobNotFound)
	}

	return job, nil
}

func (r *JobRepository) List(_ context.Context, filter persistence.JobFilter) ([]*models.QueueJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.QueueJob](r.store, jobsCollection)
	if err != nil {
		return nil, err
	}

	jobs := make([]*models.QueueJob, 0)

	for _, job := range items {
		if filter.PurchaseID != "" && job.PurchaseID != filter.PurchaseID {
			continue
		}

		if filter.Status != "" && job.Status != filter.Status {
			continue
		}

		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return enqueuedBefore(jobs[i], jobs[j]) })

	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}

	return jobs, nil
}

func (r *JobRepository) Claim(_ context.Context, workerID string) (*models.QueueJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.QueueJob](r.store, jobsCollection)
	if err != nil {
		return nil, err
	}

	now := r.store.now()
	busy := make(map[string]bool)
	head := make(map[string]*models.QueueJob)

	for _, job := range items {
		if job.Status == models.JobStatusProcessing {
			busy[job.PurchaseID] = true
		}

		if waiting(job) {
			if current, ok := head[job.PurchaseID]; !ok || enqueuedBefore(job, current) {
				head[job.PurchaseID] = job
			}
		}
	}

	candidates := make([]*models.QueueJob, 0, len(head))

	for purchaseID, job := range head {
		if busy[purchaseID] || job.ScheduledAt.After(now) {
			continue
		}

		candidates = append(candidates, job)
	}

	if len(candidates) == 0 {
		return nil, persistence.ErrNoJobAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}

		return enqueuedBefore(candidates[i], candidates[j])
	})

	job := candidates[0]
	job.Status = models.JobStatusProcessing
	job.Attempts++
	job.ClaimedBy = workerID
	job.ClaimedAt = &now
	job.UpdatedAt = now

	err = persist(r.store, jobsCollection, items)
	if err != nil {
		return nil, err
	}

	return job, nil
}

func (r *JobRepository) Complete(_ context.Context, workerID string, job *models.QueueJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.QueueJob](r.store, jobsCollection)
	if err != nil {
		return err
	}

	stored, ok := items[job.ID]
	if !ok || stored.Status != models.JobStatusProcessing || stored.ClaimedBy != workerID {
		return persistence.NewEntityError("Complete", "job", job.ID, persistence.ErrJobNotClaimed)
	}

	if job.Status == models.JobStatusFailed {
		job.ClaimedBy = ""
	}

	job.UpdatedAt = r.store.now()
	items[job.ID] = job

	return persist(r.store, jobsCollection, items)
}

func (r *JobRepository) ReleaseStale(_ context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.QueueJob](r.store, jobsCollection)
	if err != nil {
		return 0, err
	}

	now := r.store.now()
	released := 0

	for _, job := range items {
		if job.Status != models.JobStatusProcessing || job.ClaimedAt == nil || !job.ClaimedAt.Before(cutoff) {
			continue
		}

		job.Status = models.JobStatusFailed
		if job.Exhausted() {
			job.Status = models.JobStatusDeadLetter
		}

		job.LastError = "lease expired while processing"
		job.ClaimedBy = ""
		job.ScheduledAt = now
		job.UpdatedAt = now
		released++
	}

	if released == 0 {
		return 0, nil
	}

	return released, persist(r.store, jobsCollection, items)
}

func (r *JobRepository) Requeue(_ context.Context, id string) (*models.QueueJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.QueueJob](r.store, jobsCollection)
	if err != nil {
		return nil, err
	}

	job, ok := items[id]
	if !ok {
		return nil, persistence.NewEntityError("Requeue", "job", id, persistence.ErrJobNotFound)
	}

	if job.Status != models.JobStatusDeadLetter && job.Status != models.JobStatusFailed {
		return nil, persistence.NewEntityError("Requeue", "job", id, persistence.ErrJobNotRequeueable)
	}

	now := r.store.now()
	job.Status = models.JobStatusQueued
	job.Attempts = 0
	job.LastError = ""
	job.Result = ""
	job.ClaimedBy = ""
	job.ClaimedAt = nil
	job.ScheduledAt = now
	job.UpdatedAt = now

	err = persist(r.store, jobsCollection, items)
	if err != nil {
		return nil, err
	}

	return job, nil
}

func (r *JobRepository) HasDelete(_ context.Context, purchaseID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.QueueJob](r.store, jobsCollection)
	if err != nil {
		return false, err
	}

	for _, job := range items {
		if job.PurchaseID != purchaseID || job.Action != models.JobActionDelete {
			continue
		}

		switch job.Status {
		case models.JobStatusQueued, models.JobStatusFailed, models.JobStatusProcessing, models.JobStatusCompleted:
			return true, nil
		}
	}

	return false, nil
}

func (r *JobRepository) HasPending(_ context.Context, purchaseID string, action models.JobAction) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	items, err := load[models.QueueJob](r.store, jobsCollection)
	if err != nil {
		return false, err
	}

	for _, job := range items {
		if job.PurchaseID == purchaseID && job.Action == action &&
			(waiting(job) || job.Status == models.JobStatusProcessing) {
			return true, nil
		}
	}

	return false, nil
}

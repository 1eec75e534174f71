package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunJobRepositorySuite checks the queue contract every backend must honor.
// newRepo must return an empty repository on each call.
func RunJobRepositorySuite(t *testing.T, newRepo func(t *testing.T) persistence.JobRepository) {
	t.Helper()

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	enqueue := func(ctx context.Context, t *testing.T, repo persistence.JobRepository, action models.JobAction, purchaseID string, offset int) *models.QueueJob {
		t.Helper()

		job := models.NewQueueJob(action, purchaseID, map[string]any{"source": "test"})
		job.CreatedAt = base.Add(time.Duration(offset) * time.Second)
		job.ScheduledAt = job.CreatedAt
		require.NoError(t, repo.Enqueue(ctx, job))

		return job
	}

	t.Run("claim on empty queue", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Claim(context.Background(), "w1")
		assert.ErrorIs(t, err, persistence.ErrNoJobAvailable)
	})

	t.Run("serializes jobs of one purchase in enqueue order", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		p1, p2 := uuid.NewString(), uuid.NewString()

		first := enqueue(ctx, t, repo, models.JobActionCreate, p1, 0)
		second := enqueue(ctx, t, repo, models.JobActionPause, p1, 1)
		other := enqueue(ctx, t, repo, models.JobActionCreate, p2, 2)

		claimed, err := repo.Claim(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, claimed.ID)
		assert.Equal(t, models.JobStatusProcessing, claimed.Status)
		assert.Equal(t, 1, claimed.Attempts)
		assert.Equal(t, "w1", claimed.ClaimedBy)
		assert.Equal(t, "test", claimed.Payload["source"])

		claimedOther, err := repo.Claim(ctx, "w2")
		require.NoError(t, err)
		assert.Equal(t, other.ID, claimedOther.ID)

		_, err = repo.Claim(ctx, "w3")
		assert.ErrorIs(t, err, persistence.ErrNoJobAvailable, "second job of p1 must wait")

		claimed.Status = models.JobStatusCompleted
		err = repo.Complete(ctx, "w2", claimed)
		assert.ErrorIs(t, err, persistence.ErrJobNotClaimed)

		now := time.Now().UTC()
		claimed.CompletedAt = &now
		require.NoError(t, repo.Complete(ctx, "w1", claimed))

		err = repo.Complete(ctx, "w1", claimed)
		assert.ErrorIs(t, err, persistence.ErrJobNotClaimed, "completion happens once")

		next, err := repo.Claim(ctx, "w3")
		require.NoError(t, err)
		assert.Equal(t, second.ID, next.ID)
	})

	t.Run("concurrent claims hold one job per purchase", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		const purchases, perPurchase, workers = 4, 3, 8

		order := make(map[string][]string, purchases)

		for i := range purchases {
			purchaseID := uuid.NewString()

			for j := range perPurchase {
				job := enqueue(ctx, t, repo, models.JobActionHealthCheck, purchaseID, i*perPurchase+j)
				order[purchaseID] = append(order[purchaseID], job.ID)
			}
		}

		seen := make(map[string]bool, purchases*perPurchase)
		claimedOrder := make(map[string][]string, purchases)

		for round := range perPurchase {
			var (
				mu      sync.Mutex
				wg      sync.WaitGroup
				claimed []*models.QueueJob
				errs    []error
			)

			for w := range workers {
				wg.Add(1)

				go func() {
					defer wg.Done()

					for {
						job, err := repo.Claim(ctx, fmt.Sprintf("w%d", w))

						mu.Lock()
						switch {
						case errors.Is(err, persistence.ErrNoJobAvailable):
							mu.Unlock()

							return
						case err != nil:
							errs = append(errs, err)
							mu.Unlock()

							return
						default:
							claimed = append(claimed, job)
						}
						mu.Unlock()
					}
				}()
			}

			wg.Wait()
			require.Empty(t, errs)
			require.Len(t, claimed, purchases, "round %d claims one job per purchase", round)

			byPurchase := make(map[string]int, purchases)

			for _, job := range claimed {
				assert.False(t, seen[job.ID], "job %s claimed twice", job.ID)
				seen[job.ID] = true
				byPurchase[job.PurchaseID]++
				claimedOrder[job.PurchaseID] = append(claimedOrder[job.PurchaseID], job.ID)
			}

			for purchaseID, count := range byPurchase {
				assert.Equal(t, 1, count, "purchase %s has %d processing jobs", purchaseID, count)
			}

			processing, err := repo.List(ctx, persistence.JobFilter{Status: models.JobStatusProcessing})
			require.NoError(t, err)
			assert.Len(t, processing, purchases)

			for _, job := range claimed {
				now := time.Now().UTC()
				job.Status = models.JobStatusCompleted
				job.CompletedAt = &now
				require.NoError(t, repo.Complete(ctx, job.ClaimedBy, job))
			}
		}

		assert.Len(t, seen, purchases*perPurchase)
		assert.Equal(t, order, claimedOrder)

		_, err := repo.Claim(ctx, "w1")
		assert.ErrorIs(t, err, persistence.ErrNoJobAvailable)
	})

	t.Run("failed job keeps its place until rescheduled", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		p1 := uuid.NewString()

		first := enqueue(ctx, t, repo, models.JobActionCreate, p1, 0)
		enqueue(ctx, t, repo, models.JobActionPause, p1, 1)

		claimed, err := repo.Claim(ctx, "w1")
		require.NoError(t, err)
		require.Equal(t, first.ID, claimed.ID)

		claimed.Status = models.JobStatusFailed
		claimed.LastError = "engine unavailable"
		claimed.ScheduledAt = time.Now().UTC().Add(time.Hour)
		require.NoError(t, repo.Complete(ctx, "w1", claimed))

		_, err = repo.Claim(ctx, "w1")
		assert.ErrorIs(t, err, persistence.ErrNoJobAvailable)

		stored, err := repo.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, stored.Status)
		assert.Equal(t, "engine unavailable", stored.LastError)
		assert.Empty(t, stored.ClaimedBy)
	})

	t.Run("higher priority first across purchases", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		enqueue(ctx, t, repo, models.JobActionHealthCheck, uuid.NewString(), 0)
		create := enqueue(ctx, t, repo, models.JobActionCreate, uuid.NewString(), 1)
		del := enqueue(ctx, t, repo, models.JobActionDelete, uuid.NewString(), 2)

		claimed, err := repo.Claim(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, del.ID, claimed.ID)

		claimed, err = repo.Claim(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, create.ID, claimed.ID)
	})

	t.Run("future jobs are not claimable", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		job := models.NewQueueJob(models.JobActionCreate, uuid.NewString(), nil)
		job.ScheduledAt = time.Now().UTC().Add(time.Hour)
		require.NoError(t, repo.Enqueue(ctx, job))

		_, err := repo.Claim(ctx, "w1")
		assert.ErrorIs(t, err, persistence.ErrNoJobAvailable)
	})

	t.Run("release stale and requeue", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		job := enqueue(ctx, t, repo, models.JobActionCreate, uuid.NewString(), 0)

		claimed, err := repo.Claim(ctx, "w1")
		require.NoError(t, err)
		require.Equal(t, job.ID, claimed.ID)

		released, err := repo.ReleaseStale(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, released, "lease not expired yet")

		released, err = repo.ReleaseStale(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, released)

		stored, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, stored.Status)
		assert.Equal(t, "lease expired while processing", stored.LastError)

		claimed, err = repo.Claim(ctx, "w2")
		require.NoError(t, err)
		claimed.Status = models.JobStatusDeadLetter
		require.NoError(t, repo.Complete(ctx, "w2", claimed))

		_, err = repo.Claim(ctx, "w2")
		assert.ErrorIs(t, err, persistence.ErrNoJobAvailable, "dead letters are never claimed")

		requeued, err := repo.Requeue(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusQueued, requeued.Status)
		assert.Equal(t, 0, requeued.Attempts)

		_, err = repo.Requeue(ctx, job.ID)
		assert.ErrorIs(t, err, persistence.ErrJobNotRequeueable)

		_, err = repo.Requeue(ctx, uuid.NewString())
		assert.ErrorIs(t, err, persistence.ErrJobNotFound)
	})

	t.Run("delete and pending lookups", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		purchaseID := uuid.NewString()

		hasDelete, err := repo.HasDelete(ctx, purchaseID)
		require.NoError(t, err)
		assert.False(t, hasDelete)

		enqueue(ctx, t, repo, models.JobActionHealthCheck, purchaseID, 0)
		enqueue(ctx, t, repo, models.JobActionDelete, purchaseID, 1)

		hasDelete, err = repo.HasDelete(ctx, purchaseID)
		require.NoError(t, err)
		assert.True(t, hasDelete)

		pending, err := repo.HasPending(ctx, purchaseID, models.JobActionHealthCheck)
		require.NoError(t, err)
		assert.True(t, pending)

		pending, err = repo.HasPending(ctx, purchaseID, models.JobActionPause)
		require.NoError(t, err)
		assert.False(t, pending)

		jobs, err := repo.List(ctx, persistence.JobFilter{PurchaseID: purchaseID})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, models.JobActionHealthCheck, jobs[0].Action)

		jobs, err = repo.List(ctx, persistence.JobFilter{Status: models.JobStatusDeadLetter})
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

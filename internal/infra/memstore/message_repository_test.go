//go:build unit

package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
	"github.com/muratdemir0/gopulse-mailer/internal/infra/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func create(t *testing.T, repo *memstore.MessageRepository, recipient string, createdAt time.Time) domain.Message {
	t.Helper()
	m, err := domain.NewMessage(recipient, "Subject", "Body")
	require.NoError(t, err)
	m.CreatedAt = createdAt
	require.NoError(t, repo.Create(context.Background(), &m))
	return m
}

func TestFindPending_OrderedByCreationThenID(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewMessageRepository()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	late := create(t, repo, "late@example.com", t0.Add(time.Minute))
	tieA := create(t, repo, "tie-a@example.com", t0)
	tieB := create(t, repo, "tie-b@example.com", t0)

	pending, err := repo.FindPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []int64{tieA.ID, tieB.ID, late.ID}, []int64{pending[0].ID, pending[1].ID, pending[2].ID})
}

func TestSave_NeverRevertsSent(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewMessageRepository()
	m := create(t, repo, "a@example.com", time.Now())

	sent := m
	require.NoError(t, sent.MarkSent(time.Now()))
	require.NoError(t, repo.Save(ctx, sent))

	stale := m
	require.NoError(t, stale.MarkFailed("late failure"))
	assert.ErrorIs(t, repo.Save(ctx, stale), domain.ErrMessageNotFound)

	stored, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.Sent())
	assert.False(t, stored.ErrorMessage.Valid)
}

func TestSaveAll_IsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewMessageRepository()
	a := create(t, repo, "a@example.com", time.Now())

	require.NoError(t, a.MarkSent(time.Now()))
	missing := domain.Message{ID: 999, Status: domain.MessageStatusFailed}

	err := repo.SaveAll(ctx, []domain.Message{a, missing})
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	stored, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, stored.Sent(), "no message of a rejected batch is written")
}

func TestFindEligible(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewMessageRepository()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := domain.RetryPolicy{MaxAttempts: 3, Delay: time.Minute}

	fresh := create(t, repo, "fresh@example.com", now.Add(-time.Hour))

	waiting := create(t, repo, "waiting@example.com", now.Add(-time.Hour))
	require.NoError(t, waiting.RecordFailedAttempt(now, "busy", policy))
	require.NoError(t, repo.Save(ctx, waiting))

	exhausted := create(t, repo, "dead@example.com", now.Add(-time.Hour))
	for i := 0; i < 3; i++ {
		require.NoError(t, exhausted.RecordFailedAttempt(now.Add(-time.Hour), "rejected", policy))
	}
	require.NoError(t, repo.Save(ctx, exhausted))

	eligible, err := repo.FindEligible(ctx, now, 3, 10)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, fresh.ID, eligible[0].ID)

	eligible, err = repo.FindEligible(ctx, now.Add(time.Minute), 3, 10)
	require.NoError(t, err)
	assert.Len(t, eligible, 2)
}

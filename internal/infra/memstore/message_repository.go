// Package memstore is an in-memory domain.MessageRepository with the same
// ordering, eligibility and write-guard semantics as the SQL repository.
// It backs engine tests and local runs without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

type MessageRepository struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]domain.Message
	now      func() time.Time

	// FailSaves makes Save and SaveAll return the error without writing.
	FailSaves error
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		messages: make(map[int64]domain.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MessageRepository) Create(_ context.Context, message *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	created := *message
	created.ID = r.nextID
	if created.CreatedAt.IsZero() {
		created.CreatedAt = r.now()
	}
	if created.Status == "" {
		created.Status = domain.MessageStatusPending
	}
	r.messages[created.ID] = created

	*message = created
	return nil
}

func (r *MessageRepository) Get(_ context.Context, id int64) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	return msg, nil
}

func (r *MessageRepository) FindPending(_ context.Context) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.filter(func(m domain.Message) bool { return !m.Sent() }, 0), nil
}

func (r *MessageRepository) FindEligible(_ context.Context, now time.Time, maxAttempts int, limit uint) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	policy := domain.RetryPolicy{MaxAttempts: maxAttempts}
	return r.filter(func(m domain.Message) bool { return policy.Eligible(m, now) }, limit), nil
}

func (r *MessageRepository) Save(_ context.Context, message domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailSaves != nil {
		return r.FailSaves
	}
	if err := r.checkWritable(message); err != nil {
		return err
	}
	r.write(message)
	return nil
}

func (r *MessageRepository) SaveAll(_ context.Context, messages []domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailSaves != nil {
		return r.FailSaves
	}
	for _, m := range messages {
		if err := r.checkWritable(m); err != nil {
			return err
		}
	}
	for _, m := range messages {
		r.write(m)
	}
	return nil
}

func (r *MessageRepository) ListByStatus(_ context.Context, status domain.MessageStatus, limit, offset uint) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.filter(func(m domain.Message) bool { return m.Status == status }, 0)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	if offset >= uint(len(all)) {
		return []domain.Message{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < uint(len(all)) {
		all = all[:limit]
	}
	return all, nil
}

func (r *MessageRepository) checkWritable(message domain.Message) error {
	stored, ok := r.messages[message.ID]
	if !ok || stored.Sent() {
		return fmt.Errorf("message id %d: %w", message.ID, domain.ErrMessageNotFound)
	}
	return nil
}

func (r *MessageRepository) write(message domain.Message) {
	stored := r.messages[message.ID]
	stored.Status = message.Status
	stored.SentAt = message.SentAt
	stored.ErrorMessage = message.ErrorMessage
	stored.RetryCount = message.RetryCount
	stored.NextRetryAt = message.NextRetryAt
	stored.ExhaustedAt = message.ExhaustedAt
	stored.UpdatedAt.Time, stored.UpdatedAt.Valid = r.now(), true
	r.messages[message.ID] = stored
}

// filter returns matching messages ordered by creation time then id.
func (r *MessageRepository) filter(keep func(domain.Message) bool, limit uint) []domain.Message {
	result := make([]domain.Message, 0, len(r.messages))
	for _, m := range r.messages {
		if keep(m) {
			result = append(result, m)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && uint(len(result)) > limit {
		result = result[:limit]
	}
	return result
}

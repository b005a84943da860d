package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/muratdemir0/gopulse-mailer/internal/adapters/db"
	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

const tableName = "email_queue"

var columns = []any{
	"id", "recipient", "subject", "body", "created_at", "sent_at", "sent", "dispatched",
	"error_message", "retry_count", "next_retry_at", "exhausted_at", "updated_at",
}

// messageRecord is the storage shape of a domain.Message. The legacy
// sent/dispatched pair is always written from the single domain status.
type messageRecord struct {
	ID           int64          `db:"id"`
	Recipient    string         `db:"recipient"`
	Subject      string         `db:"subject"`
	Body         string         `db:"body"`
	CreatedAt    time.Time      `db:"created_at"`
	SentAt       sql.NullTime   `db:"sent_at"`
	Sent         bool           `db:"sent"`
	Dispatched   bool           `db:"dispatched"`
	ErrorMessage sql.NullString `db:"error_message"`
	RetryCount   int            `db:"retry_count"`
	NextRetryAt  sql.NullTime   `db:"next_retry_at"`
	ExhaustedAt  sql.NullTime   `db:"exhausted_at"`
	UpdatedAt    sql.NullTime   `db:"updated_at"`
}

func (r messageRecord) toDomain() domain.Message {
	return domain.Message{
		ID:           r.ID,
		Recipient:    r.Recipient,
		Subject:      r.Subject,
		Body:         r.Body,
		Status:       r.status(),
		CreatedAt:    r.CreatedAt,
		SentAt:       r.SentAt,
		ErrorMessage: r.ErrorMessage,
		RetryCount:   r.RetryCount,
		NextRetryAt:  r.NextRetryAt,
		ExhaustedAt:  r.ExhaustedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (r messageRecord) status() domain.MessageStatus {
	switch {
	case r.Sent || r.Dispatched:
		return domain.MessageStatusSent
	case r.ExhaustedAt.Valid:
		return domain.MessageStatusExhausted
	case r.ErrorMessage.Valid && r.ErrorMessage.String != "":
		return domain.MessageStatusFailed
	default:
		return domain.MessageStatusPending
	}
}

func toDomain(records []messageRecord) []domain.Message {
	messages := make([]domain.Message, len(records))
	for i, r := range records {
		messages[i] = r.toDomain()
	}
	return messages
}

type MessageRepository struct {
	db *db.Client
}

func NewMessageRepository(db *db.Client) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	record := goqu.Record{
		"recipient": message.Recipient,
		"subject":   message.Subject,
		"body":      message.Body,
	}
	if !message.CreatedAt.IsZero() {
		record["created_at"] = message.CreatedAt
	}

	ds := goqu.Insert(tableName).Rows(record).Returning(columns...)

	var created messageRecord
	if err := r.db.InsertReturning(ctx, &created, ds); err != nil {
		return fmt.Errorf("error creating message for %s: %w", message.Recipient, err)
	}

	*message = created.toDomain()
	return nil
}

func (r *MessageRepository) Get(ctx context.Context, id int64) (domain.Message, error) {
	ds := goqu.From(tableName).Select(columns...).Where(goqu.C("id").Eq(id))

	var record messageRecord
	if err := r.db.QueryRow(ctx, &record, ds); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return domain.Message{}, domain.ErrMessageNotFound
		}
		return domain.Message{}, fmt.Errorf("error getting message id %d: %w", id, err)
	}
	return record.toDomain(), nil
}

// FindPending returns every unsent message, oldest first. The read is not
// paginated.
func (r *MessageRepository) FindPending(ctx context.Context) ([]domain.Message, error) {
	ds := goqu.From(tableName).
		Select(columns...).
		Where(
			goqu.C("sent").IsFalse(),
			goqu.C("dispatched").IsFalse(),
		).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())

	var records []messageRecord
	if err := r.db.Select(ctx, &records, ds); err != nil {
		return nil, fmt.Errorf("error finding pending messages: %w", err)
	}
	return toDomain(records), nil
}

func (r *MessageRepository) FindEligible(ctx context.Context, now time.Time, maxAttempts int, limit uint) ([]domain.Message, error) {
	ds := goqu.From(tableName).
		Select(columns...).
		Where(
			goqu.C("sent").IsFalse(),
			goqu.C("dispatched").IsFalse(),
			goqu.C("retry_count").Lt(maxAttempts),
			goqu.Or(
				goqu.C("next_retry_at").IsNull(),
				goqu.C("next_retry_at").Lte(now),
			),
		).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())

	if limit > 0 {
		ds = ds.Limit(limit)
	}

	var records []messageRecord
	if err := r.db.Select(ctx, &records, ds); err != nil {
		return nil, fmt.Errorf("error finding eligible messages: %w", err)
	}
	return toDomain(records), nil
}

// Save persists the delivery state of one message in its own statement.
func (r *MessageRepository) Save(ctx context.Context, message domain.Message) error {
	return r.update(ctx, message)
}

// SaveAll persists the delivery state of every message in one transaction.
func (r *MessageRepository) SaveAll(ctx context.Context, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}

	return r.db.InTx(ctx, func(ctx context.Context) error {
		for _, message := range messages {
			if err := r.update(ctx, message); err != nil {
				return err
			}
		}
		return nil
	})
}

// update never moves a sent row back to pending: the statement only matches
// rows that are still unsent.
func (r *MessageRepository) update(ctx context.Context, message domain.Message) error {
	sent := message.Sent()

	ds := goqu.Update(tableName).
		Set(goqu.Record{
			"sent":          sent,
			"dispatched":    sent,
			"sent_at":       message.SentAt,
			"error_message": truncate(message.ErrorMessage, maxErrorLength),
			"retry_count":   message.RetryCount,
			"next_retry_at": message.NextRetryAt,
			"exhausted_at":  message.ExhaustedAt,
			"updated_at":    time.Now().UTC(),
		}).
		Where(goqu.Ex{
			"id":   message.ID,
			"sent": false,
		})

	result, err := r.db.Update(ctx, ds)
	if err != nil {
		return fmt.Errorf("error updating message id %d: %w", message.ID, err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("message id %d: %w", message.ID, domain.ErrMessageNotFound)
	}
	return nil
}

func (r *MessageRepository) ListByStatus(ctx context.Context, status domain.MessageStatus, limit, offset uint) ([]domain.Message, error) {
	ds := goqu.From(tableName).
		Select(columns...).
		Where(statusCondition(status)).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(limit).
		Offset(offset)

	var records []messageRecord
	if err := r.db.Select(ctx, &records, ds); err != nil {
		return nil, fmt.Errorf("error listing messages by status %s: %w", status, err)
	}
	return toDomain(records), nil
}

func statusCondition(status domain.MessageStatus) exp.Expression {
	switch status {
	case domain.MessageStatusSent:
		return goqu.C("sent").IsTrue()
	case domain.MessageStatusExhausted:
		return goqu.And(goqu.C("sent").IsFalse(), goqu.C("exhausted_at").IsNotNull())
	case domain.MessageStatusFailed:
		return goqu.And(
			goqu.C("sent").IsFalse(),
			goqu.C("exhausted_at").IsNull(),
			goqu.C("error_message").IsNotNull(),
			goqu.C("error_message").Neq(""),
		)
	default:
		return goqu.And(
			goqu.C("sent").IsFalse(),
			goqu.C("exhausted_at").IsNull(),
			goqu.Or(goqu.C("error_message").IsNull(), goqu.C("error_message").Eq("")),
		)
	}
}

const maxErrorLength = 1024

func truncate(s sql.NullString, n int) sql.NullString {
	if !s.Valid {
		return s
	}
	runes := []rune(s.String)
	if len(runes) > n {
		s.String = string(runes[:n])
	}
	return s
}

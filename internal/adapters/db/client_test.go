//go:build integration

package db

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/muratdemir0/gopulse-mailer/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gopulse_mailer_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		log.Fatalf("Failed to start container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("Failed to get connection string: %v", err)
	}

	testDB, err = NewDB(ctx, Config{DSN: dsn})
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := testDB.Migrate(ctx, migrations.FS, logger); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	code := m.Run()

	if err := testDB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}
	if err := container.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate container: %v", err)
	}

	os.Exit(code)
}

type testRow struct {
	ID        int64     `db:"id"`
	Recipient string    `db:"recipient"`
	Subject   string    `db:"subject"`
	Body      string    `db:"body"`
	Sent      bool      `db:"sent"`
	CreatedAt time.Time `db:"created_at"`
}

func setupTest(t *testing.T) (*Client, context.Context) {
	t.Helper()
	ctx := context.Background()
	_, err := testDB.Goqu.ExecContext(ctx, "TRUNCATE TABLE email_queue RESTART IDENTITY")
	require.NoError(t, err)
	return testDB, ctx
}

func insertRow(t *testing.T, ctx context.Context, client *Client, recipient string) testRow {
	t.Helper()
	ds := client.Goqu.Insert("email_queue").
		Rows(goqu.Record{
			"recipient": recipient,
			"subject":   "Subject",
			"body":      "Body",
		}).
		Returning("id", "recipient", "subject", "body", "sent", "created_at")

	var row testRow
	require.NoError(t, client.InsertReturning(ctx, &row, ds))
	return row
}

func TestClient_Migrate_IsIdempotent(t *testing.T) {
	client, ctx := setupTest(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, client.Migrate(ctx, migrations.FS, logger))

	var count int
	err := client.QueryRow(ctx, &count, client.Goqu.From("email_queue").Select(goqu.COUNT("*")))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestClient_QueryRow(t *testing.T) {
	client, ctx := setupTest(t)

	inserted := insertRow(t, ctx, client, "jane@example.com")
	assert.NotZero(t, inserted.ID)
	assert.False(t, inserted.Sent)

	var row testRow
	err := client.QueryRow(ctx, &row, client.Goqu.From("email_queue").
		Select("id", "recipient", "subject", "body", "sent", "created_at").
		Where(goqu.Ex{"id": inserted.ID}))
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", row.Recipient)

	err = client.QueryRow(ctx, &row, client.Goqu.From("email_queue").
		Select("id", "recipient", "subject", "body", "sent", "created_at").
		Where(goqu.Ex{"id": inserted.ID + 100}))
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestClient_Select(t *testing.T) {
	client, ctx := setupTest(t)

	recipients := []string{"a@example.com", "b@example.com"}
	for _, r := range recipients {
		insertRow(t, ctx, client, r)
	}

	var rows []testRow
	err := client.Select(ctx, &rows, client.Goqu.From("email_queue").
		Select("id", "recipient", "subject", "body", "sent", "created_at").
		Order(goqu.C("id").Asc()))
	require.NoError(t, err)
	require.Len(t, rows, len(recipients))
	assert.Equal(t, recipients[0], rows[0].Recipient)
}

func TestClient_Transaction(t *testing.T) {
	client, ctx := setupTest(t)

	txCtx, err := client.BeginTx(ctx)
	require.NoError(t, err)

	inserted := insertRow(t, txCtx, client, "tx@example.com")

	selectDS := client.Goqu.From("email_queue").
		Select("id", "recipient", "subject", "body", "sent", "created_at").
		Where(goqu.Ex{"id": inserted.ID})

	var row testRow
	require.NoError(t, client.QueryRow(txCtx, &row, selectDS))

	require.NoError(t, client.RollbackTx(txCtx))

	err = client.QueryRow(ctx, &row, selectDS)
	assert.ErrorIs(t, err, ErrNoRows)

	assert.ErrorIs(t, client.CommitTx(ctx), ErrTxNotFound)
}

func TestClient_InTx(t *testing.T) {
	client, ctx := setupTest(t)
	inserted := insertRow(t, ctx, client, "intx@example.com")

	markSent := func(ctx context.Context) error {
		_, err := client.Update(ctx, client.Goqu.Update("email_queue").
			Set(goqu.Record{"sent": true, "sent_at": time.Now()}).
			Where(goqu.Ex{"id": inserted.ID}))
		return err
	}

	t.Run("rolls back when the callback fails", func(t *testing.T) {
		boom := errors.New("boom")
		err := client.InTx(ctx, func(ctx context.Context) error {
			require.NoError(t, markSent(ctx))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		var sent bool
		require.NoError(t, client.QueryRow(ctx, &sent, client.Goqu.From("email_queue").
			Select("sent").Where(goqu.Ex{"id": inserted.ID})))
		assert.False(t, sent)
	})

	t.Run("commits when the callback succeeds", func(t *testing.T) {
		require.NoError(t, client.InTx(ctx, markSent))

		var sent bool
		require.NoError(t, client.QueryRow(ctx, &sent, client.Goqu.From("email_queue").
			Select("sent").Where(goqu.Ex{"id": inserted.ID})))
		assert.True(t, sent)
	})
}

func TestClient_UpdateAndDelete(t *testing.T) {
	client, ctx := setupTest(t)
	inserted := insertRow(t, ctx, client, "update@example.com")

	res, err := client.Update(ctx, client.Goqu.Update("email_queue").
		Set(goqu.Record{"error_message": "SMTP timeout"}).
		Where(goqu.Ex{"id": inserted.ID}))
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	_, err = client.Delete(ctx, client.Goqu.Delete("email_queue").Where(goqu.Ex{"id": inserted.ID}))
	require.NoError(t, err)

	var row testRow
	err = client.QueryRow(ctx, &row, client.Goqu.From("email_queue").
		Select("id", "recipient", "subject", "body", "sent", "created_at").
		Where(goqu.Ex{"id": inserted.ID}))
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestClient_CheckConstraintRejectsSentWithoutTimestamp(t *testing.T) {
	client, ctx := setupTest(t)
	inserted := insertRow(t, ctx, client, "check@example.com")

	_, err := client.Update(ctx, client.Goqu.Update("email_queue").
		Set(goqu.Record{"sent": true}).
		Where(goqu.Ex{"id": inserted.ID}))
	assert.Error(t, err)
}

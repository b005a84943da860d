package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

var ErrRunInProgress = errors.New("a queue run is already in progress")

const (
	DefaultSendInterval = 2 * time.Minute
	DefaultLockTTL      = 5 * time.Minute
	DefaultListLimit    = 50
	MaxListLimit        = 500

	runLockKey     = "mailer:queue:run"
	receiptTimeout = 2 * time.Second
	unlockTimeout  = 2 * time.Second
)

type ServiceConfig struct {
	Retry        RetryConfig
	SendInterval time.Duration
	LockTTL      time.Duration
}

type NewMessageParams struct {
	Recipient string
	Subject   string
	Body      string
}

// MailerService is the entry point used by the HTTP API and main. It owns
// both queue engines and the scheduler that drives the retry engine.
type MailerService struct {
	repo      domain.MessageRepository
	queue     *QueueEngine
	retry     *RetryEngine
	scheduler *Scheduler
	locker    domain.Locker
	receipts  domain.ReceiptStore
	lockTTL   time.Duration
	logger    *slog.Logger
}

// NewMailerService wires the engines to the repository and transport. locker
// and receipts may be nil.
func NewMailerService(
	repo domain.MessageRepository,
	transport domain.Transport,
	locker domain.Locker,
	receipts domain.ReceiptStore,
	cfg ServiceConfig,
	logger *slog.Logger,
	opts ...EngineOption,
) *MailerService {
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = DefaultSendInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if locker == nil {
		locker = newLocalLocker()
	}

	s := &MailerService{
		repo:     repo,
		locker:   locker,
		receipts: receipts,
		lockTTL:  cfg.LockTTL,
		logger:   logger.With(slog.String("component", "mailer_service")),
	}

	opts = append([]EngineOption{WithLogger(logger)}, opts...)
	opts = append(opts, WithSentHook(s.storeReceipt))

	s.queue = NewQueueEngine(repo, transport, opts...)
	s.retry = NewRetryEngine(repo, transport, cfg.Retry, opts...)
	s.scheduler = NewScheduler(cfg.SendInterval, s.runScheduled, logger)

	return s
}

func (s *MailerService) Enqueue(ctx context.Context, params NewMessageParams) (domain.Message, error) {
	message, err := domain.NewMessage(params.Recipient, params.Subject, params.Body)
	if err != nil {
		return domain.Message{}, err
	}

	if err := s.repo.Create(ctx, &message); err != nil {
		return domain.Message{}, fmt.Errorf("enqueue message: %w", err)
	}

	s.logger.Info("Message enqueued", "message_id", message.ID, "recipient", message.Recipient)
	return message, nil
}

// ProcessNow drains the whole pending queue once and returns the number of
// delivered messages. The run is detached from ctx cancellation so a caller
// going away cannot interrupt the batch before its outcomes are committed.
func (s *MailerService) ProcessNow(ctx context.Context) (int, error) {
	ctx = context.WithoutCancel(ctx)

	var sent int
	ran, err := s.withRunLock(ctx, func(ctx context.Context) error {
		var err error
		sent, err = s.queue.Process(ctx)
		return err
	})
	if err != nil {
		return sent, err
	}
	if !ran {
		return 0, ErrRunInProgress
	}
	return sent, nil
}

func (s *MailerService) StartAutoSending() error {
	if s.scheduler.IsRunning() {
		return nil
	}
	s.scheduler.Start()
	s.logger.Info("Automatic message sending started")
	return nil
}

func (s *MailerService) StopAutoSending() error {
	s.scheduler.Stop()
	s.logger.Info("Automatic message sending stopped")
	return nil
}

func (s *MailerService) AutoSending() bool {
	return s.scheduler.IsRunning()
}

func (s *MailerService) GetMessage(ctx context.Context, id int64) (domain.Message, error) {
	return s.repo.Get(ctx, id)
}

func (s *MailerService) ListMessages(ctx context.Context, status domain.MessageStatus, limit, offset uint) ([]domain.Message, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidMessage, status)
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

// GetReceipt reads the cached receipt and falls back to the stored message.
func (s *MailerService) GetReceipt(ctx context.Context, id int64) (domain.Receipt, error) {
	if s.receipts != nil {
		receipt, err := s.receipts.Get(ctx, id)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, domain.ErrReceiptNotFound) {
			s.logger.Warn("Error reading cached receipt", "message_id", id, "error", err)
		}
	}

	message, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}

	receipt, ok := message.Receipt()
	if !ok {
		return domain.Receipt{}, domain.ErrReceiptNotFound
	}

	if s.receipts != nil {
		if err := s.receipts.Put(ctx, receipt); err != nil {
			s.logger.Warn("Error caching receipt", "message_id", id, "error", err)
		}
	}
	return receipt, nil
}

func (s *MailerService) runScheduled(ctx context.Context) error {
	ran, err := s.withRunLock(ctx, s.retry.Process)
	if err != nil {
		return err
	}
	if !ran {
		s.logger.Info("Skipping scheduled run, another run is in progress")
	}
	return nil
}

func (s *MailerService) withRunLock(ctx context.Context, fn func(context.Context) error) (bool, error) {
	unlock, ok, err := s.locker.TryLock(ctx, runLockKey, s.lockTTL)
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if err := unlock(unlockCtx); err != nil {
			s.logger.Warn("Error releasing run lock", "error", err)
		}
	}()

	return true, fn(ctx)
}

func (s *MailerService) storeReceipt(message domain.Message) {
	if s.receipts == nil {
		return
	}
	receipt, ok := message.Receipt()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), receiptTimeout)
	defer cancel()

	if err := s.receipts.Put(ctx, receipt); err != nil {
		s.logger.Error("Error caching receipt", "message_id", message.ID, "error", err)
	}
}

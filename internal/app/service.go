/**
 * @description
 * This file contains the core business logic of the ledger service: the
 * transfer engine. The `Service` struct orchestrates all money movement,
 * coordinating between the database repository, the chain settlement rail,
 * and the message broker.
 *
 * Key features:
 * - Validates every request before any mutation; validation failures never
 *   touch the ledger.
 * - Resolves recipient identifiers to a total Internal/External result, so a
 *   typo can never silently misroute funds.
 * - Delegates the debit + credit + record writes to a single atomic repository
 *   operation; a failure at any point rolls the whole movement back.
 * - Honors caller-supplied idempotency keys: an identical retry returns the
 *   prior result, a mismatched retry is rejected as a conflict.
 * - Publishes notification events to RabbitMQ after commit.
 *
 * @dependencies
 * - context, errors, fmt, log, strings: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal.
 * - internal/domain, internal/store, pkg/rabbitmq.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/victorisiguzoruzoma874/HashPay/internal/domain"
	"github.com/victorisiguzoruzoma874/HashPay/internal/store"
	"github.com/victorisiguzoruzoma874/HashPay/pkg/rabbitmq"
)

const (
	// EventsExchange is the durable topic exchange notification events are
	// published to.
	EventsExchange = "hashpay.events"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

var (
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrInvalidCurrency  = errors.New("currency is required")
	ErrInvalidRecipient = errors.New("recipient identifier is required")
	ErrInvalidRate      = errors.New("exchange rate must be greater than zero")
	ErrSameCurrencySwap = errors.New("swap currencies must differ")
	ErrInvalidExpiry    = errors.New("escrow expiry must be in the future")
	ErrForbidden        = errors.New("requester does not own this resource")
)

// RateLimitedError is returned when a caller exceeds the transfer submission
// rate limit. RetryAfterSeconds tells the caller when to try again.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %ds", e.RetryAfterSeconds)
}

// SettlementRail is the opaque external rail that settles value leaving the
// internal ledger. The engine only ever sees the returned reference string.
type SettlementRail interface {
	SubmitSettlement(ctx context.Context, destination string, amount decimal.Decimal, currency string) (string, error)
}

// TransferRateLimiter is the distributed limiter contract; the Redis
// implementation lives in redis_rate_limiter.go.
type TransferRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (RateLimitResult, error)
}

// Service provides the core ledger business logic.
type Service struct {
	repo          store.Repository
	rail          SettlementRail
	eventProducer rabbitmq.Publisher

	limiter            TransferRateLimiter
	transferRateLimit  int
	transferRateWindow time.Duration
}

// NewService creates a new ledger service instance. The rail and producer may
// be nil; external settlement references and broker events then degrade to
// absent, without blocking ledger operations.
func NewService(repo store.Repository, rail SettlementRail, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		rail:          rail,
		eventProducer: producer,
	}
}

// SetTransferRateLimiter enables distributed rate limiting of transfer
// submissions. limit <= 0 disables it.
func (s *Service) SetTransferRateLimiter(limiter TransferRateLimiter, limitPerWindow int, window time.Duration) {
	s.limiter = limiter
	s.transferRateLimit = limitPerWindow
	s.transferRateWindow = window
}

// ResolveRecipient converts a recipient identifier into a total tagged result:
// an exact match on a known user's email or wallet address is Internal, and
// anything else is External, settled over the chain rail.
func (s *Service) ResolveRecipient(ctx context.Context, identifier string) (domain.Recipient, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return domain.Recipient{}, ErrInvalidRecipient
	}

	user, err := s.repo.FindUserByIdentifier(ctx, trimmed)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return domain.Recipient{Internal: false, Descriptor: trimmed}, nil
		}
		return domain.Recipient{}, fmt.Errorf("failed to resolve recipient: %w", err)
	}
	return domain.Recipient{Internal: true, OwnerID: user.ID, Descriptor: trimmed}, nil
}

func (s *Service) checkTransferRateLimit(ctx context.Context, senderID uuid.UUID) error {
	if s.limiter == nil || s.transferRateLimit <= 0 {
		return nil
	}
	res, err := s.limiter.ConsumeRateLimit(ctx, "transfer", senderID.String(), s.transferRateLimit, s.transferRateWindow)
	if err != nil {
		// The limiter is protective, not load-bearing; a broken limiter must
		// not block legitimate transfers.
		log.Printf("level=warn component=service msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		return nil
	}
	if !res.Allowed {
		return &RateLimitedError{RetryAfterSeconds: int(res.RetryAfter / time.Second)}
	}
	return nil
}

// Transfer moves value from the sender to the resolved recipient with
// all-or-nothing semantics.
func (s *Service) Transfer(ctx context.Context, senderID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error) {
	if !domain.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}
	currency := domain.NormalizeCurrency(req.Currency)
	if currency == "" {
		return nil, ErrInvalidCurrency
	}
	if err := s.checkTransferRateLimit(ctx, senderID); err != nil {
		return nil, err
	}

	recipient, err := s.ResolveRecipient(ctx, req.Recipient)
	if err != nil {
		return nil, err
	}

	// A ref already committed must short-circuit here: retrying the rail
	// submission below would pay the external recipient twice.
	if req.ExternalRef != nil {
		prior, err := s.repo.FindTransactionByExternalRef(ctx, *req.ExternalRef)
		if err == nil {
			if replayErr := store.EvaluateReplay(prior, senderID, domain.KindSent, req.Amount, currency, recipient.Descriptor); replayErr != nil {
				return nil, replayErr
			}
			log.Printf("level=info component=service op=transfer sender_id=%s recipient=%s amount=%s currency=%s replayed=true",
				senderID, recipient.Descriptor, req.Amount.String(), currency)
			return &domain.TransferResult{
				TransactionID: prior.ID,
				Status:        prior.Status,
				Amount:        prior.Amount,
				Currency:      prior.Currency,
				SettlementRef: prior.SettlementRef,
				Replayed:      true,
			}, nil
		}
		if !errors.Is(err, store.ErrTransactionNotFound) {
			return nil, err
		}
	}

	sender, err := s.repo.FindUserByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to find sender: %w", err)
	}

	var settlementRef *string
	if !recipient.Internal {
		// Pre-flight the balance so an obviously doomed request never reaches
		// the external rail; the atomic commit re-checks under lock.
		account, err := s.repo.FindAccountByOwnerAndCurrency(ctx, senderID, currency)
		if err != nil {
			return nil, err
		}
		if account.Balance.LessThan(req.Amount) {
			return nil, store.ErrInsufficientFunds
		}
		if s.rail != nil {
			ref, err := s.rail.SubmitSettlement(ctx, recipient.Descriptor, req.Amount, currency)
			if err != nil {
				return nil, fmt.Errorf("chain settlement failed: %w", err)
			}
			settlementRef = &ref
		}
	}

	outcome, err := s.repo.PerformTransfer(ctx, store.TransferParams{
		SenderID:          senderID,
		SenderDescriptor:  sender.Email,
		Recipient:         recipient,
		Amount:            req.Amount,
		Currency:          currency,
		ExternalRef:       req.ExternalRef,
		SettlementRef:     settlementRef,
		NotificationTitle: "Payment Received",
		NotificationBody:  fmt.Sprintf("You received %s %s from %s", req.Amount.String(), currency, sender.Email),
	})
	if err != nil {
		return nil, err
	}

	if !outcome.Replayed && recipient.Internal {
		s.publishNotification(ctx, recipient.OwnerID, "Payment Received",
			fmt.Sprintf("You received %s %s from %s", req.Amount.String(), currency, sender.Email), "transaction")
	}

	log.Printf("level=info component=service op=transfer sender_id=%s recipient=%s amount=%s currency=%s replayed=%t",
		senderID, recipient.Descriptor, req.Amount.String(), currency, outcome.Replayed)

	return &domain.TransferResult{
		TransactionID: outcome.SentRecord.ID,
		Status:        outcome.SentRecord.Status,
		Amount:        outcome.SentRecord.Amount,
		Currency:      outcome.SentRecord.Currency,
		SettlementRef: outcome.SentRecord.SettlementRef,
		Replayed:      outcome.Replayed,
	}, nil
}

// Deposit credits an owner's account from an external source (on-ramp).
func (s *Service) Deposit(ctx context.Context, ownerID uuid.UUID, req domain.RampRequest) (*domain.TransactionRecord, error) {
	if !domain.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}
	currency := domain.NormalizeCurrency(req.Currency)
	if currency == "" {
		return nil, ErrInvalidCurrency
	}

	record, err := s.repo.PerformRamp(ctx, store.RampParams{
		OwnerID:      ownerID,
		Kind:         domain.KindOnRamp,
		Amount:       req.Amount,
		Currency:     currency,
		Counterparty: "on-ramp",
		ExternalRef:  req.ExternalRef,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=service op=deposit owner_id=%s amount=%s currency=%s", ownerID, req.Amount.String(), currency)
	return record, nil
}

// Withdraw debits an owner's account toward an external sink (off-ramp). The
// settlement reference from the rail is stored on the record when available.
func (s *Service) Withdraw(ctx context.Context, ownerID uuid.UUID, req domain.RampRequest) (*domain.TransactionRecord, error) {
	if !domain.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}
	currency := domain.NormalizeCurrency(req.Currency)
	if currency == "" {
		return nil, ErrInvalidCurrency
	}

	account, err := s.repo.FindAccountByOwnerAndCurrency(ctx, ownerID, currency)
	if err != nil {
		return nil, err
	}
	if account.Balance.LessThan(req.Amount) {
		return nil, store.ErrInsufficientFunds
	}

	var settlementRef *string
	if s.rail != nil {
		owner, err := s.repo.FindUserByID(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("failed to find owner: %w", err)
		}
		ref, err := s.rail.SubmitSettlement(ctx, owner.Address, req.Amount, currency)
		if err != nil {
			return nil, fmt.Errorf("chain settlement failed: %w", err)
		}
		settlementRef = &ref
	}

	record, err := s.repo.PerformRamp(ctx, store.RampParams{
		OwnerID:       ownerID,
		Kind:          domain.KindOffRamp,
		Amount:        req.Amount,
		Currency:      currency,
		Counterparty:  "off-ramp",
		ExternalRef:   req.ExternalRef,
		SettlementRef: settlementRef,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=service op=withdraw owner_id=%s amount=%s currency=%s", ownerID, req.Amount.String(), currency)
	return record, nil
}

// Swap converts value between two of the owner's currencies at the supplied
// rate, rounding half-up to the target asset's scale.
func (s *Service) Swap(ctx context.Context, ownerID uuid.UUID, req domain.SwapRequest) (*domain.SwapResult, error) {
	if !domain.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}
	if req.Rate.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	from := domain.NormalizeCurrency(req.FromCurrency)
	to := domain.NormalizeCurrency(req.ToCurrency)
	if from == "" || to == "" {
		return nil, ErrInvalidCurrency
	}
	if from == to {
		return nil, ErrSameCurrencySwap
	}

	amountOut := domain.Convert(req.Amount, req.Rate, to)
	if !domain.IsPositive(amountOut) {
		// A dust amount that rounds to zero would destroy value.
		return nil, ErrInvalidAmount
	}

	outcome, err := s.repo.PerformSwap(ctx, store.SwapParams{
		OwnerID:      ownerID,
		FromCurrency: from,
		ToCurrency:   to,
		AmountIn:     req.Amount,
		AmountOut:    amountOut,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=service op=swap owner_id=%s from=%s to=%s amount_in=%s amount_out=%s",
		ownerID, from, to, req.Amount.String(), amountOut.String())
	return &domain.SwapResult{
		DebitTransactionID:  outcome.SentRecord.ID,
		CreditTransactionID: outcome.ReceivedRecord.ID,
		AmountOut:           amountOut,
		ToCurrency:          to,
	}, nil
}

// GetHistory lists an owner's transaction records, most recent first. Each
// call is an independent, restartable query.
func (s *Service) GetHistory(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.FindTransactionsByOwnerID(ctx, ownerID, limit)
}

// ListAccounts returns the owner's balances per currency.
func (s *Service) ListAccounts(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	return s.repo.FindAccountsByOwnerID(ctx, ownerID)
}

// ListNotifications returns the owner's in-app notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.FindNotificationsByOwnerID(ctx, ownerID, limit)
}

// CreateContact saves a counterparty alias for the owner.
func (s *Service) CreateContact(ctx context.Context, ownerID uuid.UUID, req domain.CreateContactRequest) (*domain.Contact, error) {
	name := strings.TrimSpace(req.Name)
	address := strings.TrimSpace(req.Address)
	if name == "" || address == "" {
		return nil, ErrInvalidRecipient
	}
	return s.repo.CreateContact(ctx, &domain.Contact{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Name:    name,
		Address: address,
	})
}

// ListContacts returns the owner's saved contacts.
func (s *Service) ListContacts(ctx context.Context, ownerID uuid.UUID) ([]domain.Contact, error) {
	return s.repo.FindContactsByOwnerID(ctx, ownerID)
}

// DeleteContact removes one of the owner's contacts.
func (s *Service) DeleteContact(ctx context.Context, ownerID, contactID uuid.UUID) error {
	deleted, err := s.repo.DeleteContact(ctx, contactID, ownerID)
	if err != nil {
		return err
	}
	if !deleted {
		return store.ErrContactNotFound
	}
	return nil
}

// publishNotification emits a broker event after commit. Broker trouble is
// logged, never propagated: the ledger change has already happened.
func (s *Service) publishNotification(ctx context.Context, ownerID uuid.UUID, title, message, category string) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.NotificationEvent{
		OwnerID:  ownerID,
		Title:    title,
		Message:  message,
		Category: category,
	}
	if err := s.eventProducer.PublishNotificationEvent(ctx, event); err != nil {
		log.Printf("level=warn component=service msg=\"notification publish failed\" owner_id=%s err=%v", ownerID, err)
	}
}

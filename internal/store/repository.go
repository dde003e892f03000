/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the ledger service. By defining an
 * interface, we decouple the transfer engine and escrow manager from the
 * PostgreSQL implementation, making the business logic testable with stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - github.com/shopspring/decimal: For exact monetary amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/victorisiguzoruzoma874/HashPay/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransition   = errors.New("invalid transaction status transition")
	ErrEscrowNotFound      = errors.New("escrow not found")
	ErrContactExists       = errors.New("contact address already saved")
	ErrContactNotFound     = errors.New("contact not found")
	ErrIdempotencyConflict = errors.New("external ref replayed with different parameters")
	ErrStorageUnavailable  = errors.New("storage temporarily unavailable")
)

// InvalidEscrowStateError is returned when a transition is attempted on an
// escrow that is no longer pending. It carries the offending current state so
// the caller can see what the escrow actually is.
type InvalidEscrowStateError struct {
	EscrowID uuid.UUID
	Current  string
}

func (e *InvalidEscrowStateError) Error() string {
	return fmt.Sprintf("escrow %s is %s, not pending", e.EscrowID, e.Current)
}

// TransferParams describes one balance move for the atomic transfer operation.
// The recipient has already been resolved by the transfer engine.
type TransferParams struct {
	SenderID          uuid.UUID
	SenderDescriptor  string
	Recipient         domain.Recipient
	Amount            decimal.Decimal
	Currency          string
	ExternalRef       *string
	SettlementRef     *string
	NotificationTitle string
	NotificationBody  string
}

// TransferOutcome reports the records written by a committed transfer.
// ReceivedRecord is nil when the counterparty is external. Replayed is set
// when an idempotent retry returned the previously committed result.
type TransferOutcome struct {
	SentRecord     *domain.TransactionRecord
	ReceivedRecord *domain.TransactionRecord
	Replayed       bool
}

// RampParams describes a single-sided on-ramp or off-ramp movement.
type RampParams struct {
	OwnerID       uuid.UUID
	Kind          string
	Amount        decimal.Decimal
	Currency      string
	Counterparty  string
	ExternalRef   *string
	SettlementRef *string
}

// SwapParams describes a same-owner cross-currency conversion. AmountOut has
// already been converted and rounded by the engine.
type SwapParams struct {
	OwnerID      uuid.UUID
	FromCurrency string
	ToCurrency   string
	AmountIn     decimal.Decimal
	AmountOut    decimal.Decimal
}

// SwapOutcome reports both legs of a committed swap.
type SwapOutcome struct {
	SentRecord     *domain.TransactionRecord
	ReceivedRecord *domain.TransactionRecord
}

// EscrowSettlement carries the engine-resolved recipient for an escrow
// release. RecipientOwnerID is nil when the recipient is external; the rail
// reference for an external payout is attached after the release commits.
type EscrowSettlement struct {
	RecipientOwnerID *uuid.UUID
}

// EscrowReleaseOutcome reports a committed release: the completed escrow and
// the funder's settlement record, so a rail reference can be attached to it.
type EscrowReleaseOutcome struct {
	Escrow     *domain.Escrow
	SentRecord *domain.TransactionRecord
}

// EvaluateReplay decides whether a previously committed record carrying the
// same external ref is an idempotent replay (identical parameters) or a
// conflict. The transfer engine consults it before invoking the settlement
// rail; the atomic operations re-run it under the unique-index guard.
func EvaluateReplay(prior *domain.TransactionRecord, ownerID uuid.UUID, kind string, amount decimal.Decimal, currency, counterparty string) error {
	if prior.Status != domain.StatusCompleted {
		// A pending or failed prior record means the original attempt never
		// settled; the caller must not silently reuse its ref.
		return ErrIdempotencyConflict
	}
	if prior.OwnerID != ownerID || prior.Kind != kind || !prior.Amount.Equal(amount) || prior.Currency != currency {
		return ErrIdempotencyConflict
	}
	if prior.Counterparty != counterparty {
		return ErrIdempotencyConflict
	}
	return nil
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Recipient resolution
	FindUserByIdentifier(ctx context.Context, identifier string) (*domain.User, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	// Ledger store
	GetOrCreateAccount(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error)
	FindAccountByOwnerAndCurrency(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error)
	FindAccountsByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error)

	// Atomic money movement
	PerformTransfer(ctx context.Context, p TransferParams) (*TransferOutcome, error)
	PerformRamp(ctx context.Context, p RampParams) (*domain.TransactionRecord, error)
	PerformSwap(ctx context.Context, p SwapParams) (*SwapOutcome, error)

	// Transaction log
	MarkTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error
	AttachSettlementRef(ctx context.Context, transactionID uuid.UUID, settlementRef string) error
	FindTransactionsByOwnerID(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.TransactionRecord, error)
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.TransactionRecord, error)
	FindTransactionByExternalRef(ctx context.Context, externalRef string) (*domain.TransactionRecord, error)

	// Escrow manager
	CreateEscrowAtomic(ctx context.Context, escrow *domain.Escrow) (*domain.Escrow, error)
	FindEscrowByID(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error)
	FindEscrowsByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]domain.Escrow, error)
	ReleaseEscrowAtomic(ctx context.Context, escrowID uuid.UUID, settlement EscrowSettlement) (*EscrowReleaseOutcome, error)
	DisputeEscrowAtomic(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error)
	ExpireEscrowAtomic(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error)
	FindExpiredPendingEscrows(ctx context.Context, limit int) ([]domain.Escrow, error)

	// Contacts
	CreateContact(ctx context.Context, contact *domain.Contact) (*domain.Contact, error)
	FindContactsByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]domain.Contact, error)
	DeleteContact(ctx context.Context, contactID, ownerID uuid.UUID) (bool, error)

	// In-app notifications
	CreateNotification(ctx context.Context, n domain.Notification) error
	FindNotificationsByOwnerID(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.Notification, error)
}

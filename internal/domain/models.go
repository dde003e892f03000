/**
 * @description
 * This file defines the core domain models for the ledger service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout
 * the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Monetary amounts use shopspring/decimal end to end. Balances are NUMERIC in
 *   the database and decimal strings on the wire; floating point is never used
 *   for money.
 * - Using distinct types for API requests and database models keeps the web
 *   layer decoupled from storage.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account types distinguish user spendable balances from system-held funds.
const (
	AccountTypeUser       = "user"
	AccountTypeEscrowHold = "escrow_hold"
)

// Transaction record kinds, matching the four legitimate movement categories.
const (
	KindSent     = "sent"
	KindReceived = "received"
	KindOnRamp   = "on_ramp"
	KindOffRamp  = "off_ramp"
)

// Transaction record statuses. Only a pending record may transition.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Escrow statuses. pending is the only state the automatic engine acts from.
const (
	EscrowPending   = "pending"
	EscrowCompleted = "completed"
	EscrowDisputed  = "disputed"
	EscrowExpired   = "expired"
)

// HoldingOwnerID is the reserved owner id of the system holding accounts that
// carry escrowed funds. It is never issued to a real user.
var HoldingOwnerID = uuid.Nil

// Account is a balance ledger entry for one (owner, currency) pair.
// Display metadata is cosmetic and owned by the presentation layer.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Currency  string          `json:"currency"`
	Type      string          `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	Name      string          `json:"name,omitempty"`
	Color     string          `json:"color,omitempty"`
	Icon      string          `json:"icon,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransactionRecord is one immutable entry in the append-only transaction log.
type TransactionRecord struct {
	ID            uuid.UUID       `json:"id"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Counterparty  string          `json:"counterparty"`
	Status        string          `json:"status"`
	ExternalRef   *string         `json:"external_ref,omitempty"`
	SettlementRef *string         `json:"settlement_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Escrow is a conditional hold of funds pending release or dispute.
type Escrow struct {
	ID               uuid.UUID       `json:"id"`
	OwnerID          uuid.UUID       `json:"owner_id"`
	Recipient        string          `json:"recipient"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	HoldingAccountID uuid.UUID       `json:"holding_account_id"`
	ExpiresAt        time.Time       `json:"expires_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Contact is an owner-scoped named alias for a counterparty address.
type Contact struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is a user-visible event row written alongside the operation
// that produced it.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// User is the minimal identity view the ledger needs to resolve recipients.
type User struct {
	ID      uuid.UUID `json:"id"`
	Email   string    `json:"email"`
	Address string    `json:"address"`
}

// Recipient is the result of resolving a recipient identifier. Exactly one of
// the two shapes holds: an internal owner id, or an external descriptor that
// settles over the chain rail.
type Recipient struct {
	Internal   bool
	OwnerID    uuid.UUID
	Descriptor string
}

// TransferRequest is the DTO for incoming transfer API requests.
type TransferRequest struct {
	Recipient   string          `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ExternalRef *string         `json:"external_ref,omitempty"`
}

// TransferResult is returned to the caller after a committed transfer.
type TransferResult struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	SettlementRef *string         `json:"settlement_ref,omitempty"`
	Replayed      bool            `json:"replayed,omitempty"`
}

// RampRequest is the DTO for on-ramp (deposit) and off-ramp (withdrawal)
// API requests.
type RampRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ExternalRef *string         `json:"external_ref,omitempty"`
}

// SwapRequest is the DTO for same-owner cross-currency conversions. The rate
// is supplied by the exchange-rate glue, which is outside this service.
type SwapRequest struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Amount       decimal.Decimal `json:"amount"`
	Rate         decimal.Decimal `json:"rate"`
}

// SwapResult reports both legs of a committed swap.
type SwapResult struct {
	DebitTransactionID  uuid.UUID       `json:"debit_transaction_id"`
	CreditTransactionID uuid.UUID       `json:"credit_transaction_id"`
	AmountOut           decimal.Decimal `json:"amount_out"`
	ToCurrency          string          `json:"to_currency"`
}

// CreateEscrowRequest is the DTO for opening an escrow hold.
type CreateEscrowRequest struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// CreateContactRequest is the DTO for saving a counterparty alias.
type CreateContactRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

/**
 * @description
 * This file contains the HTTP handlers for the ledger service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/victorisiguzoruzoma874/HashPay/internal/app"
	"github.com/victorisiguzoruzoma874/HashPay/internal/domain"
	"github.com/victorisiguzoruzoma874/HashPay/internal/store"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps domain and storage errors onto HTTP statuses. Errors
// without a mapping are logged and returned as a generic 500.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var rateErr *app.RateLimitedError
	if errors.As(err, &rateErr) {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, rateErr.Error())
		return
	}
	var stateErr *store.InvalidEscrowStateError
	if errors.As(err, &stateErr) {
		h.writeError(w, http.StatusConflict, stateErr.Error())
		return
	}

	switch {
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidCurrency),
		errors.Is(err, app.ErrInvalidRecipient),
		errors.Is(err, app.ErrInvalidRate),
		errors.Is(err, app.ErrSameCurrencySwap),
		errors.Is(err, app.ErrInvalidExpiry),
		errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrForbidden):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrEscrowNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrContactNotFound),
		errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrIdempotencyConflict),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrContactExists):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrStorageUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "storage temporarily unavailable, retry later")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *LedgerHandlers) ownerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "could not get owner ID from context")
		return uuid.Nil, false
	}
	return ownerID, true
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

// TransferHandler handles requests to move value to another party.
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	senderID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	result, err := h.service.Transfer(r.Context(), senderID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=transfer outcome=failed sender_id=%s err=%v", senderID, err)
		h.writeServiceError(w, "transfer", err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	h.writeJSON(w, status, result)
}

// ListTransactionsHandler returns the owner's transaction history, newest first.
func (h *LedgerHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	records, err := h.service.GetHistory(r.Context(), ownerID, limitParam(r))
	if err != nil {
		h.writeServiceError(w, "list_transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": records})
}

// ListAccountsHandler returns the owner's balances per currency.
func (h *LedgerHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, "list_accounts", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

// DepositHandler credits the owner's balance from an external source.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req domain.RampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	record, err := h.service.Deposit(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, "deposit", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

// WithdrawHandler debits the owner's balance toward an external sink.
func (h *LedgerHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req domain.RampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	record, err := h.service.Withdraw(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, "withdraw", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

// SwapHandler converts value between two of the owner's currencies.
func (h *LedgerHandlers) SwapHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req domain.SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	result, err := h.service.Swap(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, "swap", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// CreateEscrowHandler opens a new escrow hold.
func (h *LedgerHandlers) CreateEscrowHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req domain.CreateEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	escrow, err := h.service.CreateEscrow(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, "create_escrow", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, escrow)
}

// ListEscrowsHandler returns the owner's escrows, newest first.
func (h *LedgerHandlers) ListEscrowsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	escrows, err := h.service.ListEscrows(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, "list_escrows", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"escrows": escrows})
}

func escrowIDParam(w http.ResponseWriter, r *http.Request, h *LedgerHandlers) (uuid.UUID, bool) {
	escrowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid escrow id")
		return uuid.Nil, false
	}
	return escrowID, true
}

// GetEscrowHandler returns one escrow, visible only to its funder.
func (h *LedgerHandlers) GetEscrowHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	escrowID, ok := escrowIDParam(w, r, h)
	if !ok {
		return
	}

	escrow, err := h.service.GetEscrow(r.Context(), escrowID, ownerID)
	if err != nil {
		h.writeServiceError(w, "get_escrow", err)
		return
	}
	h.writeJSON(w, http.StatusOK, escrow)
}

// ReleaseEscrowHandler completes a pending escrow, paying out its recipient.
func (h *LedgerHandlers) ReleaseEscrowHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	escrowID, ok := escrowIDParam(w, r, h)
	if !ok {
		return
	}

	escrow, err := h.service.ReleaseEscrow(r.Context(), escrowID, ownerID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=release_escrow outcome=failed escrow_id=%s owner_id=%s err=%v", escrowID, ownerID, err)
		h.writeServiceError(w, "release_escrow", err)
		return
	}
	h.writeJSON(w, http.StatusOK, escrow)
}

// DisputeEscrowHandler freezes a pending escrow.
func (h *LedgerHandlers) DisputeEscrowHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	escrowID, ok := escrowIDParam(w, r, h)
	if !ok {
		return
	}

	escrow, err := h.service.DisputeEscrow(r.Context(), escrowID, ownerID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=dispute_escrow outcome=failed escrow_id=%s owner_id=%s err=%v", escrowID, ownerID, err)
		h.writeServiceError(w, "dispute_escrow", err)
		return
	}
	h.writeJSON(w, http.StatusOK, escrow)
}

// CreateContactHandler saves a counterparty alias.
func (h *LedgerHandlers) CreateContactHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req domain.CreateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	contact, err := h.service.CreateContact(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, "create_contact", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, contact)
}

// ListContactsHandler returns the owner's saved contacts.
func (h *LedgerHandlers) ListContactsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	contacts, err := h.service.ListContacts(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, "list_contacts", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"contacts": contacts})
}

// DeleteContactHandler removes one of the owner's contacts.
func (h *LedgerHandlers) DeleteContactHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	contactID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	if err := h.service.DeleteContact(r.Context(), ownerID, contactID); err != nil {
		h.writeServiceError(w, "delete_contact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNotificationsHandler returns the owner's in-app notifications.
func (h *LedgerHandlers) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	notifications, err := h.service.ListNotifications(r.Context(), ownerID, limitParam(r))
	if err != nil {
		h.writeServiceError(w, "list_notifications", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed to operate the ledger: accounts, the append-only
 * transaction log, escrows, contacts, and in-app notifications.
 *
 * Every balance-affecting operation runs inside a single database transaction.
 * Account rows are locked with `SELECT ... FOR UPDATE` in ascending id order so
 * two concurrent transfers touching the same pair of accounts cannot deadlock.
 * Balances are NUMERIC and cross the driver boundary as decimal strings.
 *
 * @dependencies
 * - context, errors, fmt, sort: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - github.com/shopspring/decimal: Exact decimal arithmetic.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victorisiguzoruzoma874/HashPay/internal/domain"
)

const (
	accountColumns = `id, owner_id, currency, account_type, balance::text, name, color, icon, created_at, updated_at`
	recordColumns  = `id, owner_id, kind, amount::text, currency, counterparty, status, external_ref, settlement_ref, created_at, updated_at`
	escrowColumns  = `id, owner_id, recipient, amount::text, currency, status, holding_account_id, expires_at, created_at, updated_at`
)

// PostgresRepository is a concrete implementation of the Repository interface.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// wrapTransient classifies connection-level failures as ErrStorageUnavailable
// so callers know the operation is safe to retry.
func wrapTransient(err error) error {
	if err == nil {
		return nil
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var balance string
	err := row.Scan(
		&account.ID, &account.OwnerID, &account.Currency, &account.Type,
		&balance, &account.Name, &account.Color, &account.Icon,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for account %s: %w", account.ID, err)
	}
	return &account, nil
}

func scanRecord(row rowScanner) (*domain.TransactionRecord, error) {
	var record domain.TransactionRecord
	var amount string
	err := row.Scan(
		&record.ID, &record.OwnerID, &record.Kind, &amount, &record.Currency,
		&record.Counterparty, &record.Status, &record.ExternalRef,
		&record.SettlementRef, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for transaction %s: %w", record.ID, err)
	}
	return &record, nil
}

func scanEscrow(row rowScanner) (*domain.Escrow, error) {
	var escrow domain.Escrow
	var amount string
	err := row.Scan(
		&escrow.ID, &escrow.OwnerID, &escrow.Recipient, &amount, &escrow.Currency,
		&escrow.Status, &escrow.HoldingAccountID, &escrow.ExpiresAt,
		&escrow.CreatedAt, &escrow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	escrow.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for escrow %s: %w", escrow.ID, err)
	}
	return &escrow, nil
}

// FindUserByIdentifier resolves a recipient identifier against known users by
// exact email or wallet address match.
func (r *PostgresRepository) FindUserByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, btrim(email), address FROM users WHERE lower(btrim(email)) = lower(btrim($1)) OR address = btrim($1)`
	err := r.db.QueryRow(ctx, query, identifier).Scan(&user.ID, &user.Email, &user.Address)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, wrapTransient(err)
	}
	return &user, nil
}

// FindUserByID retrieves a user by their internal id.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, btrim(email), address FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Email, &user.Address)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, wrapTransient(err)
	}
	return &user, nil
}

// getOrCreateAccountTx returns the account for (owner, currency, type),
// creating a zero-balance row on first use. The unique index on
// (owner_id, currency, account_type) makes concurrent first-use safe.
func getOrCreateAccountTx(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, currency, accountType string) (*domain.Account, error) {
	name := "Main Wallet"
	if accountType == domain.AccountTypeEscrowHold {
		name = "Escrow Holding"
	}
	insert := `
		INSERT INTO accounts (id, owner_id, currency, account_type, balance, name)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (owner_id, currency, account_type) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, uuid.New(), ownerID, currency, accountType, name); err != nil {
		return nil, err
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 AND currency = $2 AND account_type = $3`
	return scanAccount(tx.QueryRow(ctx, query, ownerID, currency, accountType))
}

func findAccountTx(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, currency, accountType string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 AND currency = $2 AND account_type = $3`
	account, err := scanAccount(tx.QueryRow(ctx, query, ownerID, currency, accountType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// lockAccountsTx acquires row locks on the given accounts in ascending id
// order and returns their current balances. Consistent lock ordering prevents
// deadlocks between concurrent transfers on the same account pair.
func lockAccountsTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	ordered := make([]uuid.UUID, len(ids))
	copy(ordered, ids)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].String() < ordered[j].String()
	})

	balances := make(map[uuid.UUID]decimal.Decimal, len(ordered))
	for _, id := range ordered {
		var raw string
		err := tx.QueryRow(ctx, `SELECT balance::text FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrAccountNotFound
			}
			return nil, err
		}
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt balance for account %s: %w", id, err)
		}
		balances[id] = balance
	}
	return balances, nil
}

func adjustBalanceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta decimal.Decimal) error {
	result, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $1::numeric, updated_at = NOW() WHERE id = $2`,
		delta.String(), accountID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func insertRecordTx(ctx context.Context, tx pgx.Tx, record *domain.TransactionRecord) error {
	query := `
		INSERT INTO transactions (id, owner_id, kind, amount, currency, counterparty, status, external_ref, settlement_ref)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	return tx.QueryRow(ctx, query,
		record.ID, record.OwnerID, record.Kind, record.Amount.String(), record.Currency,
		record.Counterparty, record.Status, record.ExternalRef, record.SettlementRef,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
}

func insertNotificationTx(ctx context.Context, tx pgx.Tx, n domain.Notification) error {
	query := `
		INSERT INTO notifications (id, owner_id, title, message, category, read)
		VALUES ($1, $2, $3, $4, $5, FALSE)
	`
	_, err := tx.Exec(ctx, query, n.ID, n.OwnerID, n.Title, n.Message, n.Category)
	return err
}

func findRecordByExternalRefTx(ctx context.Context, tx pgx.Tx, externalRef string) (*domain.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM transactions WHERE external_ref = $1`
	record, err := scanRecord(tx.QueryRow(ctx, query, externalRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return record, nil
}

// GetOrCreateAccount returns the spendable account for (owner, currency),
// creating it with balance 0 on first use.
func (r *PostgresRepository) GetOrCreateAccount(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer tx.Rollback(ctx)

	account, err := getOrCreateAccountTx(ctx, tx, ownerID, currency, domain.AccountTypeUser)
	if err != nil {
		return nil, wrapTransient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient(err)
	}
	return account, nil
}

// FindAccountByOwnerAndCurrency returns the spendable account without creating it.
func (r *PostgresRepository) FindAccountByOwnerAndCurrency(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 AND currency = $2 AND account_type = $3`
	account, err := scanAccount(r.db.QueryRow(ctx, query, ownerID, currency, domain.AccountTypeUser))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, wrapTransient(err)
	}
	return account, nil
}

// FindAccountsByOwnerID lists all spendable accounts for an owner.
func (r *PostgresRepository) FindAccountsByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 AND account_type = $2 ORDER BY currency`
	rows, err := r.db.Query(ctx, query, ownerID, domain.AccountTypeUser)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// PerformTransfer moves value from the sender to the resolved recipient as a
// single unit: debit, optional credit, both log records and the recipient
// notification commit or roll back together.
func (r *PostgresRepository) PerformTransfer(ctx context.Context, p TransferParams) (*TransferOutcome, error) {
	outcome, err := r.performTransferOnce(ctx, p)
	if err != nil && p.ExternalRef != nil && isUniqueViolation(err, "transactions_external_ref_key") {
		// Lost a race with a concurrent submission carrying the same ref;
		// the winner's committed record decides replay vs conflict.
		return r.replayTransferByExternalRef(ctx, p)
	}
	return outcome, err
}

func (r *PostgresRepository) performTransferOnce(ctx context.Context, p TransferParams) (*TransferOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer tx.Rollback(ctx)

	if p.ExternalRef != nil {
		prior, err := findRecordByExternalRefTx(ctx, tx, *p.ExternalRef)
		if err == nil {
			if replayErr := EvaluateReplay(prior, p.SenderID, domain.KindSent, p.Amount, p.Currency, p.Recipient.Descriptor); replayErr != nil {
				return nil, replayErr
			}
			return &TransferOutcome{SentRecord: prior, Replayed: true}, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, wrapTransient(err)
		}
	}

	senderAccount, err := findAccountTx(ctx, tx, p.SenderID, p.Currency, domain.AccountTypeUser)
	if err != nil {
		return nil, wrapTransient(err)
	}

	var recipientAccount *domain.Account
	if p.Recipient.Internal {
		recipientAccount, err = getOrCreateAccountTx(ctx, tx, p.Recipient.OwnerID, p.Currency, domain.AccountTypeUser)
		if err != nil {
			return nil, wrapTransient(err)
		}
	}

	lockIDs := []uuid.UUID{senderAccount.ID}
	if recipientAccount != nil {
		lockIDs = append(lockIDs, recipientAccount.ID)
	}
	balances, err := lockAccountsTx(ctx, tx, lockIDs)
	if err != nil {
		return nil, wrapTransient(err)
	}
	if balances[senderAccount.ID].LessThan(p.Amount) {
		return nil, ErrInsufficientFunds
	}

	if err := adjustBalanceTx(ctx, tx, senderAccount.ID, p.Amount.Neg()); err != nil {
		return nil, wrapTransient(err)
	}
	if recipientAccount != nil {
		if err := adjustBalanceTx(ctx, tx, recipientAccount.ID, p.Amount); err != nil {
			return nil, wrapTransient(err)
		}
	}

	sent := &domain.TransactionRecord{
		ID:            uuid.New(),
		OwnerID:       p.SenderID,
		Kind:          domain.KindSent,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Counterparty:  p.Recipient.Descriptor,
		Status:        domain.StatusCompleted,
		ExternalRef:   p.ExternalRef,
		SettlementRef: p.SettlementRef,
	}
	if err := insertRecordTx(ctx, tx, sent); err != nil {
		return nil, err
	}

	var received *domain.TransactionRecord
	if p.Recipient.Internal {
		received = &domain.TransactionRecord{
			ID:           uuid.New(),
			OwnerID:      p.Recipient.OwnerID,
			Kind:         domain.KindReceived,
			Amount:       p.Amount,
			Currency:     p.Currency,
			Counterparty: p.SenderDescriptor,
			Status:       domain.StatusCompleted,
		}
		if err := insertRecordTx(ctx, tx, received); err != nil {
			return nil, err
		}
		notification := domain.Notification{
			ID:       uuid.New(),
			OwnerID:  p.Recipient.OwnerID,
			Title:    p.NotificationTitle,
			Message:  p.NotificationBody,
			Category: "transaction",
		}
		if err := insertNotificationTx(ctx, tx, notification); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient(err)
	}
	return &TransferOutcome{SentRecord: sent, ReceivedRecord: received}, nil
}

func (r *PostgresRepository) replayTransferByExternalRef(ctx context.Context, p TransferParams) (*TransferOutcome, error) {
	prior, err := r.FindTransactionByExternalRef(ctx, *p.ExternalRef)
	if err != nil {
		return nil, err
	}
	if replayErr := EvaluateReplay(prior, p.SenderID, domain.KindSent, p.Amount, p.Currency, p.Recipient.Descriptor); replayErr != nil {
		return nil, replayErr
	}
	return &TransferOutcome{SentRecord: prior, Replayed: true}, nil
}

// PerformRamp applies a single-sided on-ramp credit or off-ramp debit together
// with its log record.
func (r *PostgresRepository) PerformRamp(ctx context.Context, p RampParams) (*domain.TransactionRecord, error) {
	record, err := r.performRampOnce(ctx, p)
	if err != nil && p.ExternalRef != nil && isUniqueViolation(err, "transactions_external_ref_key") {
		prior, findErr := r.FindTransactionByExternalRef(ctx, *p.ExternalRef)
		if findErr != nil {
			return nil, findErr
		}
		if replayErr := EvaluateReplay(prior, p.OwnerID, p.Kind, p.Amount, p.Currency, p.Counterparty); replayErr != nil {
			return nil, replayErr
		}
		return prior, nil
	}
	return record, err
}

func (r *PostgresRepository) performRampOnce(ctx context.Context, p RampParams) (*domain.TransactionRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer tx.Rollback(ctx)

	if p.ExternalRef != nil {
		prior, err := findRecordByExternalRefTx(ctx, tx, *p.ExternalRef)
		if err == nil {
			if replayErr := EvaluateReplay(prior, p.OwnerID, p.Kind, p.Amount, p.Currency, p.Counterparty); replayErr != nil {
				return nil, replayErr
			}
			return prior, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, wrapTransient(err)
		}
	}

	var account *domain.Account
	if p.Kind == domain.KindOnRamp {
		account, err = getOrCreateAccountTx(ctx, tx, p.OwnerID, p.Currency, domain.AccountTypeUser)
	} else {
		account, err = findAccountTx(ctx, tx, p.OwnerID, p.Currency, domain.AccountTypeUser)
	}
	if err != nil {
		return nil, wrapTransient(err)
	}

	balances, err := lockAccountsTx(ctx, tx, []uuid.UUID{account.ID})
	if err != nil {
		return nil, wrapTransient(err)
	}

	delta := p.Amount
	if p.Kind == domain.KindOffRamp {
		if balances[account.ID].LessThan(p.Amount) {
			return nil, ErrInsufficientFunds
		}
		delta = p.Amount.Neg()
	}
	if err := adjustBalanceTx(ctx, tx, account.ID, delta); err != nil {
		return nil, wrapTransient(err)
	}

	record := &domain.TransactionRecord{
		ID:            uuid.New(),
		OwnerID:       p.OwnerID,
		Kind:          p.Kind,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Counterparty:  p.Counterparty,
		Status:        domain.StatusCompleted,
		ExternalRef:   p.ExternalRef,
		SettlementRef: p.SettlementRef,
	}
	if err := insertRecordTx(ctx, tx, record); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient(err)
	}
	return record, nil
}

// PerformSwap converts value between two currencies of the same owner.
func (r *PostgresRepository) PerformSwap(ctx context.Context, p SwapParams) (*SwapOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer tx.Rollback(ctx)

	fromAccount, err := findAccountTx(ctx, tx, p.OwnerID, p.FromCurrency, domain.AccountTypeUser)
	if err != nil {
		return nil, wrapTransient(err)
	}
	toAccount, err := getOrCreateAccountTx(ctx, tx, p.OwnerID, p.ToCurrency, domain.AccountTypeUser)
	if err != nil {
		return nil, wrapTransient(err)
	}

	balances, err := lockAccountsTx(ctx, tx, []uuid.UUID{fromAccount.ID, toAccount.ID})
	if err != nil {
		return nil, wrapTransient(err)
	}
	if balances[fromAccount.ID].LessThan(p.AmountIn) {
		return nil, ErrInsufficientFunds
	}

	if err := adjustBalanceTx(ctx, tx, fromAccount.ID, p.AmountIn.Neg()); err != nil {
		return nil, wrapTransient(err)
	}
	if err := adjustBalanceTx(ctx, tx, toAccount.ID, p.AmountOut); err != nil {
		return nil, wrapTransient(err)
	}

	sent := &domain.TransactionRecord{
		ID:           uuid.New(),
		OwnerID:      p.OwnerID,
		Kind:         domain.KindSent,
		Amount:       p.AmountIn,
		Currency:     p.FromCurrency,
		Counterparty: fmt.Sprintf("swap:%s->%s", p.FromCurrency, p.ToCurrency),
		Status:       domain.StatusCompleted,
	}
	if err := insertRecordTx(ctx, tx, sent); err != nil {
		return nil, err
	}
	received := &domain.TransactionRecord{
		ID:           uuid.New(),
		OwnerID:      p.OwnerID,
		Kind:         domain.KindReceived,
		Amount:       p.AmountOut,
		Currency:     p.ToCurrency,
		Counterparty: fmt.Sprintf("swap:%s->%s", p.FromCurrency, p.ToCurrency),
		Status:       domain.StatusCompleted,
	}
	if err := insertRecordTx(ctx, tx, received); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient(err)
	}
	return &SwapOutcome{SentRecord: sent, ReceivedRecord: received}, nil
}

// statusTransitionAllowed reports whether a record in the current status may
// move to next. Only pending records transition, and only to completed or
// failed; every other pair is terminal.
func statusTransitionAllowed(current, next string) bool {
	if next != domain.StatusCompleted && next != domain.StatusFailed {
		return false
	}
	return current == domain.StatusPending
}

// MarkTransactionStatus transitions a pending record to completed or failed.
// Any other transition is rejected.
func (r *PostgresRepository) MarkTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	if !statusTransitionAllowed(domain.StatusPending, status) {
		return ErrInvalidTransition
	}
	var id uuid.UUID
	query := `UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3 RETURNING id`
	err := r.db.QueryRow(ctx, query, status, transactionID, domain.StatusPending).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return wrapTransient(err)
	}

	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1`, transactionID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return wrapTransient(err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

// AttachSettlementRef stores the rail's reference on an already committed
// record, after the rail accepted the payout.
func (r *PostgresRepository) AttachSettlementRef(ctx context.Context, transactionID uuid.UUID, settlementRef string) error {
	query := `UPDATE transactions SET settlement_ref = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.Exec(ctx, query, settlementRef, transactionID)
	if err != nil {
		return wrapTransient(err)
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// FindTransactionsByOwnerID lists an owner's records, most recent first.
func (r *PostgresRepository) FindTransactionsByOwnerID(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM transactions WHERE owner_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// FindTransactionByID retrieves a single record.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM transactions WHERE id = $1`
	record, err := scanRecord(r.db.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, wrapTransient(err)
	}
	return record, nil
}

// FindTransactionByExternalRef retrieves the record carrying an idempotency key.
func (r *PostgresRepository) FindTransactionByExternalRef(ctx context.Context, externalRef string) (*domain.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM transactions WHERE external_ref = $1`
	record, err := scanRecord(r.db.QueryRow(ctx, query, externalRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, wrapTransient(err)
	}
	return record, nil
}

// CreateEscrowAtomic earmarks funds by moving them from the funder's account
// into the per-currency holding account and inserting the escrow row, all in
// one transaction.
func (r *PostgresRepository) CreateEscrowAtomic(ctx context.Context, escrow *domain.Escrow) (*domain.Escrow, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer tx.Rollback(ctx)

	funderAccount, err := findAccountTx(ctx, tx, escrow.OwnerID, escrow.Currency, domain.AccountTypeUser)
	if err != nil {
		return nil, wrapTransient(err)
	}
	holdingAccount, err := getOrCreateAccountTx(ctx, tx, domain.HoldingOwnerID, escrow.Currency, domain.AccountTypeEscrowHold)
	if err != nil {
		return nil, wrapTransient(err)
	}

	balances, err := lockAccountsTx(ctx, tx, []uuid.UUID{funderAccount.ID, holdingAccount.ID})
	if err != nil {
		return nil, wrapTransient(err)
	}
	if balances[funderAccount.ID].LessThan(escrow.Amount) {
		return nil, ErrInsufficientFunds
	}

	if err := adjustBalanceTx(ctx, tx, funderAccount.ID, escrow.Amount.Neg()); err != nil {
		return nil, wrapTransient(err)
	}
	if err := adjustBalanceTx(ctx, tx, holdingAccount.ID, escrow.Amount); err != nil {
		return nil, wrapTransient(err)
	}

	escrow.HoldingAccountID = holdingAccount.ID
	escrow.Status = domain.EscrowPending
	query := `
		INSERT INTO escrows (id, owner_id, recipient, amount, currency, status, holding_account_id, expires_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		escrow.ID, escrow.OwnerID, escrow.Recipient, escrow.Amount.String(),
		escrow.Currency, escrow.Status, escrow.HoldingAccountID, escrow.ExpiresAt,
	).Scan(&escrow.CreatedAt, &escrow.UpdatedAt)
	if err != nil {
		return nil, wrapTransient(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient(err)
	}
	return escrow, nil
}

// lockPendingEscrowTx locks the escrow row and verifies it is still pending.
// The release, dispute and expiry paths all go through this guard, so a sweep
// can never race a concurrent release on the same escrow.
func lockPendingEscrowTx(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE id = $1 FOR UPDATE`
	escrow, err := scanEscrow(tx.QueryRow(ctx, query, escrowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	if escrow.Status != domain.EscrowPending {
		return nil, &InvalidEscrowStateError{EscrowID: escrow.ID, Current: escrow.Status}
	}
	return escrow, nil
}

func setEscrowStatusTx(ctx context.Context, tx pgx.Tx, escrow *domain.Escrow, status string) error {
	query := `UPDATE escrows SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at`
	if err := tx.QueryRow(ctx, query, status, escrow.ID).Scan(&escrow.UpdatedAt); err != nil {
		return err
	}
	escrow.Status = status
	return nil
}

// ReleaseEscrowAtomic settles a pending escrow: the held amount moves from the
// holding account to the recipient, the settlement records are written, and
// the escrow becomes completed. An external payout's rail reference is not
// known yet at this point; it is attached afterwards via AttachSettlementRef.
func (r *PostgresRepository) ReleaseEscrowAtomic(ctx context.Context, escrowID uuid.UUID, settlement EscrowSettlement) (*EscrowReleaseOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer tx.Rollback(ctx)

	escrow, err := lockPendingEscrowTx(ctx, tx, escrowID)
	if err != nil {
		return nil, wrapTransient(err)
	}

	var recipientAccount *domain.Account
	if settlement.RecipientOwnerID != nil {
		recipientAccount, err = getOrCreateAccountTx(ctx, tx, *settlement.RecipientOwnerID, escrow.Currency, domain.AccountTypeUser)
		if err != nil {
			return nil, wrapTransient(err)
		}
	}

	lockIDs := []uuid.UUID{escrow.HoldingAccountID}
	if recipientAccount != nil {
		lockIDs = append(lockIDs, recipientAccount.ID)
	}
	balances, err := lockAccountsTx(ctx, tx, lockIDs)
	if err != nil {
		return nil, wrapTransient(err)
	}
	if balances[escrow.HoldingAccountID].LessThan(escrow.Amount) {
		return nil, fmt.Errorf("holding account %s short of escrow %s amount", escrow.HoldingAccountID, escrow.ID)
	}

	if err := adjustBalanceTx(ctx, tx, escrow.HoldingAccountID, escrow.Amount.Neg()); err != nil {
		return nil, wrapTransient(err)
	}
	if recipientAccount != nil {
		if err := adjustBalanceTx(ctx, tx, recipientAccount.ID, escrow.Amount); err != nil {
			return nil, wrapTransient(err)
		}
	}

	sent := &domain.TransactionRecord{
		ID:           uuid.New(),
		OwnerID:      escrow.OwnerID,
		Kind:         domain.KindSent,
		Amount:       escrow.Amount,
		Currency:     escrow.Currency,
		Counterparty: escrow.Recipient,
		Status:       domain.StatusCompleted,
	}
	if err := insertRecordTx(ctx, tx, sent); err != nil {
		return nil, err
	}
	if settlement.RecipientOwnerID != nil {
		received := &domain.TransactionRecord{
			ID:           uuid.New(),
			OwnerID:      *settlement.RecipientOwnerID,
			Kind:         domain.KindReceived,
			Amount:       escrow.Amount,
			Currency:     escrow.Currency,
			Counterparty: "escrow release",
			Status:       domain.StatusCompleted,
		}
		if err := insertRecordTx(ctx, tx, received); err != nil {
			return nil, err
		}
		notification := domain.Notification{
			ID:       uuid.New(),
			OwnerID:  *settlement.RecipientOwnerID,
			Title:    "Escrow Released",
			Message:  fmt.Sprintf("You received %s %s from an escrow release", escrow.Amount.String(), escrow.Currency),
			Category: "escrow",
		}
		if err := insertNotificationTx(ctx, tx, notification); err != nil {
			return nil, err
		}
	}

	if err := setEscrowStatusTx(ctx, tx, escrow, domain.EscrowCompleted); err != nil {
		return nil, wrapTransient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient(err)
	}
	return &EscrowReleaseOutcome{Escrow: escrow, SentRecord: sent}, nil
}

// DisputeEscrowAtomic freezes a pending escrow. Funds stay in the holding
// account awaiting external arbitration.
func (r *PostgresRepository) DisputeEscrowAtomic(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer tx.Rollback(ctx)

	escrow, err := lockPendingEscrowTx(ctx, tx, escrowID)
	if err != nil {
		return nil, wrapTransient(err)
	}
	if err := setEscrowStatusTx(ctx, tx, escrow, domain.EscrowDisputed); err != nil {
		return nil, wrapTransient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient(err)
	}
	return escrow, nil
}

// ExpireEscrowAtomic refunds a pending escrow whose expiry has passed: the
// held amount returns to the funder and the escrow becomes expired.
func (r *PostgresRepository) ExpireEscrowAtomic(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer tx.Rollback(ctx)

	escrow, err := lockPendingEscrowTx(ctx, tx, escrowID)
	if err != nil {
		return nil, wrapTransient(err)
	}

	funderAccount, err := getOrCreateAccountTx(ctx, tx, escrow.OwnerID, escrow.Currency, domain.AccountTypeUser)
	if err != nil {
		return nil, wrapTransient(err)
	}
	balances, err := lockAccountsTx(ctx, tx, []uuid.UUID{escrow.HoldingAccountID, funderAccount.ID})
	if err != nil {
		return nil, wrapTransient(err)
	}
	if balances[escrow.HoldingAccountID].LessThan(escrow.Amount) {
		return nil, fmt.Errorf("holding account %s short of escrow %s amount", escrow.HoldingAccountID, escrow.ID)
	}

	if err := adjustBalanceTx(ctx, tx, escrow.HoldingAccountID, escrow.Amount.Neg()); err != nil {
		return nil, wrapTransient(err)
	}
	if err := adjustBalanceTx(ctx, tx, funderAccount.ID, escrow.Amount); err != nil {
		return nil, wrapTransient(err)
	}

	refund := &domain.TransactionRecord{
		ID:           uuid.New(),
		OwnerID:      escrow.OwnerID,
		Kind:         domain.KindReceived,
		Amount:       escrow.Amount,
		Currency:     escrow.Currency,
		Counterparty: "escrow refund",
		Status:       domain.StatusCompleted,
	}
	if err := insertRecordTx(ctx, tx, refund); err != nil {
		return nil, err
	}
	notification := domain.Notification{
		ID:       uuid.New(),
		OwnerID:  escrow.OwnerID,
		Title:    "Escrow Expired",
		Message:  fmt.Sprintf("Your escrow of %s %s expired unclaimed and was refunded", escrow.Amount.String(), escrow.Currency),
		Category: "escrow",
	}
	if err := insertNotificationTx(ctx, tx, notification); err != nil {
		return nil, err
	}

	if err := setEscrowStatusTx(ctx, tx, escrow, domain.EscrowExpired); err != nil {
		return nil, wrapTransient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient(err)
	}
	return escrow, nil
}

// FindEscrowByID retrieves a single escrow.
func (r *PostgresRepository) FindEscrowByID(ctx context.Context, escrowID uuid.UUID) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE id = $1`
	escrow, err := scanEscrow(r.db.QueryRow(ctx, query, escrowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, wrapTransient(err)
	}
	return escrow, nil
}

// FindEscrowsByOwnerID lists a funder's escrows, most recent first.
func (r *PostgresRepository) FindEscrowsByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer rows.Close()

	var escrows []domain.Escrow
	for rows.Next() {
		escrow, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, *escrow)
	}
	return escrows, rows.Err()
}

// FindExpiredPendingEscrows lists pending escrows whose expiry has passed,
// oldest first, for the sweep job.
func (r *PostgresRepository) FindExpiredPendingEscrows(ctx context.Context, limit int) ([]domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE status = $1 AND expires_at <= NOW() ORDER BY expires_at LIMIT $2`
	rows, err := r.db.Query(ctx, query, domain.EscrowPending, limit)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer rows.Close()

	var escrows []domain.Escrow
	for rows.Next() {
		escrow, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, *escrow)
	}
	return escrows, rows.Err()
}

// CreateContact saves a counterparty alias. The unique index on
// (owner_id, address) rejects duplicates.
func (r *PostgresRepository) CreateContact(ctx context.Context, contact *domain.Contact) (*domain.Contact, error) {
	query := `
		INSERT INTO contacts (id, owner_id, name, address)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, contact.ID, contact.OwnerID, contact.Name, contact.Address).Scan(&contact.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, ErrContactExists
		}
		return nil, wrapTransient(err)
	}
	return contact, nil
}

// FindContactsByOwnerID lists an owner's contacts alphabetically.
func (r *PostgresRepository) FindContactsByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]domain.Contact, error) {
	query := `SELECT id, owner_id, name, address, created_at FROM contacts WHERE owner_id = $1 ORDER BY name`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		var contact domain.Contact
		if err := rows.Scan(&contact.ID, &contact.OwnerID, &contact.Name, &contact.Address, &contact.CreatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}

// DeleteContact removes a contact owned by the caller. Returns false when no
// such contact exists for that owner.
func (r *PostgresRepository) DeleteContact(ctx context.Context, contactID, ownerID uuid.UUID) (bool, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM contacts WHERE id = $1 AND owner_id = $2`, contactID, ownerID)
	if err != nil {
		return false, wrapTransient(err)
	}
	return result.RowsAffected() > 0, nil
}

// CreateNotification inserts a standalone in-app notification row.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n domain.Notification) error {
	query := `
		INSERT INTO notifications (id, owner_id, title, message, category, read)
		VALUES ($1, $2, $3, $4, $5, FALSE)
	`
	_, err := r.db.Exec(ctx, query, n.ID, n.OwnerID, n.Title, n.Message, n.Category)
	return wrapTransient(err)
}

// FindNotificationsByOwnerID lists an owner's notifications, newest first.
func (r *PostgresRepository) FindNotificationsByOwnerID(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.Notification, error) {
	query := `
		SELECT id, owner_id, title, message, category, read, created_at
		FROM notifications WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, wrapTransient(err)
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Message, &n.Category, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/victorisiguzoruzoma874/HashPay/internal/domain"
	"github.com/victorisiguzoruzoma874/HashPay/internal/store"
)

type transferRepoStub struct {
	store.Repository

	mu        sync.Mutex
	usersByID map[uuid.UUID]*domain.User
	usersBy   map[string]*domain.User
	balances  map[string]decimal.Decimal
	committed map[string]*store.TransferOutcome

	transferCalls int
	rampCalls     []store.RampParams
	swapCalls     []store.SwapParams
}

func newTransferRepoStub() *transferRepoStub {
	return &transferRepoStub{
		usersByID: make(map[uuid.UUID]*domain.User),
		usersBy:   make(map[string]*domain.User),
		balances:  make(map[string]decimal.Decimal),
		committed: make(map[string]*store.TransferOutcome),
	}
}

func balanceKey(ownerID uuid.UUID, currency string) string {
	return ownerID.String() + "|" + currency
}

func (s *transferRepoStub) addUser(email string) *domain.User {
	user := &domain.User{ID: uuid.New(), Email: email, Address: "0x" + uuid.NewString()}
	s.usersByID[user.ID] = user
	s.usersBy[email] = user
	s.usersBy[user.Address] = user
	return user
}

func (s *transferRepoStub) setBalance(ownerID uuid.UUID, currency, amount string) {
	s.balances[balanceKey(ownerID, currency)] = decimal.RequireFromString(amount)
}

func (s *transferRepoStub) balance(ownerID uuid.UUID, currency string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[balanceKey(ownerID, currency)]
}

func (s *transferRepoStub) FindUserByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.usersBy[identifier]; ok {
		return user, nil
	}
	return nil, store.ErrUserNotFound
}

func (s *transferRepoStub) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.usersByID[userID]; ok {
		return user, nil
	}
	return nil, store.ErrUserNotFound
}

func (s *transferRepoStub) FindAccountByOwnerAndCurrency(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[balanceKey(ownerID, currency)]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return &domain.Account{ID: uuid.New(), OwnerID: ownerID, Currency: currency, Type: domain.AccountTypeUser, Balance: balance}, nil
}

func (s *transferRepoStub) FindTransactionByExternalRef(ctx context.Context, externalRef string) (*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if outcome, ok := s.committed[externalRef]; ok {
		return outcome.SentRecord, nil
	}
	return nil, store.ErrTransactionNotFound
}

func (s *transferRepoStub) PerformTransfer(ctx context.Context, p store.TransferParams) (*store.TransferOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferCalls++

	if p.ExternalRef != nil {
		if prior, ok := s.committed[*p.ExternalRef]; ok {
			if !prior.SentRecord.Amount.Equal(p.Amount) || prior.SentRecord.Currency != p.Currency {
				return nil, store.ErrIdempotencyConflict
			}
			return &store.TransferOutcome{SentRecord: prior.SentRecord, ReceivedRecord: prior.ReceivedRecord, Replayed: true}, nil
		}
	}

	senderKey := balanceKey(p.SenderID, p.Currency)
	senderBalance, ok := s.balances[senderKey]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if senderBalance.LessThan(p.Amount) {
		return nil, store.ErrInsufficientFunds
	}
	s.balances[senderKey] = senderBalance.Sub(p.Amount)

	outcome := &store.TransferOutcome{
		SentRecord: &domain.TransactionRecord{
			ID:            uuid.New(),
			OwnerID:       p.SenderID,
			Kind:          domain.KindSent,
			Amount:        p.Amount,
			Currency:      p.Currency,
			Counterparty:  p.Recipient.Descriptor,
			Status:        domain.StatusCompleted,
			ExternalRef:   p.ExternalRef,
			SettlementRef: p.SettlementRef,
		},
	}
	if p.Recipient.Internal {
		recipientKey := balanceKey(p.Recipient.OwnerID, p.Currency)
		s.balances[recipientKey] = s.balances[recipientKey].Add(p.Amount)
		outcome.ReceivedRecord = &domain.TransactionRecord{
			ID:           uuid.New(),
			OwnerID:      p.Recipient.OwnerID,
			Kind:         domain.KindReceived,
			Amount:       p.Amount,
			Currency:     p.Currency,
			Counterparty: p.SenderDescriptor,
			Status:       domain.StatusCompleted,
		}
	}
	if p.ExternalRef != nil {
		s.committed[*p.ExternalRef] = outcome
	}
	return outcome, nil
}

func (s *transferRepoStub) PerformRamp(ctx context.Context, p store.RampParams) (*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rampCalls = append(s.rampCalls, p)

	key := balanceKey(p.OwnerID, p.Currency)
	switch p.Kind {
	case domain.KindOnRamp:
		s.balances[key] = s.balances[key].Add(p.Amount)
	case domain.KindOffRamp:
		balance, ok := s.balances[key]
		if !ok {
			return nil, store.ErrAccountNotFound
		}
		if balance.LessThan(p.Amount) {
			return nil, store.ErrInsufficientFunds
		}
		s.balances[key] = balance.Sub(p.Amount)
	}
	return &domain.TransactionRecord{
		ID:       uuid.New(),
		OwnerID:  p.OwnerID,
		Kind:     p.Kind,
		Amount:   p.Amount,
		Currency: p.Currency,
		Status:   domain.StatusCompleted,
	}, nil
}

func (s *transferRepoStub) PerformSwap(ctx context.Context, p store.SwapParams) (*store.SwapOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapCalls = append(s.swapCalls, p)

	fromKey := balanceKey(p.OwnerID, p.FromCurrency)
	balance, ok := s.balances[fromKey]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if balance.LessThan(p.AmountIn) {
		return nil, store.ErrInsufficientFunds
	}
	s.balances[fromKey] = balance.Sub(p.AmountIn)
	toKey := balanceKey(p.OwnerID, p.ToCurrency)
	s.balances[toKey] = s.balances[toKey].Add(p.AmountOut)

	return &store.SwapOutcome{
		SentRecord:     &domain.TransactionRecord{ID: uuid.New(), OwnerID: p.OwnerID, Kind: domain.KindSent, Amount: p.AmountIn, Currency: p.FromCurrency},
		ReceivedRecord: &domain.TransactionRecord{ID: uuid.New(), OwnerID: p.OwnerID, Kind: domain.KindReceived, Amount: p.AmountOut, Currency: p.ToCurrency},
	}, nil
}

type railStub struct {
	mu        sync.Mutex
	calls     int
	reference string
	err       error
}

func (r *railStub) SubmitSettlement(ctx context.Context, destination string, amount decimal.Decimal, currency string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	if r.reference == "" {
		return fmt.Sprintf("settle-%d", r.calls), nil
	}
	return r.reference, nil
}

func TestTransferInternalMovesBalance(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	recipient := repo.addUser("bob@example.com")
	repo.setBalance(sender.ID, "SUI", "100")
	repo.setBalance(recipient.ID, "SUI", "0")

	service := NewService(repo, nil, nil)
	result, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
		Recipient: "bob@example.com",
		Amount:    decimal.RequireFromString("30"),
		Currency:  "sui",
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if result.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if result.Replayed {
		t.Fatal("fresh transfer must not be marked replayed")
	}
	if got := repo.balance(sender.ID, "SUI"); !got.Equal(decimal.RequireFromString("70")) {
		t.Fatalf("sender balance = %s, want 70", got.String())
	}
	if got := repo.balance(recipient.ID, "SUI"); !got.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("recipient balance = %s, want 30", got.String())
	}
}

func TestTransferRejectsNonPositiveAmount(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	service := NewService(repo, nil, nil)

	for _, amount := range []string{"0", "-5"} {
		_, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
			Recipient: "bob@example.com",
			Amount:    decimal.RequireFromString(amount),
			Currency:  "USD",
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: err = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if repo.transferCalls != 0 {
		t.Fatalf("repository touched %d times for invalid requests", repo.transferCalls)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	repo.addUser("bob@example.com")
	repo.setBalance(sender.ID, "USD", "10")

	service := NewService(repo, nil, nil)
	_, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
		Recipient: "bob@example.com",
		Amount:    decimal.RequireFromString("10.01"),
		Currency:  "USD",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := repo.balance(sender.ID, "USD"); !got.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("sender balance changed on failed transfer: %s", got.String())
	}
}

func TestTransferIdempotentReplay(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	recipient := repo.addUser("bob@example.com")
	repo.setBalance(sender.ID, "USDC", "100")

	service := NewService(repo, nil, nil)
	ref := "order-42"
	req := domain.TransferRequest{
		Recipient:   "bob@example.com",
		Amount:      decimal.RequireFromString("25"),
		Currency:    "USDC",
		ExternalRef: &ref,
	}

	first, err := service.Transfer(context.Background(), sender.ID, req)
	if err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}
	second, err := service.Transfer(context.Background(), sender.ID, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if !second.Replayed {
		t.Fatal("second submission must be marked replayed")
	}
	if first.TransactionID != second.TransactionID {
		t.Fatalf("replay returned a different transaction: %s vs %s", first.TransactionID, second.TransactionID)
	}
	if got := repo.balance(sender.ID, "USDC"); !got.Equal(decimal.RequireFromString("75")) {
		t.Fatalf("sender debited more than once: balance = %s", got.String())
	}
	if got := repo.balance(recipient.ID, "USDC"); !got.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("recipient credited more than once: balance = %s", got.String())
	}
}

func TestTransferExternalRefConflict(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	repo.addUser("bob@example.com")
	repo.setBalance(sender.ID, "USDC", "100")

	service := NewService(repo, nil, nil)
	ref := "order-42"

	if _, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
		Recipient:   "bob@example.com",
		Amount:      decimal.RequireFromString("25"),
		Currency:    "USDC",
		ExternalRef: &ref,
	}); err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}

	_, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
		Recipient:   "bob@example.com",
		Amount:      decimal.RequireFromString("26"),
		Currency:    "USDC",
		ExternalRef: &ref,
	})
	if !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want ErrIdempotencyConflict", err)
	}
	if got := repo.balance(sender.ID, "USDC"); !got.Equal(decimal.RequireFromString("75")) {
		t.Fatalf("conflicting replay moved money: balance = %s", got.String())
	}
}

func TestTransferExternalRecipientUsesRail(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	repo.setBalance(sender.ID, "ETH", "5")
	rail := &railStub{reference: "chain-tx-abc"}

	service := NewService(repo, rail, nil)
	result, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
		Recipient: "0xdeadbeefcafe",
		Amount:    decimal.RequireFromString("2"),
		Currency:  "ETH",
	})
	if err != nil {
		t.Fatalf("external transfer failed: %v", err)
	}

	if rail.calls != 1 {
		t.Fatalf("rail called %d times, want 1", rail.calls)
	}
	if result.SettlementRef == nil || *result.SettlementRef != "chain-tx-abc" {
		t.Fatalf("settlement ref = %v, want chain-tx-abc", result.SettlementRef)
	}
	if got := repo.balance(sender.ID, "ETH"); !got.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("sender balance = %s, want 3", got.String())
	}
}

func TestTransferExternalReplayDoesNotResettle(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	repo.setBalance(sender.ID, "ETH", "5")
	rail := &railStub{reference: "chain-tx-abc"}

	service := NewService(repo, rail, nil)
	ref := "payout-7"
	req := domain.TransferRequest{
		Recipient:   "0xdeadbeefcafe",
		Amount:      decimal.RequireFromString("2"),
		Currency:    "ETH",
		ExternalRef: &ref,
	}

	first, err := service.Transfer(context.Background(), sender.ID, req)
	if err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}
	second, err := service.Transfer(context.Background(), sender.ID, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if rail.calls != 1 {
		t.Fatalf("rail called %d times across a replay, want 1", rail.calls)
	}
	if !second.Replayed {
		t.Fatal("second submission must be marked replayed")
	}
	if first.TransactionID != second.TransactionID {
		t.Fatalf("replay returned a different transaction: %s vs %s", first.TransactionID, second.TransactionID)
	}
	if second.SettlementRef == nil || *second.SettlementRef != "chain-tx-abc" {
		t.Fatalf("replay settlement ref = %v, want chain-tx-abc", second.SettlementRef)
	}
	if got := repo.balance(sender.ID, "ETH"); !got.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("sender debited more than once: balance = %s", got.String())
	}
}

func TestTransferReplayDifferentRecipientConflicts(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	repo.addUser("bob@example.com")
	repo.addUser("carol@example.com")
	repo.setBalance(sender.ID, "USDC", "100")

	service := NewService(repo, nil, nil)
	ref := "order-9"

	if _, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
		Recipient:   "bob@example.com",
		Amount:      decimal.RequireFromString("25"),
		Currency:    "USDC",
		ExternalRef: &ref,
	}); err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}

	_, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
		Recipient:   "carol@example.com",
		Amount:      decimal.RequireFromString("25"),
		Currency:    "USDC",
		ExternalRef: &ref,
	})
	if !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want ErrIdempotencyConflict", err)
	}
	if got := repo.balance(sender.ID, "USDC"); !got.Equal(decimal.RequireFromString("75")) {
		t.Fatalf("conflicting replay moved money: balance = %s", got.String())
	}
}

func TestTransferExternalRailFailureLeavesBalanceIntact(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	repo.setBalance(sender.ID, "ETH", "5")
	rail := &railStub{err: errors.New("rail offline")}

	service := NewService(repo, rail, nil)
	_, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
		Recipient: "0xdeadbeefcafe",
		Amount:    decimal.RequireFromString("2"),
		Currency:  "ETH",
	})
	if err == nil {
		t.Fatal("expected error from failed rail settlement")
	}
	if got := repo.balance(sender.ID, "ETH"); !got.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("balance changed despite rail failure: %s", got.String())
	}
	if repo.transferCalls != 0 {
		t.Fatal("ledger commit attempted despite rail failure")
	}
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	recipient := repo.addUser("bob@example.com")
	repo.setBalance(sender.ID, "USD", "95")
	repo.setBalance(recipient.ID, "USD", "0")

	service := NewService(repo, nil, nil)

	const attempts = 10
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
				Recipient: "bob@example.com",
				Amount:    decimal.RequireFromString("10"),
				Currency:  "USD",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, insufficient := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 9 || insufficient != 1 {
		t.Fatalf("succeeded=%d insufficient=%d, want 9/1", succeeded, insufficient)
	}
	if got := repo.balance(sender.ID, "USD"); !got.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("sender balance = %s, want 5", got.String())
	}
	if got := repo.balance(recipient.ID, "USD"); !got.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("recipient balance = %s, want 90", got.String())
	}
}

func TestSwapValidation(t *testing.T) {
	repo := newTransferRepoStub()
	owner := repo.addUser("alice@example.com")
	repo.setBalance(owner.ID, "USD", "100")
	service := NewService(repo, nil, nil)

	cases := []struct {
		name    string
		req     domain.SwapRequest
		wantErr error
	}{
		{
			"same currency",
			domain.SwapRequest{FromCurrency: "USD", ToCurrency: "usd", Amount: decimal.RequireFromString("1"), Rate: decimal.RequireFromString("1")},
			ErrSameCurrencySwap,
		},
		{
			"zero rate",
			domain.SwapRequest{FromCurrency: "USD", ToCurrency: "BTC", Amount: decimal.RequireFromString("1"), Rate: decimal.Zero},
			ErrInvalidRate,
		},
		{
			"dust rounds to zero",
			domain.SwapRequest{FromCurrency: "BTC", ToCurrency: "USD", Amount: decimal.RequireFromString("0.00000001"), Rate: decimal.RequireFromString("0.01")},
			ErrInvalidAmount,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.Swap(context.Background(), owner.ID, tc.req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
	if len(repo.swapCalls) != 0 {
		t.Fatalf("repository touched for invalid swaps: %d calls", len(repo.swapCalls))
	}
}

func TestSwapConvertsAtRate(t *testing.T) {
	repo := newTransferRepoStub()
	owner := repo.addUser("alice@example.com")
	repo.setBalance(owner.ID, "USD", "100")
	service := NewService(repo, nil, nil)

	result, err := service.Swap(context.Background(), owner.ID, domain.SwapRequest{
		FromCurrency: "USD",
		ToCurrency:   "SUI",
		Amount:       decimal.RequireFromString("10"),
		Rate:         decimal.RequireFromString("0.33335"),
	})
	if err != nil {
		t.Fatalf("swap failed: %v", err)
	}

	// 10 * 0.33335 = 3.3335, SUI scale is 4 so no rounding needed.
	if !result.AmountOut.Equal(decimal.RequireFromString("3.3335")) {
		t.Fatalf("amount out = %s, want 3.3335", result.AmountOut.String())
	}
	if got := repo.balance(owner.ID, "USD"); !got.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("USD balance = %s, want 90", got.String())
	}
	if got := repo.balance(owner.ID, "SUI"); !got.Equal(decimal.RequireFromString("3.3335")) {
		t.Fatalf("SUI balance = %s, want 3.3335", got.String())
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	repo := newTransferRepoStub()
	owner := repo.addUser("alice@example.com")
	repo.setBalance(owner.ID, "BTC", "0.5")
	service := NewService(repo, nil, nil)

	_, err := service.Withdraw(context.Background(), owner.ID, domain.RampRequest{
		Amount:   decimal.RequireFromString("0.6"),
		Currency: "BTC",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if len(repo.rampCalls) != 0 {
		t.Fatal("ramp attempted despite insufficient funds")
	}
}

type limiterStub struct {
	res RateLimitResult
	err error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (RateLimitResult, error) {
	return l.res, l.err
}

func TestTransferRateLimited(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	repo.addUser("bob@example.com")
	repo.setBalance(sender.ID, "USD", "100")

	service := NewService(repo, nil, nil)
	service.SetTransferRateLimiter(&limiterStub{res: RateLimitResult{Allowed: false, Count: 31, RetryAfter: 42 * time.Second}}, 30, time.Minute)

	_, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
		Recipient: "bob@example.com",
		Amount:    decimal.RequireFromString("10"),
		Currency:  "USD",
	})
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if limited.RetryAfterSeconds != 42 {
		t.Fatalf("retry after = %d, want 42", limited.RetryAfterSeconds)
	}
	if repo.transferCalls != 0 {
		t.Fatal("ledger touched despite rate limit")
	}
}

func TestTransferAllowedWhenLimiterUnavailable(t *testing.T) {
	repo := newTransferRepoStub()
	sender := repo.addUser("alice@example.com")
	repo.addUser("bob@example.com")
	repo.setBalance(sender.ID, "USD", "100")

	service := NewService(repo, nil, nil)
	service.SetTransferRateLimiter(&limiterStub{err: errors.New("redis down")}, 30, time.Minute)

	if _, err := service.Transfer(context.Background(), sender.ID, domain.TransferRequest{
		Recipient: "bob@example.com",
		Amount:    decimal.RequireFromString("10"),
		Currency:  "USD",
	}); err != nil {
		t.Fatalf("transfer blocked by unavailable limiter: %v", err)
	}
}

func TestDepositCreditsBalance(t *testing.T) {
	repo := newTransferRepoStub()
	owner := repo.addUser("alice@example.com")
	service := NewService(repo, nil, nil)

	record, err := service.Deposit(context.Background(), owner.ID, domain.RampRequest{
		Amount:   decimal.RequireFromString("150"),
		Currency: "usdc",
	})
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if record.Kind != domain.KindOnRamp {
		t.Fatalf("kind = %s, want on_ramp", record.Kind)
	}
	if record.Currency != "USDC" {
		t.Fatalf("currency not normalized: %s", record.Currency)
	}
	if got := repo.balance(owner.ID, "USDC"); !got.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("balance = %s, want 150", got.String())
	}
}

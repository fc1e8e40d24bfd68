package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/core/port"
	"github.com/arklim/appmarket-accounts/internal/repository"
)

// memoryStore emulates the PostgreSQL account store: one mutex plays the role of the
// row lock taken by a ledger transaction, and writes are staged until commit.
type memoryStore struct {
	mu        sync.Mutex
	accounts  map[string]*domain.Account
	purchases []domain.Purchase
	requests  map[string]decimal.Decimal

	failOn  string
	failErr error
	commits int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: make(map[string]*domain.Account),
		requests: make(map[string]decimal.Decimal),
	}
}

func (m *memoryStore) addAccount(account domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := account
	m.accounts[account.ID] = &copied
}

func (m *memoryStore) account(id string) domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id]
}

func (m *memoryStore) completedPurchases(accountID, appID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, p := range m.purchases {
		if p.AccountID == accountID && p.AppID == appID && p.Status == domain.PurchaseStatusCompleted {
			count++
		}
	}
	return count
}

func (m *memoryStore) Balance(_ context.Context, accountID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return decimal.Zero, repository.ErrNotFound
	}
	return account.Balance, nil
}

func (m *memoryStore) ListPurchases(_ context.Context, accountID string) ([]domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "list" {
		return nil, m.failErr
	}
	out := make([]domain.Purchase, 0)
	for i := len(m.purchases) - 1; i >= 0; i-- {
		if m.purchases[i].AccountID == accountID {
			out = append(out, m.purchases[i])
		}
	}
	return out, nil
}

func (m *memoryStore) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{store: m, balances: make(map[string]decimal.Decimal), requests: make(map[string]decimal.Decimal)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, balance := range tx.balances {
		m.accounts[id].Balance = balance
	}
	m.purchases = append(m.purchases, tx.purchases...)
	for key, amount := range tx.requests {
		m.requests[key] = amount
	}
	m.commits++
	return nil
}

type memoryTx struct {
	store     *memoryStore
	balances  map[string]decimal.Decimal
	purchases []domain.Purchase
	requests  map[string]decimal.Decimal
}

func (t *memoryTx) fail(op string) error {
	if t.store.failOn == op {
		return t.store.failErr
	}
	return nil
}

func (t *memoryTx) balance(id string) (decimal.Decimal, bool) {
	if b, ok := t.balances[id]; ok {
		return b, true
	}
	account, ok := t.store.accounts[id]
	if !ok {
		return decimal.Zero, false
	}
	return account.Balance, true
}

func (t *memoryTx) LockAccount(_ context.Context, accountID string) (*domain.Account, error) {
	if err := t.fail("lock"); err != nil {
		return nil, err
	}
	account, ok := t.store.accounts[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *account
	copied.Balance, _ = t.balance(accountID)
	return &copied, nil
}

func (t *memoryTx) HasActivePurchase(_ context.Context, accountID, appID string) (bool, error) {
	for _, p := range append(append([]domain.Purchase{}, t.store.purchases...), t.purchases...) {
		if p.AccountID == accountID && p.AppID == appID && p.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) Debit(_ context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := t.fail("debit"); err != nil {
		return decimal.Zero, err
	}
	current, ok := t.balance(accountID)
	if !ok || current.LessThan(amount) {
		return decimal.Zero, repository.ErrInsufficientBalance
	}
	t.balances[accountID] = current.Sub(amount)
	return t.balances[accountID], nil
}

func (t *memoryTx) Credit(_ context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	current, ok := t.balance(accountID)
	if !ok {
		return decimal.Zero, repository.ErrNotFound
	}
	t.balances[accountID] = current.Add(amount)
	return t.balances[accountID], nil
}

func (t *memoryTx) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	if err := t.fail("insert"); err != nil {
		return err
	}
	if owned, _ := t.HasActivePurchase(ctx, purchase.AccountID, purchase.AppID); owned {
		return repository.ErrConflict
	}
	t.purchases = append(t.purchases, purchase)
	return nil
}

func (t *memoryTx) ClaimTopUpRequest(_ context.Context, accountID, requestID string, amount decimal.Decimal) (bool, decimal.Decimal, error) {
	key := accountID + "/" + requestID
	if stored, ok := t.store.requests[key]; ok {
		return false, stored, nil
	}
	if stored, ok := t.requests[key]; ok {
		return false, stored, nil
	}
	t.requests[key] = amount
	return true, amount, nil
}

type fakeCatalog struct {
	apps map[string]domain.App
	err  error
}

func (c *fakeCatalog) GetApp(_ context.Context, id string) (*domain.App, error) {
	if c.err != nil {
		return nil, c.err
	}
	app, ok := c.apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &app, nil
}

// memoryAccounts applies the same guarded updates as the SQL repository.
type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account

	getCalls     int
	failureCalls int
	successCalls int
	createErr    error
}

func newMemoryAccounts(accounts ...domain.Account) *memoryAccounts {
	repo := &memoryAccounts{accounts: make(map[string]*domain.Account)}
	for _, account := range accounts {
		copied := account
		repo.accounts[account.ID] = &copied
	}
	return repo
}

func (r *memoryAccounts) snapshot(id string) domain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.accounts[id]
}

func (r *memoryAccounts) Create(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.accounts {
		if existing.Email == account.Email || strings.EqualFold(existing.DisplayName, account.DisplayName) {
			return repository.ErrConflict
		}
	}
	copied := account
	r.accounts[account.ID] = &copied
	return nil
}

func (r *memoryAccounts) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *memoryAccounts) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	for _, account := range r.accounts {
		if account.Email == email {
			copied := *account
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memoryAccounts) RecordLoginFailure(_ context.Context, id string, failure port.LoginFailure) (domain.LoginAttemptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureCalls++
	account, ok := r.accounts[id]
	if !ok {
		return domain.LoginAttemptResult{}, repository.ErrNotFound
	}
	if account.IsLocked(failure.Now) {
		return domain.LoginAttemptResult{}, repository.ErrPreconditionFailed
	}
	account.FailedLoginAttempts++
	account.LockoutUntil = nil
	if account.FailedLoginAttempts >= failure.MaxAttempts {
		until := failure.LockoutUntil
		account.LockoutUntil = &until
	}
	return domain.LoginAttemptResult{FailedAttempts: account.FailedLoginAttempts, LockoutUntil: account.LockoutUntil}, nil
}

func (r *memoryAccounts) RecordLoginSuccess(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successCalls++
	account, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if account.IsLocked(at) {
		return repository.ErrPreconditionFailed
	}
	account.FailedLoginAttempts = 0
	account.LockoutUntil = nil
	account.LastLoginAt = &at
	return nil
}

// plainHasher stores "hashed:<password>" and counts verifications.
type plainHasher struct {
	mu          sync.Mutex
	verifyCalls int
	hashErr     error
}

func (h *plainHasher) Hash(password string) (string, error) {
	if h.hashErr != nil {
		return "", h.hashErr
	}
	return "hashed:" + password, nil
}

func (h *plainHasher) Verify(password, encoded string) (bool, error) {
	h.mu.Lock()
	h.verifyCalls++
	h.mu.Unlock()
	if !strings.HasPrefix(encoded, "hashed:") {
		return false, errors.New("malformed hash")
	}
	return encoded == "hashed:"+password, nil
}

func (h *plainHasher) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifyCalls
}

type stubIssuer struct {
	issued []domain.AccountSummary
	ttl    time.Duration
	err    error
}

func (s *stubIssuer) Issue(account domain.AccountSummary, _ time.Time, ttl time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.issued = append(s.issued, account)
	s.ttl = ttl
	return "token-for-" + account.ID, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	topUps    []domain.BalanceToppedUpEvent
	purchases []domain.AppPurchasedEvent
	locks     []domain.AccountLockedEvent
	err       error
}

func (p *recordingPublisher) PublishBalanceToppedUp(_ context.Context, event domain.BalanceToppedUpEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topUps = append(p.topUps, event)
	return p.err
}

func (p *recordingPublisher) PublishAppPurchased(_ context.Context, event domain.AppPurchasedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purchases = append(p.purchases, event)
	return p.err
}

func (p *recordingPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locks = append(p.locks, event)
	return p.err
}

type fixedPolicy struct {
	err    error
	inputs []string
}

func (p *fixedPolicy) Validate(_ string, userInputs ...string) error {
	p.inputs = userInputs
	return p.err
}

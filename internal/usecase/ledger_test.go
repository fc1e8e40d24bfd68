package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/infra/telemetry"
)

const (
	testAccountID = "3b7c9f2e-4d1a-4c8e-9f6b-2a5d8e1c7b40"
	testAppID     = "9a1e5c3d-7b2f-4e6a-8c0d-1f4b6a9e2c57"
	otherAppID    = "c2d4e6f8-1a3b-4c5d-8e7f-9a0b1c2d3e4f"
)

var ledgerNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func money(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return d
}

type ledgerFixture struct {
	service   *LedgerService
	store     *memoryStore
	catalog   *fakeCatalog
	publisher *recordingPublisher
}

func newLedgerFixture(t *testing.T, balance string) *ledgerFixture {
	t.Helper()

	store := newMemoryStore()
	store.addAccount(domain.Account{
		ID:          testAccountID,
		Email:       "buyer@example.com",
		DisplayName: "buyer",
		Role:        domain.RoleUser,
		Balance:     money(t, balance),
	})
	catalog := &fakeCatalog{apps: map[string]domain.App{
		testAppID:  {ID: testAppID, Name: "Pixel Garden", Price: money(t, "4.99")},
		otherAppID: {ID: otherAppID, Name: "Free Notes", Price: decimal.Zero},
	}}
	publisher := &recordingPublisher{}

	service := NewLedgerService(store, catalog, publisher, DefaultLedgerConfig(), zaptest.NewLogger(t)).
		WithClock(func() time.Time { return ledgerNow })

	return &ledgerFixture{service: service, store: store, catalog: catalog, publisher: publisher}
}

func TestTopUpCreditsBalance(t *testing.T) {
	f := newLedgerFixture(t, "0")

	result, err := f.service.TopUp(context.Background(), TopUpInput{AccountID: testAccountID, Amount: money(t, "10.00")})
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if !result.Applied || !result.Balance.Equal(money(t, "10.00")) {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := f.store.account(testAccountID).Balance; !got.Equal(money(t, "10.00")) {
		t.Fatalf("expected stored balance 10.00, got %s", got)
	}
	if len(f.publisher.topUps) != 1 || f.publisher.topUps[0].RequestID != nil {
		t.Fatalf("expected one unkeyed top-up event, got %+v", f.publisher.topUps)
	}
}

func TestTopUpRejectsInvalidAmounts(t *testing.T) {
	cases := map[string]string{
		"zero":            "0",
		"negative":        "-5.00",
		"above maximum":   "10000.01",
		"three decimals":  "1.005",
		"tiny fractional": "0.001",
	}

	for name, amount := range cases {
		t.Run(name, func(t *testing.T) {
			f := newLedgerFixture(t, "3.00")

			_, err := f.service.TopUp(context.Background(), TopUpInput{AccountID: testAccountID, Amount: money(t, amount)})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != "amount" {
				t.Fatalf("expected amount field error, got %v", err)
			}
			if f.store.commits != 0 {
				t.Fatalf("store must not be touched, got %d commits", f.store.commits)
			}
			if got := f.store.account(testAccountID).Balance; !got.Equal(money(t, "3.00")) {
				t.Fatalf("balance changed to %s", got)
			}
		})
	}
}

func TestTopUpAcceptsMaximum(t *testing.T) {
	f := newLedgerFixture(t, "0")

	result, err := f.service.TopUp(context.Background(), TopUpInput{AccountID: testAccountID, Amount: money(t, "10000.00")})
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if !result.Balance.Equal(money(t, "10000")) {
		t.Fatalf("unexpected balance %s", result.Balance)
	}
}

func TestTopUpValidatesIdentifiers(t *testing.T) {
	f := newLedgerFixture(t, "0")

	_, err := f.service.TopUp(context.Background(), TopUpInput{AccountID: "not-a-uuid", Amount: money(t, "1.00")})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "account_id" {
		t.Fatalf("expected account_id validation error, got %v", err)
	}

	_, err = f.service.TopUp(context.Background(), TopUpInput{
		AccountID: testAccountID,
		Amount:    money(t, "1.00"),
		RequestID: strings.Repeat("k", maxRequestIDLength+1),
	})
	if !errors.As(err, &verr) || verr.Field != "request_id" {
		t.Fatalf("expected request_id validation error, got %v", err)
	}
}

func TestTopUpUnknownAccount(t *testing.T) {
	f := newLedgerFixture(t, "0")

	_, err := f.service.TopUp(context.Background(), TopUpInput{
		AccountID: "0f0e0d0c-0b0a-4909-8807-060504030201",
		Amount:    money(t, "1.00"),
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestTopUpRequestIDAppliesOnce(t *testing.T) {
	f := newLedgerFixture(t, "1.00")
	input := TopUpInput{AccountID: testAccountID, Amount: money(t, "5.00"), RequestID: "wallet-7f3a"}

	first, err := f.service.TopUp(context.Background(), input)
	if err != nil {
		t.Fatalf("first top up: %v", err)
	}
	second, err := f.service.TopUp(context.Background(), input)
	if err != nil {
		t.Fatalf("second top up: %v", err)
	}

	if !first.Applied || second.Applied {
		t.Fatalf("expected only the first call to apply, got %+v then %+v", first, second)
	}
	if !second.Balance.Equal(money(t, "6.00")) {
		t.Fatalf("expected replay to report 6.00, got %s", second.Balance)
	}
	if got := f.store.account(testAccountID).Balance; !got.Equal(money(t, "6.00")) {
		t.Fatalf("expected single credit, balance %s", got)
	}
	if len(f.publisher.topUps) != 1 || *f.publisher.topUps[0].RequestID != "wallet-7f3a" {
		t.Fatalf("expected one keyed event, got %+v", f.publisher.topUps)
	}
}

func TestTopUpRequestIDReusedWithDifferentAmount(t *testing.T) {
	f := newLedgerFixture(t, "1.00")

	if _, err := f.service.TopUp(context.Background(), TopUpInput{
		AccountID: testAccountID,
		Amount:    money(t, "5.00"),
		RequestID: "wallet-7f3a",
	}); err != nil {
		t.Fatalf("first top up: %v", err)
	}

	_, err := f.service.TopUp(context.Background(), TopUpInput{
		AccountID: testAccountID,
		Amount:    money(t, "50.00"),
		RequestID: "wallet-7f3a",
	})
	if !errors.Is(err, ErrRequestIDReused) {
		t.Fatalf("expected ErrRequestIDReused, got %v", err)
	}
	if got := f.store.account(testAccountID).Balance; !got.Equal(money(t, "6.00")) {
		t.Fatalf("mismatched replay must not credit, balance %s", got)
	}
	if len(f.publisher.topUps) != 1 {
		t.Fatalf("expected one event, got %d", len(f.publisher.topUps))
	}

	replay, err := f.service.TopUp(context.Background(), TopUpInput{
		AccountID: testAccountID,
		Amount:    money(t, "5"),
		RequestID: "wallet-7f3a",
	})
	if err != nil {
		t.Fatalf("replay with equal amount: %v", err)
	}
	if replay.Applied {
		t.Fatalf("expected replay to be reported as already applied")
	}
}

func TestPurchaseAppDebitsAndRecords(t *testing.T) {
	f := newLedgerFixture(t, "10.00")

	purchase, err := f.service.PurchaseApp(context.Background(), testAccountID, testAppID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if purchase.Status != domain.PurchaseStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", purchase.Status)
	}
	if !purchase.PriceCharged.Equal(money(t, "4.99")) {
		t.Fatalf("expected price 4.99, got %s", purchase.PriceCharged)
	}
	if !purchase.PurchasedAt.Equal(ledgerNow) {
		t.Fatalf("unexpected purchase time %s", purchase.PurchasedAt)
	}
	if purchase.App == nil || purchase.App.Name != "Pixel Garden" {
		t.Fatalf("expected app summary, got %+v", purchase.App)
	}
	if got := f.store.account(testAccountID).Balance; !got.Equal(money(t, "5.01")) {
		t.Fatalf("expected balance 5.01, got %s", got)
	}

	history, err := f.service.GetHistory(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ID != purchase.ID {
		t.Fatalf("expected the purchase in history, got %+v", history)
	}

	if len(f.publisher.purchases) != 1 || !f.publisher.purchases[0].Balance.Equal(money(t, "5.01")) {
		t.Fatalf("expected purchase event with new balance, got %+v", f.publisher.purchases)
	}
}

func TestPurchaseAppInsufficientFunds(t *testing.T) {
	f := newLedgerFixture(t, "3.00")

	_, err := f.service.PurchaseApp(context.Background(), testAccountID, testAppID)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	var funds *InsufficientFundsError
	if !errors.As(err, &funds) || !funds.Balance.Equal(money(t, "3.00")) || !funds.Price.Equal(money(t, "4.99")) {
		t.Fatalf("expected amounts on error, got %v", err)
	}

	if got := f.store.account(testAccountID).Balance; !got.Equal(money(t, "3.00")) {
		t.Fatalf("balance changed to %s", got)
	}
	history, err := f.service.GetHistory(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no purchases, got %d", len(history))
	}
	if len(f.publisher.purchases) != 0 {
		t.Fatalf("no event expected on rejection")
	}
}

func TestPurchaseAppAlreadyOwned(t *testing.T) {
	f := newLedgerFixture(t, "20.00")

	if _, err := f.service.PurchaseApp(context.Background(), testAccountID, testAppID); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	_, err := f.service.PurchaseApp(context.Background(), testAccountID, testAppID)
	if !errors.Is(err, ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned, got %v", err)
	}
	if got := f.store.account(testAccountID).Balance; !got.Equal(money(t, "15.01")) {
		t.Fatalf("expected one charge, balance %s", got)
	}
}

func TestPurchaseAppRepurchaseAfterRefund(t *testing.T) {
	f := newLedgerFixture(t, "10.00")
	f.store.purchases = append(f.store.purchases, domain.Purchase{
		ID:           "a0000000-0000-4000-8000-000000000001",
		AccountID:    testAccountID,
		AppID:        testAppID,
		PriceCharged: money(t, "4.99"),
		Status:       domain.PurchaseStatusRefunded,
		PurchasedAt:  ledgerNow.Add(-time.Hour),
	})

	if _, err := f.service.PurchaseApp(context.Background(), testAccountID, testAppID); err != nil {
		t.Fatalf("expected refunded app to be purchasable, got %v", err)
	}
}

func TestPurchaseFreeAppWithZeroBalance(t *testing.T) {
	f := newLedgerFixture(t, "0")

	purchase, err := f.service.PurchaseApp(context.Background(), testAccountID, otherAppID)
	if err != nil {
		t.Fatalf("purchase free app: %v", err)
	}
	if !purchase.PriceCharged.IsZero() {
		t.Fatalf("expected zero price, got %s", purchase.PriceCharged)
	}
}

func TestPurchaseAppNotFound(t *testing.T) {
	f := newLedgerFixture(t, "10.00")

	_, err := f.service.PurchaseApp(context.Background(), testAccountID, "11111111-2222-4333-8444-555555555555")
	if !errors.Is(err, ErrAppNotFound) {
		t.Fatalf("expected ErrAppNotFound, got %v", err)
	}

	_, err = f.service.PurchaseApp(context.Background(), "11111111-2222-4333-8444-555555555555", testAppID)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	_, err = f.service.PurchaseApp(context.Background(), testAccountID, "pixel-garden")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "app_id" {
		t.Fatalf("expected app_id validation error, got %v", err)
	}
}

func TestPurchaseAppHidesStorageErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	f := newLedgerFixture(t, "10.00")
	f.service = NewLedgerService(f.store, f.catalog, f.publisher, DefaultLedgerConfig(), zap.New(core))
	f.store.failOn = "insert"
	f.store.failErr = errors.New("pq: relation market.purchases does not exist")

	_, err := f.service.PurchaseApp(context.Background(), testAccountID, testAppID)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if strings.Contains(err.Error(), "relation") {
		t.Fatalf("storage detail leaked: %q", err.Error())
	}
	if got := f.store.account(testAccountID).Balance; !got.Equal(money(t, "10.00")) {
		t.Fatalf("failed transaction must not debit, balance %s", got)
	}
	if logs.FilterMessage("ledger storage failure").Len() != 1 {
		t.Fatalf("expected the cause to be logged, got %v", logs.All())
	}
}

func TestConcurrentPurchasesChargeOnce(t *testing.T) {
	f := newLedgerFixture(t, "10.00")

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		owned     int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.PurchaseApp(context.Background(), testAccountID, testAppID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyOwned):
				owned++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || owned != attempts-1 {
		t.Fatalf("expected 1 success and %d already-owned, got %d and %d", attempts-1, successes, owned)
	}
	if n := f.store.completedPurchases(testAccountID, testAppID); n != 1 {
		t.Fatalf("expected one completed purchase, got %d", n)
	}
	if got := f.store.account(testAccountID).Balance; !got.Equal(money(t, "5.01")) {
		t.Fatalf("expected balance 5.01, got %s", got)
	}
}

func TestConcurrentPurchasesNeverOverdraw(t *testing.T) {
	f := newLedgerFixture(t, "10.00")
	apps := make(map[string]domain.App)
	ids := []string{
		"10000000-0000-4000-8000-000000000001",
		"10000000-0000-4000-8000-000000000002",
		"10000000-0000-4000-8000-000000000003",
		"10000000-0000-4000-8000-000000000004",
		"10000000-0000-4000-8000-000000000005",
	}
	for _, id := range ids {
		apps[id] = domain.App{ID: id, Name: "app", Price: money(t, "3.00")}
	}
	f.catalog.apps = apps

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(appID string) {
			defer wg.Done()
			_, err := f.service.PurchaseApp(context.Background(), testAccountID, appID)
			if err != nil && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	balance := f.store.account(testAccountID).Balance
	if balance.IsNegative() {
		t.Fatalf("balance went negative: %s", balance)
	}
	if !balance.Equal(money(t, "1.00")) {
		t.Fatalf("expected exactly three purchases to succeed, balance %s", balance)
	}
}

func TestGetHistoryUnknownAccountIsEmpty(t *testing.T) {
	f := newLedgerFixture(t, "0")

	history, err := f.service.GetHistory(context.Background(), "0f0e0d0c-0b0a-4909-8807-060504030201")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", history)
	}
}

func TestGetHistoryStorageFailure(t *testing.T) {
	f := newLedgerFixture(t, "0")
	f.store.failOn = "list"
	f.store.failErr = errors.New("connection reset")

	_, err := f.service.GetHistory(context.Background(), testAccountID)
	var serr *StorageError
	if !errors.As(err, &serr) || serr.Op != "list purchases" {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestGetBalance(t *testing.T) {
	f := newLedgerFixture(t, "7.25")

	balance, err := f.service.GetBalance(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(money(t, "7.25")) {
		t.Fatalf("expected 7.25, got %s", balance)
	}

	if _, err := f.service.GetBalance(context.Background(), "0f0e0d0c-0b0a-4909-8807-060504030201"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestLedgerMetricsRecordOutcomes(t *testing.T) {
	f := newLedgerFixture(t, "3.00")
	reg := prometheus.NewRegistry()
	f.service.WithMetrics(telemetry.NewLedgerMetrics(reg))

	if _, err := f.service.PurchaseApp(context.Background(), testAccountID, testAppID); err == nil {
		t.Fatalf("expected insufficient funds")
	}
	if _, err := f.service.TopUp(context.Background(), TopUpInput{AccountID: testAccountID, Amount: money(t, "2.00")}); err != nil {
		t.Fatalf("top up: %v", err)
	}
	if _, err := f.service.PurchaseApp(context.Background(), testAccountID, testAppID); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	expected := `
# HELP market_ledger_purchases_total App purchase attempts partitioned by outcome.
# TYPE market_ledger_purchases_total counter
market_ledger_purchases_total{outcome="insufficient_funds"} 1
market_ledger_purchases_total{outcome="success"} 1
# HELP market_ledger_top_ups_total Balance top-up attempts partitioned by outcome.
# TYPE market_ledger_top_ups_total counter
market_ledger_top_ups_total{outcome="success"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"market_ledger_purchases_total", "market_ledger_top_ups_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

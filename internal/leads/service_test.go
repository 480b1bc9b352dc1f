package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/ledger"
	"github.com/festalink/backend/internal/ledger/ledgertest"
	"github.com/festalink/backend/internal/middleware"
	"github.com/festalink/backend/internal/models"
	"github.com/festalink/backend/internal/testutil"
)

// ---------------------------------------------------------------------------
// In-memory Store
// ---------------------------------------------------------------------------

type accessKey struct{ quote, vendor uuid.UUID }

type fakeStore struct {
	mu     sync.Mutex
	quotes map[uuid.UUID]*models.Quote
	access map[accessKey]*models.LeadAccess
}

func newFakeStore() *fakeStore {
	return &fakeStore{quotes: make(map[uuid.UUID]*models.Quote), access: make(map[accessKey]*models.LeadAccess)}
}

func (f *fakeStore) LockQuote(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[id]
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", id, apperr.ErrNotFound)
	}
	cp := *q
	return &cp, nil
}

func (f *fakeStore) FindAccess(_ context.Context, quoteID, vendorID uuid.UUID) (*models.LeadAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.access[accessKey{quoteID, vendorID}]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) InsertPaid(_ context.Context, tx pgx.Tx, quoteID, vendorID uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := accessKey{quoteID, vendorID}
	a, ok := f.access[k]
	switch {
	case !ok:
		f.access[k] = &models.LeadAccess{ID: uuid.New(), QuoteID: quoteID, VendorID: vendorID, PaymentStatus: models.PaymentPaid, UnlockedAt: &at}
		testutil.Undo(tx, func() {
			f.mu.Lock()
			delete(f.access, k)
			f.mu.Unlock()
		})
		return true, nil
	case a.PaymentStatus == models.PaymentPending:
		a.PaymentStatus = models.PaymentPaid
		a.UnlockedAt = &at
		testutil.Undo(tx, func() {
			f.mu.Lock()
			a.PaymentStatus = models.PaymentPending
			a.UnlockedAt = nil
			f.mu.Unlock()
		})
		return true, nil
	default:
		return false, nil
	}
}

func (f *fakeStore) InsertPending(_ context.Context, quoteID, vendorID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := accessKey{quoteID, vendorID}
	if _, ok := f.access[k]; !ok {
		f.access[k] = &models.LeadAccess{ID: uuid.New(), QuoteID: quoteID, VendorID: vendorID, PaymentStatus: models.PaymentPending}
	}
	return nil
}

func (f *fakeStore) MarkQuoteUnlocked(_ context.Context, tx pgx.Tx, quoteID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.quotes[quoteID]
	if q.Status != models.QuoteOpen {
		return nil
	}
	q.Status = models.QuoteUnlocked
	testutil.Undo(tx, func() {
		f.mu.Lock()
		q.Status = models.QuoteOpen
		f.mu.Unlock()
	})
	return nil
}

func (f *fakeStore) StampDeal(_ context.Context, tx pgx.Tx, quoteID, vendorID uuid.UUID, value decimal.Decimal, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.access[accessKey{quoteID, vendorID}]
	if !ok || a.PaymentStatus != models.PaymentPaid || a.DealClosed {
		return false, nil
	}
	a.DealClosed = true
	a.DealValue = decimal.NewNullDecimal(value)
	a.DealClosedAt = &at
	testutil.Undo(tx, func() {
		f.mu.Lock()
		a.DealClosed = false
		a.DealValue = decimal.NullDecimal{}
		a.DealClosedAt = nil
		f.mu.Unlock()
	})
	return true, nil
}

func (f *fakeStore) status(quoteID uuid.UUID) models.QuoteStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes[quoteID].Status
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type fixture struct {
	svc    *Service
	store  *fakeStore
	ledger *ledgertest.Store
	vendor uuid.UUID
	quote  uuid.UUID
}

func newFixture(t *testing.T, credits, cost int) *fixture {
	t.Helper()
	f := &fixture{store: newFakeStore(), vendor: uuid.New(), quote: uuid.New()}
	f.ledger = ledgertest.New(f.vendor)
	db := &testutil.Beginner{}
	ls := ledger.NewService(db, f.ledger, nil)
	if credits > 0 {
		_, err := ls.Append(context.Background(), ledger.Entry{VendorID: f.vendor, Amount: credits, Type: models.TxPurchase, ExternalRef: "cs_seed"})
		require.NoError(t, err)
	}
	f.store.quotes[f.quote] = &models.Quote{ID: f.quote, ClientID: uuid.New(), VendorID: f.vendor, Status: models.QuoteOpen, CreditCost: cost}
	f.svc = NewService(db, f.store, ls, nil)
	return f
}

// ---------------------------------------------------------------------------
// UnlockLead
// ---------------------------------------------------------------------------

func TestUnlockLeadDebitsAndGrantsAccess(t *testing.T) {
	f := newFixture(t, 5, 3)
	res, err := f.svc.UnlockLead(context.Background(), f.vendor, f.quote)
	require.NoError(t, err)
	assert.Equal(t, UnlockResult{Balance: 2}, res)

	ok, err := f.svc.HasPaidAccess(context.Background(), f.quote, f.vendor)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.QuoteUnlocked, f.store.status(f.quote))

	rows := f.ledger.Rows(f.vendor)
	require.Len(t, rows, 2)
	assert.Equal(t, -3, rows[1].Amount)
	assert.Equal(t, UnlockRef(f.quote), *rows[1].ExternalPaymentReference)
}

func TestUnlockLeadIsIdempotent(t *testing.T) {
	f := newFixture(t, 5, 1)
	_, err := f.svc.UnlockLead(context.Background(), f.vendor, f.quote)
	require.NoError(t, err)

	res, err := f.svc.UnlockLead(context.Background(), f.vendor, f.quote)
	require.NoError(t, err)
	assert.True(t, res.AlreadyUnlocked)
	assert.Equal(t, 4, res.Balance)
	assert.Len(t, f.ledger.Rows(f.vendor), 2)
}

func TestUnlockLeadInsufficientBalanceLeavesNoAccess(t *testing.T) {
	f := newFixture(t, 2, 3)
	_, err := f.svc.UnlockLead(context.Background(), f.vendor, f.quote)
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	ok, err := f.svc.HasPaidAccess(context.Background(), f.quote, f.vendor)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.QuoteOpen, f.store.status(f.quote))
	assert.Equal(t, 2, f.ledger.Cached(f.vendor))
}

func TestUnlockLeadRejections(t *testing.T) {
	t.Run("unknown quote", func(t *testing.T) {
		f := newFixture(t, 5, 1)
		_, err := f.svc.UnlockLead(context.Background(), f.vendor, uuid.New())
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
	t.Run("another vendor's quote", func(t *testing.T) {
		f := newFixture(t, 5, 1)
		intruder := uuid.New()
		f.ledger.AddVendor(intruder)
		_, err := f.svc.UnlockLead(context.Background(), intruder, f.quote)
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})
	t.Run("cancelled quote", func(t *testing.T) {
		f := newFixture(t, 5, 1)
		f.store.quotes[f.quote].Status = models.QuoteCancelled
		_, err := f.svc.UnlockLead(context.Background(), f.vendor, f.quote)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		assert.Equal(t, 5, f.ledger.Cached(f.vendor))
	})
}

func TestUnlockLeadConcurrentCallsChargeOnce(t *testing.T) {
	f := newFixture(t, 10, 2)
	var wg sync.WaitGroup
	results := make([]UnlockResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.UnlockLead(context.Background(), f.vendor, f.quote)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].AlreadyUnlocked {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 8, f.ledger.Cached(f.vendor))
	assert.Len(t, f.ledger.Rows(f.vendor), 2)
}

func TestPendingCheckoutThenCreditUnlock(t *testing.T) {
	f := newFixture(t, 5, 1)
	require.NoError(t, f.svc.PrepareCheckout(context.Background(), f.vendor, f.quote))

	ok, err := f.svc.HasPaidAccess(context.Background(), f.quote, f.vendor)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := f.svc.UnlockLead(context.Background(), f.vendor, f.quote)
	require.NoError(t, err)
	assert.False(t, res.AlreadyUnlocked)
	assert.Equal(t, 4, res.Balance)

	err = f.svc.PrepareCheckout(context.Background(), f.vendor, f.quote)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestUnlockViaPaymentIsIdempotentAndFree(t *testing.T) {
	f := newFixture(t, 0, 1)
	already, err := f.svc.UnlockViaPayment(context.Background(), f.vendor, f.quote)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, models.QuoteUnlocked, f.store.status(f.quote))

	already, err = f.svc.UnlockViaPayment(context.Background(), f.vendor, f.quote)
	require.NoError(t, err)
	assert.True(t, already)
	assert.Empty(t, f.ledger.Rows(f.vendor))
}

func TestStampDealOnlyOnce(t *testing.T) {
	f := newFixture(t, 5, 1)
	_, err := f.svc.UnlockLead(context.Background(), f.vendor, f.quote)
	require.NoError(t, err)

	tx := &testutil.Tx{}
	require.NoError(t, f.svc.StampDealTx(context.Background(), tx, f.quote, f.vendor, decimal.NewFromInt(500)))
	require.NoError(t, tx.Commit(context.Background()))

	err = f.svc.StampDealTx(context.Background(), &testutil.Tx{}, f.quote, f.vendor, decimal.NewFromInt(700))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	a, _ := f.store.FindAccess(context.Background(), f.quote, f.vendor)
	assert.True(t, a.DealValue.Decimal.Equal(decimal.NewFromInt(500)))
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func TestUnlockHandler(t *testing.T) {
	f := newFixture(t, 1, 3)
	h := NewHandler(f.svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/"+f.quote.String()+"/unlock", nil)
	req.SetPathValue("id", f.quote.String())
	req = req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{AccountID: f.vendor, Role: models.RoleVendor}))
	rec := httptest.NewRecorder()
	h.Unlock(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "insufficient balance, buy more credits", body["error"])
}

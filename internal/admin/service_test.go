package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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
// Fakes
// ---------------------------------------------------------------------------

type fakeVendors map[uuid.UUID]*models.Vendor

func (f fakeVendors) Get(_ context.Context, id uuid.UUID) (*models.Vendor, error) {
	v, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("vendor %s: %w", id, apperr.ErrNotFound)
	}
	return v, nil
}

type fakeMessages struct {
	rows   []*models.Message
	emails []uuid.UUID
}

func (f *fakeMessages) RecordOnceTx(_ context.Context, tx pgx.Tx, m *models.Message) (bool, error) {
	for _, r := range f.rows {
		if r.RecipientID == m.RecipientID && *r.BatchID == *m.BatchID {
			return false, nil
		}
	}
	f.rows = append(f.rows, m)
	n := len(f.rows)
	testutil.Undo(tx, func() { f.rows = f.rows[:n-1] })
	return true, nil
}

func (f *fakeMessages) EmailAccountTx(_ context.Context, tx pgx.Tx, id uuid.UUID, _, _ string) {
	f.emails = append(f.emails, id)
	n := len(f.emails)
	testutil.Undo(tx, func() { f.emails = f.emails[:n-1] })
}

type fakeReports struct {
	from, to *time.Time
}

func (f *fakeReports) DealSummary(_ context.Context, from, to *time.Time, _ int) (*DealReport, error) {
	f.from, f.to = from, to
	return &DealReport{From: from, To: to, Deals: 2, TotalValue: decimal.RequireFromString("1500.00")}, nil
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	vendors  fakeVendors
	ids      []uuid.UUID
	store    *ledgertest.Store
	messages *fakeMessages
	reports  *fakeReports
	svc      *Service
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	f := &fixture{vendors: fakeVendors{}, messages: &fakeMessages{}, reports: &fakeReports{}}
	f.store = ledgertest.New()
	for i := range n {
		id := uuid.New()
		f.ids = append(f.ids, id)
		f.vendors[id] = &models.Vendor{ID: id, BusinessName: fmt.Sprintf("Vendor %d", i)}
		f.store.AddVendor(id)
	}
	db := &testutil.Beginner{}
	ls := ledger.NewService(db, f.store, nil)
	f.svc = NewService(db, ls, f.vendors, f.messages, f.reports, 30*24*time.Hour, nil)
	f.svc.SetClock(func() time.Time { return now })
	return f
}

// ---------------------------------------------------------------------------
// Bulk bonus
// ---------------------------------------------------------------------------

func TestApplyBonusToManyContinuesPastFailures(t *testing.T) {
	f := newFixture(t, 3)
	missing := uuid.New()
	ids := []uuid.UUID{f.ids[0], missing, f.ids[1], f.ids[0], f.ids[2]}

	res, err := f.svc.ApplyBonusToMany(context.Background(), uuid.New(), BonusInput{
		VendorIDs:      ids,
		Amount:         5,
		ReasonTemplate: "Holiday bonus for {vendor}: {amount} credits",
	})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 3)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, missing, res.Failed[0].VendorID)
	assert.Equal(t, "vendor not found", res.Failed[0].Error)

	rows := f.store.Rows(f.ids[1])
	require.Len(t, rows, 1)
	assert.Equal(t, models.TxBonus, rows[0].Type)
	assert.Equal(t, "Holiday bonus for Vendor 1: 5 credits", rows[0].Description)
	require.NotNil(t, rows[0].ExpiresAt)
	assert.Equal(t, now.Add(30*24*time.Hour), *rows[0].ExpiresAt)
	assert.Equal(t, BonusRef(res.BatchID), *rows[0].ExternalPaymentReference)
}

func TestApplyBonusToManyRetryNeverDoubleCredits(t *testing.T) {
	f := newFixture(t, 2)
	in := BonusInput{BatchID: uuid.New(), VendorIDs: f.ids, Amount: 4}

	for range 3 {
		res, err := f.svc.ApplyBonusToMany(context.Background(), uuid.New(), in)
		require.NoError(t, err)
		assert.Len(t, res.Succeeded, 2)
		assert.Equal(t, 4, *res.Succeeded[0].Balance)
	}
	for _, id := range f.ids {
		assert.Len(t, f.store.Rows(id), 1)
		assert.Equal(t, 4, f.store.Cached(id))
	}
}

func TestApplyBonusToManyValidation(t *testing.T) {
	f := newFixture(t, 1)
	past := now.Add(-time.Hour)
	cases := []BonusInput{
		{VendorIDs: f.ids, Amount: 0},
		{VendorIDs: nil, Amount: 1},
		{VendorIDs: []uuid.UUID{uuid.Nil}, Amount: 1},
		{VendorIDs: f.ids, Amount: 1, ExpiresAt: &past},
	}
	for i, in := range cases {
		_, err := f.svc.ApplyBonusToMany(context.Background(), uuid.New(), in)
		assert.ErrorIs(t, err, apperr.ErrValidation, "case %d", i)
	}
	assert.Empty(t, f.store.Rows(f.ids[0]))
}

func TestApplyBonusStopsOnCancel(t *testing.T) {
	f := newFixture(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.svc.ApplyBonusToMany(ctx, uuid.New(), BonusInput{VendorIDs: f.ids, Amount: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Succeeded)
}

// ---------------------------------------------------------------------------
// Bulk messages
// ---------------------------------------------------------------------------

func TestSendMessageToManyIsPerVendorAndIdempotent(t *testing.T) {
	f := newFixture(t, 2)
	missing := uuid.New()
	in := MessageInput{BatchID: uuid.New(), VendorIDs: []uuid.UUID{f.ids[0], missing, f.ids[1]}, Subject: "Maintenance", Body: "Sunday 2am", Email: true}

	res, err := f.svc.SendMessageToMany(context.Background(), uuid.New(), in)
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 2)
	assert.Len(t, res.Failed, 1)
	assert.Len(t, f.messages.rows, 2)
	assert.Len(t, f.messages.emails, 2)

	res, err = f.svc.SendMessageToMany(context.Background(), uuid.New(), in)
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 2)
	assert.Len(t, f.messages.rows, 2, "redelivery writes no new rows")
	assert.Len(t, f.messages.emails, 2, "redelivery sends no new email")
	assert.Equal(t, models.MessageAdminBroadcast, f.messages.rows[0].Kind)
}

func TestSendMessageToManyRequiresContent(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.SendMessageToMany(context.Background(), uuid.New(), MessageInput{VendorIDs: f.ids, Subject: " "})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

// ---------------------------------------------------------------------------
// Reports and handlers
// ---------------------------------------------------------------------------

func TestDealReportWindow(t *testing.T) {
	f := newFixture(t, 0)
	from, to := now.Add(-24*time.Hour), now

	rep, err := f.svc.DealReport(context.Background(), &from, &to)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Deals)
	assert.Equal(t, &from, f.reports.from)

	_, err = f.svc.DealReport(context.Background(), &to, &from)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func adminRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	return req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{AccountID: uuid.New(), Role: models.RoleAdmin}))
}

func TestBulkBonusHandler(t *testing.T) {
	f := newFixture(t, 1)
	h := NewHandler(f.svc, nil)
	body := fmt.Sprintf(`{"vendor_ids":["%s"],"amount":3}`, f.ids[0])

	rec := httptest.NewRecorder()
	h.BulkBonus(rec, adminRequest(http.MethodPost, "/api/v1/admin/bonus/bulk", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res BulkResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Len(t, res.Succeeded, 1)
	assert.NotEqual(t, uuid.Nil, res.BatchID)

	rec = httptest.NewRecorder()
	h.BulkBonus(rec, adminRequest(http.MethodPost, "/api/v1/admin/bonus/bulk", `{"vendor_ids":[],"amount":3}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDealsHandlerRejectsBadTime(t *testing.T) {
	f := newFixture(t, 0)
	h := NewHandler(f.svc, nil)
	rec := httptest.NewRecorder()
	h.Deals(rec, adminRequest(http.MethodGet, "/api/v1/admin/reports/deals?from=yesterday", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

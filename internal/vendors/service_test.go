package vendors

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/middleware"
	"github.com/festalink/backend/internal/models"
	"github.com/festalink/backend/internal/testutil"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu       sync.Mutex
	vendors  map[uuid.UUID]*models.Vendor
	payments map[string]bool
}

func (f *fakeStore) CreateTx(_ context.Context, _ pgx.Tx, v *models.Vendor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v.SubscriptionStatus = models.SubscriptionInactive
	v.ApprovalStatus = models.ApprovalPending
	cp := *v
	f.vendors[v.ID] = &cp
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*models.Vendor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vendors[id]
	if !ok {
		return nil, fmt.Errorf("vendor %s: %w", id, apperr.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (f *fakeStore) SetApproval(_ context.Context, tx pgx.Tx, id uuid.UUID, from []models.ApprovalStatus, status models.ApprovalStatus) (*models.Vendor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vendors[id]
	if !ok {
		return nil, nil
	}
	allowed := false
	for _, s := range from {
		allowed = allowed || s == v.ApprovalStatus
	}
	if !allowed {
		return nil, nil
	}
	prev := v.ApprovalStatus
	v.ApprovalStatus = status
	testutil.Undo(tx, func() {
		f.mu.Lock()
		v.ApprovalStatus = prev
		f.mu.Unlock()
	})
	cp := *v
	return &cp, nil
}

func (f *fakeStore) ExtendSubscription(_ context.Context, tx pgx.Tx, id uuid.UUID, ref string, now time.Time, period time.Duration) (*models.Vendor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vendors[id]
	if !ok {
		return nil, nil
	}
	prev := *v
	base := now
	if v.SubscriptionExpiry != nil && v.SubscriptionExpiry.After(now) {
		base = *v.SubscriptionExpiry
	}
	exp := base.Add(period)
	v.SubscriptionStatus = models.SubscriptionActive
	v.SubscriptionExpiry = &exp
	v.SubscriptionReference = &ref
	testutil.Undo(tx, func() {
		f.mu.Lock()
		*v = prev
		f.mu.Unlock()
	})
	cp := *v
	return &cp, nil
}

func (f *fakeStore) RecordSubscriptionPayment(_ context.Context, tx pgx.Tx, id uuid.UUID, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := id.String() + "/" + ref
	if f.payments[key] {
		return false, nil
	}
	f.payments[key] = true
	testutil.Undo(tx, func() {
		f.mu.Lock()
		delete(f.payments, key)
		f.mu.Unlock()
	})
	return true, nil
}

func (f *fakeStore) MarkLapsed(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, v := range f.vendors {
		if v.SubscriptionStatus == models.SubscriptionActive && !v.SubscriptionExpiry.After(now) {
			v.SubscriptionStatus = models.SubscriptionPastDue
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeBalance map[uuid.UUID]int

func (f fakeBalance) Balance(_ context.Context, id uuid.UUID) (int, error) { return f[id], nil }

type fakeNotifier struct {
	messages []*models.Message
	emails   []uuid.UUID
}

func (f *fakeNotifier) RecordTx(_ context.Context, _ pgx.Tx, m *models.Message) error {
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeNotifier) EmailAccount(_ context.Context, to uuid.UUID, _, _ string) {
	f.emails = append(f.emails, to)
}

func (f *fakeNotifier) EmailAccountTx(_ context.Context, tx pgx.Tx, to uuid.UUID, _, _ string) {
	f.emails = append(f.emails, to)
	n := len(f.emails)
	testutil.Undo(tx, func() { f.emails = f.emails[:n-1] })
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newService(t *testing.T, vendors ...*models.Vendor) (*Service, *fakeStore, *fakeNotifier) {
	t.Helper()
	store := &fakeStore{vendors: make(map[uuid.UUID]*models.Vendor), payments: make(map[string]bool)}
	for _, v := range vendors {
		store.vendors[v.ID] = v
	}
	n := &fakeNotifier{}
	svc := NewService(&testutil.Beginner{}, store, fakeBalance{}, n, 30*24*time.Hour, nil)
	svc.SetClock(func() time.Time { return now })
	return svc, store, n
}

func vendor(approval models.ApprovalStatus) *models.Vendor {
	return &models.Vendor{ID: uuid.New(), BusinessName: "Buffet Co", ApprovalStatus: approval, SubscriptionStatus: models.SubscriptionInactive}
}

// ---------------------------------------------------------------------------
// Approval
// ---------------------------------------------------------------------------

func TestDecideTransitions(t *testing.T) {
	cases := []struct {
		from     models.ApprovalStatus
		decision models.ApprovalStatus
		wantErr  error
	}{
		{models.ApprovalPending, models.ApprovalApproved, nil},
		{models.ApprovalPending, models.ApprovalRejected, nil},
		{models.ApprovalApproved, models.ApprovalDeleted, nil},
		{models.ApprovalRejected, models.ApprovalApproved, nil},
		{models.ApprovalApproved, models.ApprovalApproved, apperr.ErrInvalidTransition},
		{models.ApprovalDeleted, models.ApprovalApproved, apperr.ErrInvalidTransition},
		{models.ApprovalPending, models.ApprovalPending, apperr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s to %s", tc.from, tc.decision), func(t *testing.T) {
			v := vendor(tc.from)
			svc, store, n := newService(t, v)
			got, err := svc.Decide(context.Background(), uuid.New(), v.ID, tc.decision, "")
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, n.messages)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.decision, got.ApprovalStatus)
			assert.Equal(t, tc.decision, store.vendors[v.ID].ApprovalStatus)
			require.Len(t, n.messages, 1)
			assert.Equal(t, models.MessageApprovalChanged, n.messages[0].Kind)
			assert.Equal(t, []uuid.UUID{v.ID}, n.emails)
		})
	}
}

// ---------------------------------------------------------------------------
// Subscription
// ---------------------------------------------------------------------------

func TestApplySubscriptionNeverTouchesApproval(t *testing.T) {
	v := vendor(models.ApprovalPending)
	svc, store, _ := newService(t, v)

	applied, err := svc.ApplySubscription(context.Background(), v.ID, "cs_sub_1")
	require.NoError(t, err)
	assert.True(t, applied)

	got := store.vendors[v.ID]
	assert.Equal(t, models.SubscriptionActive, got.SubscriptionStatus)
	assert.Equal(t, models.ApprovalPending, got.ApprovalStatus)
	assert.Equal(t, now.Add(30*24*time.Hour), *got.SubscriptionExpiry)

	applied, err = svc.ApplySubscription(context.Background(), v.ID, "cs_sub_1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, now.Add(30*24*time.Hour), *store.vendors[v.ID].SubscriptionExpiry)

	_, err = svc.ApplySubscription(context.Background(), uuid.New(), "cs_sub_2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplySubscriptionRemembersEveryPayment(t *testing.T) {
	v := vendor(models.ApprovalApproved)
	svc, store, _ := newService(t, v)
	ctx := context.Background()
	period := 30 * 24 * time.Hour

	for _, ref := range []string{"cs_first", "in_renewal"} {
		applied, err := svc.ApplySubscription(ctx, v.ID, ref)
		require.NoError(t, err)
		assert.True(t, applied, ref)
	}
	require.Equal(t, now.Add(2*period), *store.vendors[v.ID].SubscriptionExpiry)

	// A late retry of the first payment after the renewal adds nothing.
	applied, err := svc.ApplySubscription(ctx, v.ID, "cs_first")
	require.NoError(t, err)
	assert.False(t, applied)
	got := store.vendors[v.ID]
	assert.Equal(t, now.Add(2*period), *got.SubscriptionExpiry)
	assert.Equal(t, "in_renewal", *got.SubscriptionReference)
}

func TestSweepLapsedSubscriptions(t *testing.T) {
	expired := vendor(models.ApprovalApproved)
	past := now.Add(-time.Hour)
	expired.SubscriptionStatus = models.SubscriptionActive
	expired.SubscriptionExpiry = &past

	current := vendor(models.ApprovalApproved)
	future := now.Add(time.Hour)
	current.SubscriptionStatus = models.SubscriptionActive
	current.SubscriptionExpiry = &future

	svc, store, n := newService(t, expired, current)
	count, err := svc.SweepLapsedSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, models.SubscriptionPastDue, store.vendors[expired.ID].SubscriptionStatus)
	assert.Equal(t, models.ApprovalApproved, store.vendors[expired.ID].ApprovalStatus)
	assert.Equal(t, models.SubscriptionActive, store.vendors[current.ID].SubscriptionStatus)
	assert.Equal(t, []uuid.UUID{expired.ID}, n.emails)
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func TestApprovalHandlerRejectsUnknownDecision(t *testing.T) {
	v := vendor(models.ApprovalPending)
	svc, _, _ := newService(t, v)
	h := NewHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"decision":"suspended"}`)))
	req.SetPathValue("id", v.ID.String())
	req = req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{AccountID: uuid.New(), Role: models.RoleAdmin}))
	rec := httptest.NewRecorder()
	h.Approval(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

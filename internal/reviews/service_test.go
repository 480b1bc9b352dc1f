package reviews

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

type reviewKey struct{ quote, reviewer uuid.UUID }

type fakeStore struct {
	mu       sync.Mutex
	quotes   map[uuid.UUID]*Eligibility
	reviews  map[reviewKey]*models.Review
	claimed  map[uuid.UUID]bool
	claimErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{quotes: map[uuid.UUID]*Eligibility{}, reviews: map[reviewKey]*models.Review{}, claimed: map[uuid.UUID]bool{}}
}

func (f *fakeStore) Eligibility(_ context.Context, id uuid.UUID) (*Eligibility, error) {
	e, ok := f.quotes[id]
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", id, apperr.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) Insert(_ context.Context, r *models.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := reviewKey{r.QuoteID, r.ReviewerID}
	if _, ok := f.reviews[k]; ok {
		return fmt.Errorf("%w: quote already reviewed", apperr.ErrConflict)
	}
	f.reviews[k] = r
	return nil
}

func (f *fakeStore) ListForReviewee(_ context.Context, id uuid.UUID, _ int) ([]models.Review, error) {
	var out []models.Review
	for _, r := range f.reviews {
		if r.RevieweeID == id {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimDue(_ context.Context, tx pgx.Tx, now time.Time, limit int) ([]Due, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	var out []Due
	for id, e := range f.quotes {
		if len(out) == limit {
			break
		}
		if !e.DealClosed || f.claimed[id] || !e.EventDate.Before(now) {
			continue
		}
		f.claimed[id] = true
		testutil.Undo(tx, func() {
			f.mu.Lock()
			delete(f.claimed, id)
			f.mu.Unlock()
		})
		out = append(out, Due{QuoteID: id, ClientID: e.ClientID, VendorID: e.VendorID})
	}
	return out, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []*models.Message
	emails   []uuid.UUID
	failOn   int
}

func (n *fakeNotifier) RecordTx(_ context.Context, _ pgx.Tx, m *models.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failOn > 0 && len(n.messages)+1 == n.failOn {
		return fmt.Errorf("insert message: connection reset")
	}
	n.messages = append(n.messages, m)
	return nil
}

func (n *fakeNotifier) EmailAccountTx(_ context.Context, tx pgx.Tx, id uuid.UUID, _, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, id)
	count := len(n.emails)
	testutil.Undo(tx, func() {
		n.mu.Lock()
		n.emails = n.emails[:count-1]
		n.mu.Unlock()
	})
}

var now = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

func newService(store *fakeStore, n *fakeNotifier) *Service {
	svc := NewService(&testutil.Beginner{}, store, n, nil)
	svc.SetClock(func() time.Time { return now })
	return svc
}

func closedDeal(store *fakeStore, eventDate time.Time) *Eligibility {
	e := &Eligibility{QuoteID: uuid.New(), ClientID: uuid.New(), VendorID: uuid.New(), EventDate: eventDate, DealClosed: true}
	store.quotes[e.QuoteID] = e
	return e
}

func principal(id uuid.UUID, role models.Role) middleware.Principal {
	return middleware.Principal{AccountID: id, Role: role}
}

func TestCreateReviewBothParties(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, &fakeNotifier{})
	e := closedDeal(store, now.Add(-48*time.Hour))

	r, err := svc.Create(context.Background(), principal(e.ClientID, models.RoleClient), e.QuoteID, 5, " great buffet ")
	require.NoError(t, err)
	assert.Equal(t, e.VendorID, r.RevieweeID)
	assert.Equal(t, "great buffet", r.Comment)

	r, err = svc.Create(context.Background(), principal(e.VendorID, models.RoleVendor), e.QuoteID, 4, "")
	require.NoError(t, err)
	assert.Equal(t, e.ClientID, r.RevieweeID)

	_, err = svc.Create(context.Background(), principal(e.ClientID, models.RoleClient), e.QuoteID, 3, "again")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateReviewEligibility(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, &fakeNotifier{})
	past := closedDeal(store, now.Add(-time.Hour))
	future := closedDeal(store, now.Add(time.Hour))
	open := closedDeal(store, now.Add(-time.Hour))
	open.DealClosed = false

	cases := []struct {
		name   string
		p      middleware.Principal
		quote  uuid.UUID
		rating int
		want   error
	}{
		{"rating too low", principal(past.ClientID, models.RoleClient), past.QuoteID, 0, apperr.ErrValidation},
		{"rating too high", principal(past.ClientID, models.RoleClient), past.QuoteID, 6, apperr.ErrValidation},
		{"stranger", principal(uuid.New(), models.RoleClient), past.QuoteID, 5, apperr.ErrForbidden},
		{"event not over", principal(future.ClientID, models.RoleClient), future.QuoteID, 5, apperr.ErrInvalidTransition},
		{"deal not closed", principal(open.ClientID, models.RoleClient), open.QuoteID, 5, apperr.ErrInvalidTransition},
		{"unknown quote", principal(past.ClientID, models.RoleClient), uuid.New(), 5, apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.p, tc.quote, tc.rating, "")
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, store.reviews)
}

func TestSendDueRemindersClaimsOnce(t *testing.T) {
	store := newFakeStore()
	n := &fakeNotifier{}
	svc := newService(store, n)
	closedDeal(store, now.Add(-24*time.Hour))
	closedDeal(store, now.Add(-72*time.Hour))
	closedDeal(store, now.Add(24*time.Hour))

	sent, err := svc.SendDueReminders(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Len(t, n.messages, 4, "client and vendor each get a request")
	assert.Len(t, n.emails, 4)
	assert.Equal(t, models.MessageReviewRequest, n.messages[0].Kind)

	sent, err = svc.SendDueReminders(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Len(t, n.emails, 4)
}

func TestSendDueRemindersReleasesClaimOnFailure(t *testing.T) {
	store := newFakeStore()
	n := &fakeNotifier{failOn: 2}
	svc := newService(store, n)
	closedDeal(store, now.Add(-24*time.Hour))

	_, err := svc.SendDueReminders(context.Background(), 10)
	require.Error(t, err)
	assert.Empty(t, store.claimed)
	assert.Empty(t, n.emails, "queued emails roll back with the claim")

	n.failOn = 0
	n.messages = nil
	sent, err := svc.SendDueReminders(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestCreateHandlerValidatesRating(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, &fakeNotifier{})
	e := closedDeal(store, now.Add(-time.Hour))
	h := NewHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"rating":9}`))
	req.SetPathValue("id", e.QuoteID.String())
	req = req.WithContext(middleware.WithPrincipal(req.Context(), principal(e.ClientID, models.RoleClient)))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"rating":5,"comment":"lovely"}`))
	req.SetPathValue("id", e.QuoteID.String())
	req = req.WithContext(middleware.WithPrincipal(req.Context(), principal(e.ClientID, models.RoleClient)))
	rec = httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

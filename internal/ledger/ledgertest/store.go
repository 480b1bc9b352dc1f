// Package ledgertest provides an in-memory ledger.Store for tests in packages
// that build on the ledger.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/ledger"
	"github.com/festalink/backend/internal/models"
	"github.com/festalink/backend/internal/testutil"
)

// Store emulates the vendors lock row and credit_transactions table. The
// vendor lock is held until the owning testutil.Tx finishes, and writes are
// undone when it rolls back.
type Store struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int
	rows     []*models.CreditTransaction
	sems     map[uuid.UUID]chan struct{}
	owners   map[uuid.UUID]pgx.Tx
	clock    time.Time

	// InsertErr, when set, is returned by the next Insert call and then cleared.
	InsertErr error
}

var _ ledger.Store = (*Store)(nil)

func New(vendorIDs ...uuid.UUID) *Store {
	s := &Store{
		balances: make(map[uuid.UUID]int),
		sems:     make(map[uuid.UUID]chan struct{}),
		owners:   make(map[uuid.UUID]pgx.Tx),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, id := range vendorIDs {
		s.AddVendor(id)
	}
	return s
}

func (s *Store) AddVendor(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[id] = 0
	s.sems[id] = make(chan struct{}, 1)
}

// Cached returns the vendors.credit_balance equivalent.
func (s *Store) Cached(vendorID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[vendorID]
}

// Rows returns a copy of the vendor's rows in append order.
func (s *Store) Rows(vendorID uuid.UUID) []models.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CreditTransaction
	for _, r := range s.rows {
		if r.VendorID == vendorID {
			out = append(out, *r)
		}
	}
	return out
}

func (s *Store) LockBalance(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (int, error) {
	s.mu.Lock()
	sem, ok := s.sems[vendorID]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("vendor %s: %w", vendorID, apperr.ErrNotFound)
	}
	if s.owners[vendorID] == tx {
		bal := s.balances[vendorID]
		s.mu.Unlock()
		return bal, nil
	}
	s.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	s.mu.Lock()
	s.owners[vendorID] = tx
	bal := s.balances[vendorID]
	s.mu.Unlock()
	testutil.Finish(tx, func() {
		s.mu.Lock()
		delete(s.owners, vendorID)
		s.mu.Unlock()
		<-sem
	})
	return bal, nil
}

func (s *Store) FindByRef(_ context.Context, _ pgx.Tx, vendorID uuid.UUID, ref string) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.VendorID == vendorID && r.ExternalPaymentReference != nil && *r.ExternalPaymentReference == ref {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) SetBalance(_ context.Context, tx pgx.Tx, vendorID uuid.UUID, balance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance < 0 {
		return &pgconn.PgError{Code: "23514", Message: "credit_balance check"}
	}
	prev := s.balances[vendorID]
	s.balances[vendorID] = balance
	testutil.Undo(tx, func() {
		s.mu.Lock()
		s.balances[vendorID] = prev
		s.mu.Unlock()
	})
	return nil
}

func (s *Store) Insert(_ context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.InsertErr; err != nil {
		s.InsertErr = nil
		return err
	}
	if t.BalanceAfter < 0 {
		return &pgconn.PgError{Code: "23514", Message: "balance_after check"}
	}
	if t.ExternalPaymentReference != nil {
		for _, r := range s.rows {
			if r.VendorID == t.VendorID && r.ExternalPaymentReference != nil && *r.ExternalPaymentReference == *t.ExternalPaymentReference {
				return &pgconn.PgError{Code: "23505", Message: "duplicate external_payment_reference"}
			}
		}
	}
	s.clock = s.clock.Add(time.Microsecond)
	t.CreatedAt = s.clock
	cp := *t
	s.rows = append(s.rows, &cp)
	testutil.Undo(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, r := range s.rows {
			if r.ID == cp.ID {
				s.rows = append(s.rows[:i], s.rows[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s *Store) Entries(_ context.Context, _ pgx.Tx, vendorID uuid.UUID) ([]*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CreditTransaction
	for _, r := range s.rows {
		if r.VendorID == vendorID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) Balance(_ context.Context, vendorID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[vendorID]; !ok {
		return 0, fmt.Errorf("vendor %s: %w", vendorID, apperr.ErrNotFound)
	}
	sum := 0
	for _, r := range s.rows {
		if r.VendorID == vendorID {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (s *Store) History(_ context.Context, vendorID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CreditTransaction
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if s.rows[i].VendorID == vendorID {
			cp := *s.rows[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) VendorsWithExpiredBonuses(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	closed := make(map[string]bool)
	for _, r := range s.rows {
		if r.ExternalPaymentReference != nil && strings.HasPrefix(*r.ExternalPaymentReference, "bonus-expiry:") {
			closed[*r.ExternalPaymentReference] = true
		}
	}
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, r := range s.rows {
		if r.Type != models.TxBonus || r.ExpiresAt == nil || r.ExpiresAt.After(now) {
			continue
		}
		if closed[ledger.ExpiryRef(r.ID)] || seen[r.VendorID] {
			continue
		}
		seen[r.VendorID] = true
		out = append(out, r.VendorID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

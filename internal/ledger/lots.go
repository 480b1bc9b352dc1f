package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/festalink/backend/internal/models"
)

const expiryRefPrefix = "bonus-expiry:"

// ExpiryRef is the external reference of the bonus_expiration row that closes a bonus lot.
func ExpiryRef(bonusID uuid.UUID) string {
	return expiryRefPrefix + bonusID.String()
}

// Lot is a bonus grant together with the part of it not yet spent.
type Lot struct {
	BonusID   uuid.UUID
	ExpiresAt time.Time
	Granted   int
	Remaining int
}

// OpenLots replays a vendor's entries in append order and returns the bonus lots
// that have not been closed by an expiration entry. Debits draw down the
// earliest-expiring open lot first; whatever the lots cannot cover comes out of
// purchased credits. Positive non-bonus entries never refill a lot.
func OpenLots(entries []*models.CreditTransaction) []*Lot {
	var open []*Lot
	byID := make(map[uuid.UUID]*Lot)
	for _, e := range entries {
		switch {
		case e.Type == models.TxBonus:
			lot := &Lot{BonusID: e.ID, Granted: e.Amount, Remaining: e.Amount}
			if e.ExpiresAt != nil {
				lot.ExpiresAt = *e.ExpiresAt
			}
			open = append(open, lot)
			byID[e.ID] = lot
		case e.Type == models.TxBonusExpiration:
			id, ok := closedLot(e)
			if !ok {
				continue
			}
			if lot, found := byID[id]; found {
				open = remove(open, lot)
				delete(byID, id)
			}
		case e.Amount < 0:
			drawDown(open, -e.Amount)
		}
	}
	sortByExpiry(open)
	return open
}

// Expired returns the lots whose expiry is at or before now.
func Expired(lots []*Lot, now time.Time) []*Lot {
	var out []*Lot
	for _, l := range lots {
		if !l.ExpiresAt.IsZero() && !l.ExpiresAt.After(now) {
			out = append(out, l)
		}
	}
	return out
}

func drawDown(lots []*Lot, amount int) {
	ordered := make([]*Lot, len(lots))
	copy(ordered, lots)
	sortByExpiry(ordered)
	for _, l := range ordered {
		if amount == 0 {
			return
		}
		take := min(l.Remaining, amount)
		l.Remaining -= take
		amount -= take
	}
}

// sortByExpiry orders lots by expiry, lots without one last. Ties keep grant order.
func sortByExpiry(lots []*Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i].ExpiresAt, lots[j].ExpiresAt
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.Before(b)
		}
	})
}

func closedLot(e *models.CreditTransaction) (uuid.UUID, bool) {
	if e.ExternalPaymentReference == nil {
		return uuid.Nil, false
	}
	raw, ok := strings.CutPrefix(*e.ExternalPaymentReference, expiryRefPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

func remove(lots []*Lot, target *Lot) []*Lot {
	out := lots[:0]
	for _, l := range lots {
		if l != target {
			out = append(out, l)
		}
	}
	return out
}

package admin

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Reports = (*Repository)(nil)

// DealSummary aggregates deal-closed lead access rows closed in [from, to).
// Nil bounds are open.
func (r *Repository) DealSummary(ctx context.Context, from, to *time.Time, top int) (*DealReport, error) {
	rep := &DealReport{From: from, To: to}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(deal_value), 0)
		FROM lead_access
		WHERE deal_closed
		  AND ($1::timestamptz IS NULL OR deal_closed_at >= $1)
		  AND ($2::timestamptz IS NULL OR deal_closed_at < $2)
	`, from, to).Scan(&rep.Deals, &rep.TotalValue)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT la.vendor_id, v.business_name, COUNT(*), COALESCE(SUM(la.deal_value), 0)
		FROM lead_access la
		JOIN vendors v ON v.id = la.vendor_id
		WHERE la.deal_closed
		  AND ($1::timestamptz IS NULL OR la.deal_closed_at >= $1)
		  AND ($2::timestamptz IS NULL OR la.deal_closed_at < $2)
		GROUP BY la.vendor_id, v.business_name
		ORDER BY 4 DESC, 3 DESC
		LIMIT $3
	`, from, to, top)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rep.ByVendor = []VendorDeals{}
	for rows.Next() {
		var vd VendorDeals
		var total decimal.Decimal
		if err := rows.Scan(&vd.VendorID, &vd.BusinessName, &vd.Deals, &total); err != nil {
			return nil, err
		}
		vd.TotalValue = total
		rep.ByVendor = append(rep.ByVendor, vd)
	}
	return rep, rows.Err()
}

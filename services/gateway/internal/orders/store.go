package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const orderColumns = `order_id::text, merchant_trade_no, amount, currency, description, status,
  prepay_id, checkout_url, qr_code_link, pix_code, timeout_minutes, created_at, updated_at, paid_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.MerchantTradeNo, &o.Amount, &o.Currency, &o.Description, &status,
		&o.PrepayID, &o.CheckoutURL, &o.QRCodeLink, &o.PixCode, &o.TimeoutMinutes, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.Status = Status(status)
	return &o, nil
}

// Insert stores o unless its merchant trade number is already taken.
func (s *Store) Insert(ctx context.Context, o *Order) (bool, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	var id string
	err := s.DB.QueryRow(ctx, `
INSERT INTO orders(
  order_id,merchant_trade_no,amount,currency,description,status,
  prepay_id,checkout_url,qr_code_link,pix_code,timeout_minutes,created_at,updated_at
)
VALUES($1::uuid,$2,$3,$4,$5,$6,'','','','',$7,$8,$8)
ON CONFLICT (merchant_trade_no) DO NOTHING
RETURNING order_id::text
`, o.ID, o.MerchantTradeNo, o.Amount, o.Currency, o.Description, string(o.Status), o.TimeoutMinutes, o.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1::uuid`, id))
}

func (s *Store) GetByTradeNo(ctx context.Context, tradeNo string) (*Order, error) {
	return scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE merchant_trade_no=$1`, tradeNo))
}

// SaveCheckout records what the payment API returned for a pending order.
func (s *Store) SaveCheckout(ctx context.Context, o *Order) error {
	tag, err := s.DB.Exec(ctx, `
UPDATE orders
SET status=$2, prepay_id=$3, checkout_url=$4, qr_code_link=$5, pix_code=$6, updated_at=$7
WHERE order_id=$1::uuid
`, o.ID, string(o.Status), o.PrepayID, o.CheckoutURL, o.QRCodeLink, o.PixCode, o.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid flips the order to paid unless it already is, and reports whether
// this call did it.
func (s *Store) MarkPaid(ctx context.Context, tradeNo string, paidAt time.Time, notification []byte) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE orders
SET status='paid', paid_at=$2, updated_at=$2, notification=$3::jsonb
WHERE merchant_trade_no=$1 AND status <> 'paid'
`, tradeNo, paidAt.UTC(), nullableJSON(notification))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Transition moves an open order to status, and reports whether it was still open.
func (s *Store) Transition(ctx context.Context, tradeNo string, status Status, at time.Time) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE orders
SET status=$2, updated_at=$3
WHERE merchant_trade_no=$1 AND status IN ('pending','on-hold')
`, tradeNo, string(status), at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListOpen(ctx context.Context) ([]Order, error) {
	rows, err := s.DB.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE status IN ('pending','on-hold')
ORDER BY created_at ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

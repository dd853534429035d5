package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgwebhooks "github.com/Thomasjeferr/pluguin-getway-cripto/pkg/webhooks"
)

// Delivery states. A verified delivery later gets an outcome from the order
// service; rejected and replayed ones never do.
const (
	ProcessingVerified = "VERIFIED"
	ProcessingRejected = "REJECTED"
	ProcessingReplayed = "REPLAYED"
)

// Delivery is one Binance Pay notification as it arrived.
type Delivery struct {
	ID              string
	CertificateSN   string
	Nonce           string
	BizType         string
	BizID           string
	BizStatus       string
	MerchantTradeNo string
	ReceivedAt      time.Time
	Method          string
	Path            string
	Body            []byte
	Digests         pkgwebhooks.Digests
	SignatureValid  bool
	Scheme          string
	Details         map[string]any
	Status          string
}

// dedupeKey is set only for verified, non-replayed deliveries, so rejected
// noise never blocks the real notification.
func (d *Delivery) dedupeKey() any {
	if d.Status != ProcessingVerified || d.BizID == "" {
		return nil
	}
	return d.BizID
}

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// Record saves d and fills d.ID. It reports false, without error, when a
// verified delivery with the same bizId is already on file.
func (s *Store) Record(ctx context.Context, d *Delivery) (bool, error) {
	details, err := json.Marshal(d.Details)
	if err != nil {
		return false, fmt.Errorf("encode signature details: %w", err)
	}
	err = s.DB.QueryRow(ctx, `
INSERT INTO binancepay_deliveries(
  certificate_sn,nonce,biz_type,biz_id,biz_status,merchant_trade_no,
  received_at,method,path,body,body_sha256,headers,headers_sha256,request_sha256,
  signature_valid,signature_scheme,signature_details,status
)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::jsonb,$13,$14,$15,$16,$17::jsonb,$18)
ON CONFLICT (biz_id) WHERE biz_id IS NOT NULL
DO NOTHING
RETURNING delivery_id::text
`, d.CertificateSN, d.Nonce, d.BizType, d.dedupeKey(), d.BizStatus, d.MerchantTradeNo,
		d.ReceivedAt.UTC(), d.Method, d.Path, d.Body, d.Digests.BodySHA, string(d.Digests.HeadersJSON), d.Digests.HeadersSHA, d.Digests.RequestSHA,
		d.SignatureValid, d.Scheme, string(details), d.Status).Scan(&d.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetOutcome stores what applying a verified delivery did to its order.
func (s *Store) SetOutcome(ctx context.Context, id, outcome string, at time.Time) error {
	if id == "" {
		return nil
	}
	_, err := s.DB.Exec(ctx, `UPDATE binancepay_deliveries SET outcome=$2, processed_at=$3 WHERE delivery_id=$1::uuid`, id, outcome, at.UTC())
	return err
}

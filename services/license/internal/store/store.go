package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Thomasjeferr/pluguin-getway-cripto/services/license/internal/license"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const licenseColumns = `license_id::text, email, license_key, product_slug, plan, active, COALESCE(domain,''),
  trial_expires_at, plan_expires_at, COALESCE(stripe_customer_id,''), COALESCE(stripe_subscription_id,''),
  created_at, updated_at`

func scanLicense(row pgx.Row) (*license.License, error) {
	var l license.License
	var plan string
	err := row.Scan(&l.ID, &l.Email, &l.Key, &l.ProductSlug, &plan, &l.Active, &l.Domain,
		&l.TrialExpiresAt, &l.PlanExpiresAt, &l.StripeCustomerID, &l.StripeSubscriptionID,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, license.ErrNotFound
		}
		return nil, err
	}
	l.Plan = license.Plan(plan)
	return &l, nil
}

func (s *Store) FindLicense(ctx context.Context, email, key, product string) (*license.License, error) {
	return scanLicense(s.DB.QueryRow(ctx, `
SELECT `+licenseColumns+`
FROM licenses
WHERE email=$1 AND license_key=$2 AND product_slug=$3
`, email, key, product))
}

func (s *Store) FindByEmailProduct(ctx context.Context, email, product string) (*license.License, error) {
	return scanLicense(s.DB.QueryRow(ctx, `
SELECT `+licenseColumns+`
FROM licenses
WHERE email=$1 AND product_slug=$2
`, email, product))
}

func (s *Store) FindBySubscription(ctx context.Context, subscriptionID string) (*license.License, error) {
	return scanLicense(s.DB.QueryRow(ctx, `
SELECT `+licenseColumns+`
FROM licenses
WHERE stripe_subscription_id=$1
`, subscriptionID))
}

func (s *Store) FindByCustomer(ctx context.Context, customerID string) (*license.License, error) {
	return scanLicense(s.DB.QueryRow(ctx, `
SELECT `+licenseColumns+`
FROM licenses
WHERE stripe_customer_id=$1
ORDER BY updated_at DESC
LIMIT 1
`, customerID))
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func (s *Store) CreateLicense(ctx context.Context, l *license.License) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = l.CreatedAt
	_, err := s.DB.Exec(ctx, `
INSERT INTO licenses(
  license_id,email,license_key,product_slug,plan,active,domain,
  trial_expires_at,plan_expires_at,stripe_customer_id,stripe_subscription_id,created_at,updated_at
)
VALUES($1::uuid,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, l.ID, l.Email, l.Key, l.ProductSlug, string(l.Plan), l.Active, nullable(l.Domain),
		l.TrialExpiresAt, l.PlanExpiresAt, nullable(l.StripeCustomerID), nullable(l.StripeSubscriptionID), l.CreatedAt, l.UpdatedAt)
	return err
}

func (s *Store) SaveLicense(ctx context.Context, l *license.License) error {
	tag, err := s.DB.Exec(ctx, `
UPDATE licenses
SET product_slug=$2, plan=$3, active=$4, domain=$5, trial_expires_at=$6, plan_expires_at=$7,
    stripe_customer_id=$8, stripe_subscription_id=$9, updated_at=$10
WHERE license_id=$1::uuid
`, l.ID, l.ProductSlug, string(l.Plan), l.Active, nullable(l.Domain), l.TrialExpiresAt, l.PlanExpiresAt,
		nullable(l.StripeCustomerID), nullable(l.StripeSubscriptionID), l.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return license.ErrNotFound
	}
	return nil
}

// Product returns the active product for slug, falling back to the default
// product, or nil when neither exists.
func (s *Store) Product(ctx context.Context, slug string) (*license.Product, error) {
	var p license.Product
	err := s.DB.QueryRow(ctx, `
SELECT slug, name, trial_days, active
FROM products
WHERE active AND slug IN ($1, $2)
ORDER BY (slug=$1) DESC
LIMIT 1
`, slug, license.DefaultProduct).Scan(&p.Slug, &p.Name, &p.TrialDays, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) RecordActivity(ctx context.Context, a license.Activity) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	actor := a.Actor
	if actor == "" {
		actor = "system"
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO activity_log(activity_id,email,action,description,actor,metadata,created_at)
VALUES($1::uuid,$2,$3,$4,$5,$6::jsonb,now())
`, uuid.NewString(), a.Email, a.Action, a.Description, actor, string(meta))
	return err
}

// RecordStripeEvent stores a processed event id and reports whether it was new.
func (s *Store) RecordStripeEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
INSERT INTO stripe_events(event_id,event_type,received_at)
VALUES($1,$2,now())
ON CONFLICT (event_id) DO NOTHING
`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ForgetStripeEvent removes a recorded event so a redelivery is processed again.
func (s *Store) ForgetStripeEvent(ctx context.Context, eventID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM stripe_events WHERE event_id=$1`, eventID)
	return err
}

package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/binancepay"
)

type Repository interface {
	Insert(ctx context.Context, o *Order) (bool, error)
	Get(ctx context.Context, id string) (*Order, error)
	GetByTradeNo(ctx context.Context, tradeNo string) (*Order, error)
	SaveCheckout(ctx context.Context, o *Order) error
	MarkPaid(ctx context.Context, tradeNo string, paidAt time.Time, notification []byte) (bool, error)
	Transition(ctx context.Context, tradeNo string, status Status, at time.Time) (bool, error)
	ListOpen(ctx context.Context) ([]Order, error)
}

type PaymentAPI interface {
	CreateOrder(ctx context.Context, req binancepay.OrderRequest) (*binancepay.OrderResult, error)
	QueryOrder(ctx context.Context, merchantTradeNo string) (*binancepay.OrderStatus, error)
}

// LicenseGate decides whether new payments may be taken.
type LicenseGate interface {
	Active(ctx context.Context) (bool, error)
}

type Config struct {
	DefaultTimeoutMinutes int
	WebhookURL            string
}

type Service struct {
	repo    Repository
	api     PaymentAPI
	license LicenseGate
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(repo Repository, api PaymentAPI, license LicenseGate, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTimeoutMinutes < 5 {
		cfg.DefaultTimeoutMinutes = 15
	}
	return &Service{
		repo:    repo,
		api:     api,
		license: license,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	MerchantTradeNo string `json:"merchant_trade_no"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Description     string `json:"description"`
	ReturnURL       string `json:"return_url"`
	CancelURL       string `json:"cancel_url"`
}

const maxOrderAmount = 1e12

func (in *CreateInput) normalize() error {
	in.MerchantTradeNo = strings.TrimSpace(in.MerchantTradeNo)
	in.Amount = strings.TrimSpace(in.Amount)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.MerchantTradeNo == "" || len(in.MerchantTradeNo) > 32 {
		return fmt.Errorf("%w: merchant_trade_no must be 1..32 characters", ErrInvalidOrder)
	}
	amount, err := strconv.ParseFloat(in.Amount, 64)
	if err != nil || math.IsNaN(amount) || amount <= 0 || amount > maxOrderAmount {
		return fmt.Errorf("%w: amount must be a positive decimal", ErrInvalidOrder)
	}
	cents := int64(math.Round(amount * 100))
	if cents <= 0 {
		return fmt.Errorf("%w: amount rounds to zero", ErrInvalidOrder)
	}
	in.Amount = binancepay.FormatAmount(cents)
	if in.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidOrder)
	}
	return nil
}

// Create opens a Binance Pay order. Repeating a merchant trade number returns
// the order already on file; created reports whether this call made it.
func (s *Service) Create(ctx context.Context, in CreateInput) (o *Order, created bool, err error) {
	if err := in.normalize(); err != nil {
		return nil, false, err
	}
	active, err := s.license.Active(ctx)
	if err != nil {
		return nil, false, err
	}
	if !active {
		return nil, false, ErrUnlicensed
	}

	now := s.now()
	o = &Order{
		MerchantTradeNo: in.MerchantTradeNo,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Description:     in.Description,
		Status:          StatusPending,
		TimeoutMinutes:  s.cfg.DefaultTimeoutMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	inserted, err := s.repo.Insert(ctx, o)
	if err != nil {
		return nil, false, fmt.Errorf("insert order: %w", err)
	}
	if !inserted {
		existing, err := s.repo.GetByTradeNo(ctx, in.MerchantTradeNo)
		if err != nil {
			return nil, false, fmt.Errorf("load order: %w", err)
		}
		if existing.Status != StatusFailed {
			return existing, false, nil
		}
		o = existing
	}

	name := in.Description
	if name == "" {
		name = "Order #" + in.MerchantTradeNo
	}
	res, err := s.api.CreateOrder(ctx, binancepay.OrderRequest{
		MerchantTradeNo: o.MerchantTradeNo,
		OrderAmount:     o.Amount,
		Currency:        o.Currency,
		Goods: binancepay.Goods{
			GoodsType:        binancepay.GoodsTypeVirtual,
			GoodsCategory:    binancepay.GoodsCategoryOthers,
			ReferenceGoodsID: o.MerchantTradeNo,
			GoodsName:        name,
		},
		ReturnURL:  in.ReturnURL,
		CancelURL:  in.CancelURL,
		WebhookURL: s.cfg.WebhookURL,
	})
	if err != nil {
		o.Status = StatusFailed
		o.UpdatedAt = s.now()
		if serr := s.repo.SaveCheckout(ctx, o); serr != nil {
			s.logger.Warn("could not mark order failed", zap.String("merchant_trade_no", o.MerchantTradeNo), zap.Error(serr))
		}
		return nil, false, err
	}

	o.Status = StatusOnHold
	o.PrepayID = res.PrepayID
	o.CheckoutURL = res.CheckoutURL
	o.QRCodeLink = res.QRCodeLink
	o.PixCode = res.PixCode()
	o.UpdatedAt = s.now()
	if err := s.repo.SaveCheckout(ctx, o); err != nil {
		return nil, false, fmt.Errorf("save checkout: %w", err)
	}
	s.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("merchant_trade_no", o.MerchantTradeNo),
		zap.Bool("has_pix_code", o.PixCode != ""),
	)
	return o, true, nil
}

func (s *Service) Status(ctx context.Context, id string) (StatusView, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return o.View(), nil
}

func (s *Service) Pix(ctx context.Context, id string) (PixView, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return PixView{}, err
	}
	return o.Pix()
}

// NotificationOutcome says what a verified notification did.
type NotificationOutcome string

const (
	OutcomePaid        NotificationOutcome = "paid"
	OutcomeAlreadyPaid NotificationOutcome = "already_paid"
	OutcomeCancelled   NotificationOutcome = "cancelled"
	OutcomeIgnored     NotificationOutcome = "ignored"
	OutcomeUnknown     NotificationOutcome = "unknown_order"
)

// ApplyNotification acts on a notification whose signature has already been
// verified.
func (s *Service) ApplyNotification(ctx context.Context, n *binancepay.Notification, raw []byte) (NotificationOutcome, error) {
	log := s.logger.With(zap.String("biz_type", n.BizType), zap.String("biz_status", n.BizStatus), zap.String("merchant_trade_no", n.MerchantTradeNo))
	if !n.IsPayment() {
		log.Info("notification ignored")
		return OutcomeIgnored, nil
	}
	if n.MerchantTradeNo == "" {
		log.Warn("payment notification without merchant trade number")
		return OutcomeIgnored, nil
	}
	if _, err := s.repo.GetByTradeNo(ctx, n.MerchantTradeNo); err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn("notification for unknown order")
			return OutcomeUnknown, nil
		}
		return "", err
	}

	switch n.BizStatus {
	case binancepay.BizStatusPaySuccess:
		changed, err := s.repo.MarkPaid(ctx, n.MerchantTradeNo, s.now(), raw)
		if err != nil {
			return "", err
		}
		if !changed {
			log.Info("order already paid")
			return OutcomeAlreadyPaid, nil
		}
		log.Info("payment confirmed")
		return OutcomePaid, nil
	case binancepay.BizStatusPayClosed, binancepay.BizStatusPayCancel:
		changed, err := s.repo.Transition(ctx, n.MerchantTradeNo, StatusCancelled, s.now())
		if err != nil {
			return "", err
		}
		if changed {
			log.Info("payment cancelled")
			return OutcomeCancelled, nil
		}
		return OutcomeIgnored, nil
	default:
		log.Info("payment status received")
		return OutcomeIgnored, nil
	}
}

// ExpireOverdue cancels open orders past their timeout and returns how many it
// canceled. An order Binance reports as paid is marked paid instead.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	open, err := s.repo.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}
	now := s.now()
	expired := 0
	for i := range open {
		o := &open[i]
		if now.Before(o.ExpiresAt(s.cfg.DefaultTimeoutMinutes)) {
			continue
		}
		if o.Status == StatusOnHold && s.paidRemotely(ctx, o) {
			if _, err := s.repo.MarkPaid(ctx, o.MerchantTradeNo, now, nil); err != nil {
				return expired, err
			}
			s.logger.Info("overdue order found paid", zap.String("merchant_trade_no", o.MerchantTradeNo))
			continue
		}
		changed, err := s.repo.Transition(ctx, o.MerchantTradeNo, StatusCancelled, now)
		if err != nil {
			return expired, err
		}
		if changed {
			expired++
			s.logger.Info("order expired",
				zap.String("merchant_trade_no", o.MerchantTradeNo),
				zap.Time("created_at", o.CreatedAt),
			)
		}
	}
	if expired > 0 {
		s.logger.Info("expiry sweep finished", zap.Int("cancelled", expired))
	}
	return expired, nil
}

func (s *Service) paidRemotely(ctx context.Context, o *Order) bool {
	st, err := s.api.QueryOrder(ctx, o.MerchantTradeNo)
	if err != nil {
		s.logger.Warn("order query failed; expiring anyway", zap.String("merchant_trade_no", o.MerchantTradeNo), zap.Error(err))
		return false
	}
	return st.Paid()
}

const DefaultSweepInterval = time.Minute

// RunExpirySweeper calls ExpireOverdue every interval until ctx is done.
// A non-positive interval falls back to DefaultSweepInterval.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.ExpireOverdue(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

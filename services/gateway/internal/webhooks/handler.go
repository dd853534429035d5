package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/binancepay"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/httpx"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/replay"
	pkgwebhooks "github.com/Thomasjeferr/pluguin-getway-cripto/pkg/webhooks"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/gateway/internal/orders"
)

const (
	maxWebhookBodyBytes = 1 << 20

	// DefaultReplayWindow bounds how long an accepted nonce is remembered.
	DefaultReplayWindow = 24 * time.Hour
)

type DeliveryStore interface {
	Record(ctx context.Context, d *Delivery) (bool, error)
	SetOutcome(ctx context.Context, id, outcome string, at time.Time) error
}

type Notifier interface {
	ApplyNotification(ctx context.Context, n *binancepay.Notification, raw []byte) (orders.NotificationOutcome, error)
}

// Key is one Binance Pay credential pair. The certificate SN on a delivery
// selects the secret it is checked against.
type Key struct {
	CertificateSN string
	Secret        string
}

type keyEntry struct {
	secret   string
	verifier pkgwebhooks.Verifier
}

type IngressHandler struct {
	store        DeliveryStore
	orders       Notifier
	guard        replay.Guard
	keys         map[string]keyEntry
	primary      string
	replayWindow time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewIngressHandler needs at least one key; the first is used to reject
// deliveries whose certificate SN is unknown.
func NewIngressHandler(store DeliveryStore, notifier Notifier, guard replay.Guard, keys []Key, tolerance time.Duration, logger *zap.Logger) (*IngressHandler, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one binance pay key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &IngressHandler{
		store:        store,
		orders:       notifier,
		guard:        guard,
		keys:         map[string]keyEntry{},
		replayWindow: DefaultReplayWindow,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for i, k := range keys {
		sn := strings.TrimSpace(k.CertificateSN)
		if sn == "" || strings.TrimSpace(k.Secret) == "" {
			return nil, errors.New("binance pay key needs a certificate sn and a secret")
		}
		if i == 0 {
			h.primary = sn
		}
		h.keys[sn] = keyEntry{secret: k.Secret, verifier: pkgwebhooks.NewBinancePayVerifier(sn, tolerance)}
	}
	return h, nil
}

func ack(w http.ResponseWriter) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"returnCode": "SUCCESS", "returnMessage": nil})
}

// HandleBinancePay always acknowledges with 200 so a sender cannot tell an
// accepted delivery from a rejected one. Outcomes go to the log and the delivery table.
func (h *IngressHandler) HandleBinancePay(w http.ResponseWriter, r *http.Request) {
	defer ack(w)

	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Warn("webhook body unreadable", zap.Error(err))
		return
	}
	if len(rawBody) == 0 {
		h.logger.Warn("webhook with empty body")
		return
	}

	digests, err := pkgwebhooks.Digest(r.Method, r.URL.Path, r.Header, rawBody)
	if err != nil {
		h.logger.Error("webhook canonicalization failed", zap.Error(err))
		return
	}

	receivedAt := h.now()
	certSN := strings.TrimSpace(r.Header.Get(binancepay.HeaderCertificateSN))
	entry, ok := h.keys[certSN]
	if !ok {
		entry = h.keys[h.primary]
	}
	result, err := entry.verifier.Verify(r.Header, rawBody, receivedAt, entry.secret)
	if err != nil {
		h.logger.Error("webhook verifier error", zap.Error(err))
		return
	}

	d := &Delivery{
		CertificateSN:  certSN,
		Nonce:          result.Nonce,
		BizType:        result.EventType,
		ReceivedAt:     receivedAt,
		Method:         r.Method,
		Path:           r.URL.Path,
		Body:           rawBody,
		Digests:        digests,
		SignatureValid: result.Valid,
		Scheme:         result.Scheme,
		Details:        result.Details,
		Status:         ProcessingRejected,
	}
	provider := entry.verifier.Provider()
	if d.Details == nil {
		d.Details = map[string]any{}
	}
	d.Details["provider"] = provider
	log := h.logger.With(zap.String("provider", provider), zap.String("request_sha256", digests.RequestSHA), zap.String("certificate_sn", certSN))

	var n *binancepay.Notification
	if result.Valid {
		d.Status = ProcessingVerified
		if n, err = binancepay.ParseNotification(rawBody); err == nil {
			d.BizID = n.EventID()
			d.BizStatus = n.BizStatus
			d.MerchantTradeNo = n.MerchantTradeNo
			log = log.With(zap.String("biz_id", d.BizID), zap.String("merchant_trade_no", n.MerchantTradeNo))
		} else {
			log.Warn("verified webhook body is not a notification", zap.Error(err))
		}
		seen, gerr := h.guard.Seen(r.Context(), certSN, result.Nonce, h.replayWindow)
		switch {
		case gerr != nil:
			log.Warn("replay guard unavailable; relying on idempotent order updates", zap.Error(gerr))
		case seen:
			d.Status = ProcessingReplayed
		}
	}

	recorded, err := h.store.Record(r.Context(), d)
	if err != nil {
		log.Error("webhook delivery not stored", zap.Error(err))
	}

	switch {
	case d.Status == ProcessingRejected:
		log.Warn("webhook rejected", zap.String("reason", string(result.Reason)))
		return
	case d.Status == ProcessingReplayed:
		log.Warn("webhook nonce replayed")
		return
	case n == nil:
		return
	case err == nil && !recorded:
		log.Info("duplicate webhook delivery ignored")
		return
	}

	outcome, err := h.orders.ApplyNotification(r.Context(), n, rawBody)
	if err != nil {
		log.Error("webhook processing failed", zap.Error(err))
		return
	}
	if err := h.store.SetOutcome(r.Context(), d.ID, string(outcome), h.now()); err != nil {
		log.Warn("webhook outcome not stored", zap.Error(err))
	}
	log.Info("webhook processed", zap.String("delivery_id", d.ID), zap.String("outcome", string(outcome)))
}

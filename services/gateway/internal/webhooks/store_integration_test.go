package webhooks

import (
	"context"
	_ "embed"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/db/dbtest"
	pkgwebhooks "github.com/Thomasjeferr/pluguin-getway-cripto/pkg/webhooks"
)

//go:embed schema.sql
var schemaSQL string

func liveDelivery(t *testing.T, status, bizID string) *Delivery {
	t.Helper()
	body := []byte(`{"bizType":"PAY","bizId":` + bizID + `}`)
	digests, err := pkgwebhooks.Digest(http.MethodPost, "/webhooks/binancepay", http.Header{"Binancepay-Signature": {"sig"}}, body)
	require.NoError(t, err)
	return &Delivery{
		CertificateSN:   certSN,
		Nonce:           "n-" + bizID,
		BizType:         "PAY",
		BizID:           bizID,
		BizStatus:       "PAY_SUCCESS",
		MerchantTradeNo: "1001",
		ReceivedAt:      testNow,
		Method:          http.MethodPost,
		Path:            "/webhooks/binancepay",
		Body:            body,
		Digests:         digests,
		SignatureValid:  status != ProcessingRejected,
		Scheme:          "binancepay-hmac-sha512",
		Details:         map[string]any{"provider": "binancepay"},
		Status:          status,
	}
}

func TestStoreLive(t *testing.T) {
	s := NewStore(dbtest.Open(t, schemaSQL))
	ctx := context.Background()

	rejected := liveDelivery(t, ProcessingRejected, "42")
	ok, err := s.Record(ctx, rejected)
	require.NoError(t, err)
	require.True(t, ok)

	verified := liveDelivery(t, ProcessingVerified, "42")
	ok, err = s.Record(ctx, verified)
	require.NoError(t, err)
	require.True(t, ok, "rejected deliveries must not hold the bizId")
	require.NotEmpty(t, verified.ID)

	dup := liveDelivery(t, ProcessingVerified, "42")
	ok, err = s.Record(ctx, dup)
	require.NoError(t, err)
	require.False(t, ok, "one verified delivery per bizId")

	replayed := liveDelivery(t, ProcessingReplayed, "42")
	ok, err = s.Record(ctx, replayed)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.SetOutcome(ctx, verified.ID, "paid", testNow.Add(time.Second)))
	var outcome string
	require.NoError(t, s.DB.QueryRow(ctx, `SELECT outcome FROM binancepay_deliveries WHERE delivery_id=$1::uuid`, verified.ID).Scan(&outcome))
	require.Equal(t, "paid", outcome)
	require.NoError(t, s.SetOutcome(ctx, "", "paid", testNow))
}

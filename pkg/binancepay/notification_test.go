package binancepay

import "testing"

func TestParseNotificationTopLevel(t *testing.T) {
	n, err := ParseNotification([]byte(`{"bizType":"PAY","bizId":29383937493038367292,"bizStatus":"PAY_SUCCESS","merchantTradeNo":" ORDER1 ","data":"{}"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !n.IsPayment() || n.BizStatus != BizStatusPaySuccess {
		t.Fatalf("unexpected notification %+v", n)
	}
	if n.MerchantTradeNo != "ORDER1" {
		t.Fatalf("expected trimmed trade no, got %q", n.MerchantTradeNo)
	}
	if n.EventID() != "29383937493038367292" {
		t.Fatalf("bizId must keep full precision, got %q", n.EventID())
	}
}

func TestParseNotificationTradeNoInsideData(t *testing.T) {
	cases := []string{
		`{"bizType":"PAY","bizIdStr":"77","bizStatus":"PAY_CLOSED","data":"{\"merchantTradeNo\":\"ORDER2\",\"totalFee\":1.00}"}`,
		`{"bizType":"PAY","bizIdStr":"77","bizStatus":"PAY_CLOSED","data":{"merchantTradeNo":"ORDER2"}}`,
	}
	for _, body := range cases {
		n, err := ParseNotification([]byte(body))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if n.MerchantTradeNo != "ORDER2" || n.EventID() != "77" {
			t.Fatalf("unexpected notification %+v", n)
		}
	}
}

func TestParseNotificationRejectsGarbage(t *testing.T) {
	if _, err := ParseNotification([]byte(`{`)); err == nil {
		t.Fatalf("expected error")
	}
	n, err := ParseNotification([]byte(`{"bizType":"PAY_REFUND","bizStatus":"REFUND_SUCCESS"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.IsPayment() || n.MerchantTradeNo != "" {
		t.Fatalf("unexpected %+v", n)
	}
}

package binancepay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	BizTypePay = "PAY"

	BizStatusPaySuccess = "PAY_SUCCESS"
	BizStatusPayClosed  = "PAY_CLOSED"
	BizStatusPayCancel  = "PAY_CANCEL"
)

// Notification is the body of a merchant webhook call.
type Notification struct {
	BizType         string          `json:"bizType"`
	BizID           json.Number     `json:"bizId"`
	BizIDStr        string          `json:"bizIdStr"`
	BizStatus       string          `json:"bizStatus"`
	MerchantTradeNo string          `json:"merchantTradeNo"`
	Data            json.RawMessage `json:"data"`
}

// ParseNotification decodes body. The merchant trade number may be carried at
// the top level or inside data, which the API sends either as an object or as
// a JSON-encoded string.
func ParseNotification(body []byte) (*Notification, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var n Notification
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("binancepay: decode notification: %w", err)
	}
	n.BizType = strings.TrimSpace(n.BizType)
	n.BizStatus = strings.TrimSpace(n.BizStatus)
	n.MerchantTradeNo = strings.TrimSpace(n.MerchantTradeNo)
	if n.MerchantTradeNo == "" {
		n.MerchantTradeNo = tradeNoFromData(n.Data)
	}
	return &n, nil
}

func (n *Notification) EventID() string {
	if s := strings.TrimSpace(n.BizIDStr); s != "" {
		return s
	}
	return n.BizID.String()
}

func (n *Notification) IsPayment() bool {
	return n.BizType == BizTypePay && n.BizStatus != ""
}

func tradeNoFromData(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ""
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return ""
		}
		data = []byte(inner)
	}
	var payload struct {
		MerchantTradeNo string `json:"merchantTradeNo"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.MerchantTradeNo)
}

package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"
)

const paymentPaidBody = `{"data":{"id":"evt_1","type":"event","attributes":{"type":"payment.paid","livemode":false,
"data":{"id":"pay_1","type":"payment","attributes":{"amount":150050,"status":"paid","metadata":{"transactionId":"tx-1"}}}}}}`

const checkoutPaidBody = `{"data":{"id":"evt_2","type":"event","attributes":{"type":"checkout_session.payment.paid","livemode":false,
"data":{"id":"cs_1","type":"checkout_session","attributes":{"status":"active","metadata":{"transactionId":"tx-2"},
"payments":[{"id":"pay_2","type":"payment","attributes":{"amount":20000,"status":"paid"}}]}}}}}`

func signedHeader(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,te=%s,li=", t, Sign(secret, t, body))
}

func TestWebhookVerifier(t *testing.T) {
	now := time.Unix(1760000000, 0)
	body := []byte(paymentPaidBody)
	v := WebhookVerifier{Secret: "whsk_test", Tolerance: 5 * time.Minute}

	if err := v.Verify(signedHeader("whsk_test", now, body), body, now); err != nil {
		t.Fatalf("Valid signature rejected: %v", err)
	}

	tests := []struct {
		name   string
		header string
		body   []byte
	}{
		{"wrong secret", signedHeader("other", now, body), body},
		{"tampered body", signedHeader("whsk_test", now, body), []byte(paymentPaidBody + " ")},
		{"stale timestamp", signedHeader("whsk_test", now.Add(-10*time.Minute), body), body},
		{"missing header", "", body},
		{"garbage signature", "t=1760000000,te=zz", body},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Verify(tt.header, tt.body, now); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("Expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestWebhookVerifierLiveMode(t *testing.T) {
	now := time.Unix(1760000000, 0)
	body := []byte(paymentPaidBody)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign("whsk_live", ts, body)

	live := WebhookVerifier{Secret: "whsk_live", LiveMode: true}
	if err := live.Verify("t="+ts+",te=,li="+sig, body, now); err != nil {
		t.Errorf("Live signature rejected: %v", err)
	}
	if err := live.Verify("t="+ts+",te="+sig+",li=", body, now); err == nil {
		t.Error("Live mode must not accept the test signature")
	}
}

func TestParsePaymentPaidEvent(t *testing.T) {
	evt, err := ParseEvent([]byte(paymentPaidBody))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}

	if evt.Type != EventPaymentPaid || evt.ID != "evt_1" {
		t.Errorf("Unexpected event header %+v", evt)
	}
	if evt.TransactionID != "tx-1" || evt.PaymentID != "pay_1" || evt.Amount != 150050 {
		t.Errorf("Unexpected event payload %+v", evt)
	}
}

func TestParseCheckoutSessionPaidEvent(t *testing.T) {
	evt, err := ParseEvent([]byte(checkoutPaidBody))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}

	if evt.Type != EventCheckoutSessionPaid {
		t.Errorf("Unexpected type %q", evt.Type)
	}
	if evt.TransactionID != "tx-2" || evt.PaymentID != "pay_2" || evt.Amount != 20000 {
		t.Errorf("Unexpected event payload %+v", evt)
	}
}

func TestParseEventRejectsMalformed(t *testing.T) {
	if _, err := ParseEvent([]byte(`{"data":`)); err == nil {
		t.Error("Expected error for truncated JSON")
	}
	if _, err := ParseEvent([]byte(`{"data":{"id":"evt","attributes":{}}}`)); err == nil {
		t.Error("Expected error for missing event type")
	}
}

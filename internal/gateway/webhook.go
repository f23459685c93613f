package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	EventPaymentPaid         = "payment.paid"
	EventCheckoutSessionPaid = "checkout_session.payment.paid"
	EventPaymentFailed       = "payment.failed"

	SignatureHeader = "Paymongo-Signature"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookVerifier authenticates inbound gateway events. The signature header
// has the form t=<unix>,te=<test hmac>,li=<live hmac>; the signed message is
// "<t>.<raw body>".
type WebhookVerifier struct {
	Secret    string
	LiveMode  bool
	Tolerance time.Duration
}

func (v WebhookVerifier) Verify(header string, body []byte, now time.Time) error {
	if v.Secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}

	var timestamp, testSig, liveSig string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "te":
			testSig = value
		case "li":
			liveSig = value
		}
	}

	if timestamp == "" {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSignature)
	}

	signature := testSig
	if v.LiveMode {
		signature = liveSig
	}
	if signature == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}

	if v.Tolerance > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
		}
		age := now.Sub(time.Unix(unix, 0))
		if age > v.Tolerance || age < -v.Tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	expected := Sign(v.Secret, timestamp, body)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}

	return nil
}

// Sign computes the hex HMAC-SHA256 the gateway puts in the signature header.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Event is the part of a webhook delivery reconciliation cares about.
type Event struct {
	ID            string
	Type          string
	LiveMode      bool
	ResourceType  string
	ResourceID    string
	TransactionID string
	PaymentID     string
	Amount        int64
}

type eventAttributes struct {
	Type     string                    `json:"type"`
	LiveMode bool                      `json:"livemode"`
	Data     resource[json.RawMessage] `json:"data"`
}

func ParseEvent(body []byte) (*Event, error) {
	var env envelope[eventAttributes]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if env.Data.Attributes.Type == "" {
		return nil, errors.New("decode event: missing event type")
	}

	attrs := env.Data.Attributes
	evt := &Event{
		ID:           env.Data.ID,
		Type:         attrs.Type,
		LiveMode:     attrs.LiveMode,
		ResourceType: attrs.Data.Type,
		ResourceID:   attrs.Data.ID,
	}

	if len(attrs.Data.Attributes) == 0 {
		return evt, nil
	}

	switch attrs.Data.Type {
	case "payment":
		var p paymentAttributes
		if err := json.Unmarshal(attrs.Data.Attributes, &p); err != nil {
			return nil, fmt.Errorf("decode payment: %w", err)
		}
		evt.PaymentID = attrs.Data.ID
		evt.Amount = p.Amount
		evt.TransactionID = transactionFromMetadata(p.Metadata)

	case "checkout_session":
		var cs checkoutSessionAttributes
		if err := json.Unmarshal(attrs.Data.Attributes, &cs); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		session := cs.session(attrs.Data.ID)
		evt.TransactionID = transactionFromMetadata(cs.Metadata)
		evt.PaymentID = session.PaidPaymentID()
		for _, p := range session.Payments {
			if p.ID == evt.PaymentID {
				evt.Amount = p.Amount
			}
		}
	}

	return evt, nil
}

func transactionFromMetadata(md map[string]string) string {
	if id := md[MetadataTransactionID]; id != "" {
		return id
	}
	return md["transaction_id"]
}

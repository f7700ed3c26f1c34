package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-ID"
	HeaderTimestamp = "X-Webhook-Timestamp"

	SignaturePrefix = "sha256="
)

// Sign returns the X-Webhook-Signature value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an X-Webhook-Signature header against body.
func VerifySignature(body []byte, header string, secret string) error {
	return HeaderHMACVerifier{
		Header:   HeaderSignature,
		Prefix:   SignaturePrefix,
		Secret:   secret,
		Encoding: "hex",
	}.Verify(body, http.Header{HeaderSignature: []string{header}})
}

// HeaderHMACVerifier validates an HMAC-SHA256 signature carried in a header.
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(body []byte, headers http.Header) error {
	header := strings.TrimSpace(headers.Get(v.Header))
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header))
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimPrefix(header, strings.TrimSpace(v.Prefix))
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode base64 signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return fmt.Errorf("webhooks: signature verification failed")
		}
	default:
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode hex signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return fmt.Errorf("webhooks: signature verification failed")
		}
	}
	return nil
}

// StripeSignatureVerifier validates the Stripe-Signature header
// (t=<unix>,v1=<hex hmac of "t.body">) with a replay tolerance.
type StripeSignatureVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func (v StripeSignatureVerifier) Verify(body []byte, headers http.Header) error {
	header := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if header == "" {
		return fmt.Errorf("webhooks: Stripe-Signature header is required")
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("webhooks: Stripe-Signature header is malformed")
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("webhooks: Stripe-Signature timestamp is invalid: %w", err)
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	if age := now.Sub(time.Unix(unix, 0)); age > tolerance || age < -tolerance {
		return fmt.Errorf("webhooks: Stripe-Signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)
	for _, signature := range signatures {
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}
	return fmt.Errorf("webhooks: signature verification failed")
}

// StripeSignatureHeader builds a Stripe-Signature value for body signed at ts.
func StripeSignatureHeader(body []byte, secret string, ts time.Time) string {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

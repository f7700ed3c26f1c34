package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"event":"subscription.activated","data":{},"timestamp":1,"id":"evt-1"}`)
	header := Sign(body, "secret")
	if len(header) != len(SignaturePrefix)+64 {
		t.Fatalf("unexpected signature length: %q", header)
	}
	if err := VerifySignature(body, header, "secret"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifySignature(body, header, "other"); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}
	if err := VerifySignature(append(body, ' '), header, "secret"); err == nil {
		t.Fatalf("expected tampered body to fail")
	}
	if err := VerifySignature(body, "", "secret"); err == nil {
		t.Fatalf("expected missing header to fail")
	}
}

func TestHeaderHMACVerifier_Base64(t *testing.T) {
	body := []byte(`{"ok":true}`)
	mac := hmac.New(sha256.New, []byte("secret"))
	_, _ = mac.Write(body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	verifier := HeaderHMACVerifier{Header: "X-Signature", Secret: "secret", Encoding: "base64"}
	if err := verifier.Verify(body, http.Header{"X-Signature": []string{signature}}); err != nil {
		t.Fatalf("verify base64: %v", err)
	}
	if err := verifier.Verify(body, http.Header{"X-Signature": []string{"not-base64!"}}); err == nil {
		t.Fatalf("expected decode failure")
	}
}

func stripeHeader(body []byte, secret string, at time.Time) string {
	timestamp := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "."))
	_, _ = mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeSignatureVerifier(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	verifier := StripeSignatureVerifier{
		Secret: "whsec_1",
		Now:    func() time.Time { return now },
	}

	tests := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{name: "valid", header: stripeHeader(body, "whsec_1", now)},
		{name: "within tolerance", header: stripeHeader(body, "whsec_1", now.Add(-4*time.Minute))},
		{name: "stale", header: stripeHeader(body, "whsec_1", now.Add(-10*time.Minute)), wantErr: true},
		{name: "wrong secret", header: stripeHeader(body, "whsec_2", now), wantErr: true},
		{name: "malformed", header: "v1=abc", wantErr: true},
		{name: "missing", header: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.header != "" {
				headers.Set("Stripe-Signature", tt.header)
			}
			err := verifier.Verify(body, headers)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestStripeSignatureHeaderMatchesVerifier(t *testing.T) {
	body := []byte(`{"id":"evt_2"}`)
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	header := StripeSignatureHeader(body, "whsec_1", now)
	if header != stripeHeader(body, "whsec_1", now) {
		t.Fatalf("unexpected header %q", header)
	}
	verifier := StripeSignatureVerifier{Secret: "whsec_1", Now: func() time.Time { return now }}
	if err := verifier.Verify(body, http.Header{"Stripe-Signature": []string{header}}); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

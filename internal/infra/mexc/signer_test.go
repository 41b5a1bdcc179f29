package mexc

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestComputeHmacSha256(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	key := "key"
	data := "The quick brown fox jumps over the lazy dog"
	expected := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"

	if result := computeHmacSha256(data, key); result != expected {
		t.Errorf("HMAC Mismatch. Expected %s, got %s", expected, result)
	}
}

func TestSigner_Sign(t *testing.T) {
	signer := NewSigner("key", "secret", 5*time.Second)
	signer.now = func() time.Time { return time.UnixMilli(1600000000000) }

	params := url.Values{}
	params.Set("symbol", "QRLUSDT")
	params.Set("side", "BUY")

	query := signer.Sign(params)

	unsigned, sig, ok := strings.Cut(query, "&signature=")
	if !ok {
		t.Fatalf("Expected signature suffix, got %s", query)
	}
	if unsigned != "recvWindow=5000&side=BUY&symbol=QRLUSDT&timestamp=1600000000000" {
		t.Errorf("Unexpected signed payload %s", unsigned)
	}
	if sig != computeHmacSha256(unsigned, "secret") {
		t.Error("Signature does not cover the sent query")
	}
	if len(sig) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(sig))
	}
}

func TestSigner_Headers(t *testing.T) {
	signer := NewSigner("key", "secret", 0)

	headers := signer.Headers()
	if headers["X-MEXC-APIKEY"] != "key" {
		t.Errorf("Expected X-MEXC-APIKEY to be 'key', got %s", headers["X-MEXC-APIKEY"])
	}
	if !signer.HasCredentials() {
		t.Error("Expected credentials to be present")
	}
	if NewSigner("", "", 0).HasCredentials() {
		t.Error("Expected no credentials")
	}
}

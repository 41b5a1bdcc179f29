package mexc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// Signer handles MEXC spot v3 request signatures.
type Signer struct {
	accessKey  string
	secretKey  string
	recvWindow time.Duration
	now        func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(accessKey, secretKey string, recvWindow time.Duration) *Signer {
	return &Signer{
		accessKey:  accessKey,
		secretKey:  secretKey,
		recvWindow: recvWindow,
		now:        time.Now,
	}
}

// HasCredentials reports whether signed endpoints can be called.
func (s *Signer) HasCredentials() bool {
	return s.accessKey != "" && s.secretKey != ""
}

// Sign adds timestamp, recvWindow and signature to params and returns the
// final query string. The signature covers the encoded query exactly as sent.
func (s *Signer) Sign(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	if s.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(s.recvWindow.Milliseconds(), 10))
	}

	query := params.Encode()
	return query + "&signature=" + computeHmacSha256(query, s.secretKey)
}

// Headers returns the authentication headers.
func (s *Signer) Headers() map[string]string {
	return map[string]string{
		"X-MEXC-APIKEY": s.accessKey,
		"Content-Type":  "application/json",
	}
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

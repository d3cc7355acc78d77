// Package signing produces and checks HMAC signed, expiring download links
// for request artifacts.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrMalformed is returned when a link is missing a parameter.
	ErrMalformed = errors.New("malformed signed link")
	// ErrExpired is returned once the link's expiry has passed.
	ErrExpired = errors.New("signed link expired")
	// ErrInvalidSignature is returned when the signature does not match.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for a request id and expiry.
func (s *Signer) Sign(requestID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fmt.Sprintf("artifact:%s:%d", requestID, expiresUnix)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Link is a signed download link for one request artifact.
type Link struct {
	URL     string    `json:"url"`
	Expires time.Time `json:"expires"`
}

// SignedURL builds base?request=..&expires=..&signature=.. valid for ttl.
func (s *Signer) SignedURL(base, requestID string, ttl time.Duration) Link {
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("request", requestID)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.Sign(requestID, expires))
	return Link{URL: base + "?" + q.Encode(), Expires: time.Unix(expires, 0).UTC()}
}

// Verify checks the query values of a signed link and returns the request id
// they grant access to.
func (s *Signer) Verify(q url.Values) (string, error) {
	requestID, expires, signature := q.Get("request"), q.Get("expires"), q.Get("signature")
	if requestID == "" || expires == "" || signature == "" {
		return "", ErrMalformed
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return "", fmt.Errorf("expires %q: %w", expires, ErrMalformed)
	}
	// Check the signature before the expiry so a tampered expiry is reported
	// as tampering.
	if !hmac.Equal([]byte(s.Sign(requestID, exp)), []byte(signature)) {
		return "", ErrInvalidSignature
	}
	if !s.now().Before(time.Unix(exp, 0)) {
		return "", ErrExpired
	}
	return requestID, nil
}

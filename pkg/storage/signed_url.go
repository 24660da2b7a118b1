package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedURLSigner creates and validates signed attachment download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a signed token binding the owning post id to the attachment uri.
func (s *SignedURLSigner) Generate(ownerID, uri string) (string, time.Time, error) {
	if ownerID == "" || uri == "" {
		return "", time.Time{}, fmt.Errorf("ownerID and uri required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedOwner := base64.RawURLEncoding.EncodeToString([]byte(ownerID))
	encodedURI := base64.RawURLEncoding.EncodeToString([]byte(uri))
	signature := s.sign(encodedOwner, ts, encodedURI)
	token := strings.Join([]string{encodedOwner, ts, encodedURI, signature}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded owner id and uri.
func (s *SignedURLSigner) Parse(token string) (ownerID, uri string, expiresAt time.Time, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", time.Time{}, fmt.Errorf("invalid token format")
	}
	encodedOwner, ts, encodedURI, signature := parts[0], parts[1], parts[2], parts[3]

	expected := s.sign(encodedOwner, ts, encodedURI)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", "", time.Time{}, fmt.Errorf("invalid token signature")
	}

	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("invalid timestamp")
	}
	expiresAt = time.Unix(expUnix, 0)
	if s.now().After(expiresAt) {
		return "", "", time.Time{}, fmt.Errorf("token expired")
	}

	rawOwner, err := base64.RawURLEncoding.DecodeString(encodedOwner)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("decode owner: %w", err)
	}
	rawURI, err := base64.RawURLEncoding.DecodeString(encodedURI)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("decode uri: %w", err)
	}
	return string(rawOwner), string(rawURI), expiresAt, nil
}

func (s *SignedURLSigner) sign(owner, ts, uri string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(owner + "|" + ts + "|" + uri))
	return hex.EncodeToString(mac.Sum(nil))
}

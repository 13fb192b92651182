package main

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mrmod/travis-telegram/backend"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	DefaultTravisConfigURL = "https://api.travis-ci.org/config"
	// Path of the webhook public key in the Travis config response
	travisPublicKeyPath = "config.notifications.webhook.public_key"
)

// PublicKeySource returns the key that webhook signatures are checked against
type PublicKeySource interface {
	PublicKey(ctx context.Context) (*rsa.PublicKey, error)
}

// TravisKeyFetcher fetches the Travis webhook public key from the Travis
// config endpoint.
type TravisKeyFetcher struct {
	ConfigURL string
	Client    *http.Client
	// Cache is optional. It is consulted only when CacheTTL is positive.
	Cache    backend.KeyCache
	CacheTTL time.Duration
}

func NewTravisKeyFetcher(configURL string, c *http.Client) *TravisKeyFetcher {
	return &TravisKeyFetcher{
		ConfigURL: configURL,
		Client:    c,
	}
}

func (f *TravisKeyFetcher) cacheEnabled() bool {
	return f.Cache != nil && f.CacheTTL > 0
}

// PublicKey returns the current Travis public key
func (f *TravisKeyFetcher) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	logger := zerolog.Ctx(ctx)
	if f.cacheEnabled() {
		cached, err := f.Cache.GetPublicKey(ctx, f.ConfigURL)
		switch {
		case err == nil:
			key, err := ParsePublicKey(cached)
			if err == nil {
				logger.Debug().Str("configUrl", f.ConfigURL).Msg("Using cached public key")
				return key, nil
			}
			logger.Warn().Err(err).Msg("Discarding unparseable cached public key")
		case errors.Is(err, backend.ErrKeyNotFound):
			logger.Debug().Str("configUrl", f.ConfigURL).Msg("Public key not cached")
		default:
			logger.Warn().Err(err).Msg("Failed to read public key cache")
		}
	}

	keyPEM, err := f.fetchPublicKeyPEM(ctx)
	if err != nil {
		return nil, err
	}
	key, err := ParsePublicKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, err)
	}
	if f.cacheEnabled() {
		if err := f.Cache.SavePublicKey(ctx, f.ConfigURL, keyPEM, f.CacheTTL); err != nil {
			logger.Warn().Err(err).Msg("Failed to save public key to cache")
		}
	}
	return key, nil
}

func (f *TravisKeyFetcher) fetchPublicKeyPEM(ctx context.Context) (string, error) {
	logger := zerolog.Ctx(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ConfigURL, nil)
	if err != nil {
		return "", &upstreamError{kind: ErrUpstreamUnavailable, op: "fetch public key", err: err}
	}
	logger.Debug().Str("configUrl", f.ConfigURL).Msg("Fetching Travis public key")
	res, err := f.Client.Do(req)
	if err != nil {
		return "", &upstreamError{kind: ErrUpstreamUnavailable, op: "fetch public key", err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &upstreamError{kind: ErrUpstreamUnavailable, op: "fetch public key", statusCode: res.StatusCode, err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", &upstreamError{kind: ErrUpstreamUnavailable, op: "fetch public key", statusCode: res.StatusCode, body: string(body)}
	}
	logger.Trace().Str("body", string(body)).Msg("Travis config response")

	key := gjson.GetBytes(body, travisPublicKeyPath)
	if !key.Exists() || key.String() == "" {
		return "", &upstreamError{
			kind:       ErrUpstreamUnavailable,
			op:         "fetch public key",
			statusCode: res.StatusCode,
			body:       "response has no " + travisPublicKeyPath,
		}
	}
	return key.String(), nil
}

// ParsePublicKey decodes a PEM encoded RSA public key in PKIX or PKCS#1 form
func ParsePublicKey(keyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(keyPEM)))
	if block == nil {
		return nil, fmt.Errorf("public key is not PEM encoded")
	}
	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Some keys are labelled PUBLIC KEY but carry PKCS#1 bytes
		if key, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes); pkcs1Err == nil {
			return key, nil
		}
		return nil, err
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", pub)
	}
	return key, nil
}

// DecodeSignature decodes the base64 Signature header
func DecodeSignature(header string) ([]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("%w: missing Signature header", ErrInvalidSignature)
	}
	sig, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not base64: %s", ErrInvalidSignature, err)
	}
	return sig, nil
}

// VerifySignature checks an RSA PKCS#1 v1.5 SHA-1 signature over the raw payload
func VerifySignature(key *rsa.PublicKey, payload []byte, signature []byte) error {
	digest := sha1.Sum(payload)
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA1, digest[:], signature); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	return nil
}

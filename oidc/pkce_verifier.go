package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 based PKCE challenge method; the only method
	// supported here, since every provider that supports PKCE supports it.
	S256 ChallengeMethod = "S256"
)

// verifierByteLen is the number of random bytes used for a code verifier.
// Hex encoding doubles it to 128 characters, the maximum RFC 7636 allows.
const verifierByteLen = 64

// CodeVerifier represents an OAuth PKCE code verifier (RFC 7636) and its
// S256 challenge.
type CodeVerifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// NewCodeVerifier creates a verifier of hex-encoded random bytes with its
// S256 challenge: base64url(sha256(verifier)) with no padding.
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "oidc.NewCodeVerifier"
	data := make([]byte, verifierByteLen)
	if _, err := rand.Read(data); err != nil {
		return nil, fmt.Errorf("%s: unable to create verifier data: %w", op, err)
	}
	v := &CodeVerifier{
		verifier: hex.EncodeToString(data), // no padding chars, token68 safe
		method:   S256,
	}
	challenge, err := CreateCodeChallenge(S256, v.verifier)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	v.challenge = challenge
	return v, nil
}

// RestoreCodeVerifier rebuilds a CodeVerifier from a verifier string that
// was carried across the redirect round trip in an authentication context.
func RestoreCodeVerifier(verifier string) (*CodeVerifier, error) {
	const op = "oidc.RestoreCodeVerifier"
	if verifier == "" {
		return nil, fmt.Errorf("%s: verifier is empty: %w", op, ErrInvalidParameter)
	}
	challenge, err := CreateCodeChallenge(S256, verifier)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	return &CodeVerifier{
		verifier:  verifier,
		challenge: challenge,
		method:    S256,
	}, nil
}

func (v *CodeVerifier) Verifier() string        { return v.verifier }
func (v *CodeVerifier) Challenge() string       { return v.challenge }
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// CreateCodeChallenge creates a code challenge from the verifier. Supported
// ChallengeMethods: S256.
func CreateCodeChallenge(method ChallengeMethod, verifier string) (string, error) {
	// we're not providing support for "plain"
	if method != S256 {
		return "", fmt.Errorf("CreateCodeChallenge: %s is invalid: %w", method, ErrUnsupportedChallengeMethod)
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

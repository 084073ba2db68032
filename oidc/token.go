package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenExpirySkew defines a default time skew when checking a
// Token's expiration.
const DefaultTokenExpirySkew = 10 * time.Second

// Token represents the result of a successful token exchange with a
// provider. It may include a refresh_token and an id_token, depending on
// the provider and the scopes requested.
type Token struct {
	accessToken  AccessToken
	refreshToken RefreshToken
	idToken      IdToken
	expiry       time.Time

	nowFunc func() time.Time
}

// NewToken creates a Token from an oauth2.Token. The id_token is optional,
// since some grants (refresh) do not always return one.
//
// Supported options: WithNow.
func NewToken(t *oauth2.Token, opt ...Option) (*Token, error) {
	const op = "oidc.NewToken"
	if t == nil {
		return nil, fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%s: access_token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getTokenOpts(opt...)
	tk := &Token{
		accessToken:  AccessToken(t.AccessToken),
		refreshToken: RefreshToken(t.RefreshToken),
		expiry:       t.Expiry,
		nowFunc:      opts.withNowFunc,
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		tk.idToken = IdToken(idToken)
	}
	return tk, nil
}

func (t *Token) AccessToken() AccessToken   { return t.accessToken }
func (t *Token) RefreshToken() RefreshToken { return t.refreshToken }
func (t *Token) IdToken() IdToken           { return t.idToken }
func (t *Token) Expiry() time.Time          { return t.expiry }

// StaticTokenSource returns a TokenSource that always returns the same
// token. Suitable for bearer-token userinfo requests.
func (t *Token) StaticTokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: string(t.accessToken),
		Expiry:      t.expiry,
	})
}

// IsExpired returns true if the token has expired. A zero expiry means the
// token never expires. Supports the WithExpirySkew option and if none is
// provided it will use the DefaultTokenExpirySkew.
func (t *Token) IsExpired(opt ...Option) bool {
	opts := getTokenOpts(opt...)
	if t.expiry.IsZero() {
		return false
	}
	return t.expiry.Round(0).Before(t.now().Add(opts.withExpirySkew))
}

// Valid will ensure that the access_token is not empty or expired.
func (t *Token) Valid() bool {
	if t == nil {
		return false
	}
	if t.accessToken == "" {
		return false
	}
	return !t.IsExpired()
}

func (t *Token) now() time.Time {
	if t.nowFunc != nil {
		return t.nowFunc()
	}
	return time.Now()
}

// persistedToken is the serialization schema for a Token. It carries the
// raw secret values, so it is never used for anything but Serialize and
// DeserializeToken round-trips.
type persistedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IdToken      string    `json:"id_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Serialize returns a compact representation of the token suitable for
// storage in a server-side session. Unlike MarshalJSON on the individual
// token types, the result is not redacted.
func (t *Token) Serialize() (string, error) {
	const op = "Token.Serialize"
	if t == nil {
		return "", fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	data, err := json.Marshal(persistedToken{
		AccessToken:  string(t.accessToken),
		RefreshToken: string(t.refreshToken),
		IdToken:      string(t.idToken),
		Expiry:       t.expiry,
	})
	if err != nil {
		return "", fmt.Errorf("%s: unable to marshal token: %w", op, err)
	}
	return string(data), nil
}

// DeserializeToken parses a token previously produced by Serialize. An
// empty or unparseable input returns an error; callers that must not
// propagate errors (see Provider.FreshToken) treat that as "no token".
func DeserializeToken(s string, opt ...Option) (*Token, error) {
	const op = "oidc.DeserializeToken"
	if s == "" {
		return nil, fmt.Errorf("%s: serialized token is empty: %w", op, ErrInvalidParameter)
	}
	var p persistedToken
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal token: %w", op, ErrInvalidParameter)
	}
	if p.AccessToken == "" && p.RefreshToken == "" {
		return nil, fmt.Errorf("%s: serialized token has no tokens: %w", op, ErrInvalidParameter)
	}
	opts := getTokenOpts(opt...)
	return &Token{
		accessToken:  AccessToken(p.AccessToken),
		refreshToken: RefreshToken(p.RefreshToken),
		idToken:      IdToken(p.IdToken),
		expiry:       p.Expiry,
		nowFunc:      opts.withNowFunc,
	}, nil
}

// tokenOptions is the set of available options for Token functions.
type tokenOptions struct {
	withExpirySkew time.Duration
	withNowFunc    func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultTokenExpirySkew,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides
// passed in.
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

package authctx

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// pepper is a fixed salt mixed into the signing key derivation. It binds
// context tokens to this subsystem: tokens signed by unrelated subsystems
// sharing the same host key will never verify here.
const pepper = "oidcrp/authctx/v1"

// Codec signs and serializes a Context to and from a compact signed
// token. The signing key is derived from the host's long-lived secret key
// combined with a fixed package pepper, so tokens are bound to one
// installation and this subsystem.
type Codec struct {
	key []byte
}

// NewCodec derives a Codec from the host's secret key material.
func NewCodec(hostKey string) (*Codec, error) {
	const op = "authctx.NewCodec"
	if hostKey == "" {
		return nil, fmt.Errorf("%s: host key is empty: %w", op, ErrInvalidParameter)
	}
	sum := sha256.Sum256([]byte(hostKey + "." + pepper))
	return &Codec{key: sum[:]}, nil
}

// contextClaims is the token payload schema. Short keys keep the cookie
// small.
type contextClaims struct {
	State            string `json:"st"`
	LoginURL         string `json:"lu"`
	AuthorizationURL string `json:"au"`
	RequestID        string `json:"rid"`
	RedirectURL      string `json:"ru,omitempty"`
	CodeVerifier     string `json:"cv,omitempty"`
	jwt.RegisteredClaims
}

// Encode produces a compact HMAC-signed token whose payload is the full
// set of context fields.
func (c *Codec) Encode(ctx *Context) (string, error) {
	const op = "Codec.Encode"
	if ctx == nil {
		return "", fmt.Errorf("%s: context is nil: %w", op, ErrNilParameter)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, contextClaims{
		State:            ctx.state,
		LoginURL:         ctx.loginURL,
		AuthorizationURL: ctx.authorizationURL,
		RequestID:        ctx.requestID,
		RedirectURL:      ctx.redirectURL,
		CodeVerifier:     ctx.codeVerifier,
	})
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign context: %w", op, err)
	}
	return signed, nil
}

// Decode verifies a token's signature and reconstructs the Context. A bad
// signature yields ErrInvalidSignature and any other defect yields
// ErrMalformed; no payload field is trusted before the signature
// verifies.
func (c *Codec) Decode(token string) (*Context, error) {
	const op = "Codec.Decode"
	if token == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, ErrMalformed)
	}
	var claims contextClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (interface{}, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	default:
		return nil, fmt.Errorf("%s: %w", op, ErrMalformed)
	}
	if claims.State == "" || claims.LoginURL == "" || claims.AuthorizationURL == "" || claims.RequestID == "" {
		return nil, fmt.Errorf("%s: missing context fields: %w", op, ErrMalformed)
	}
	return &Context{
		state:            claims.State,
		loginURL:         claims.LoginURL,
		authorizationURL: claims.AuthorizationURL,
		requestID:        claims.RequestID,
		redirectURL:      claims.RedirectURL,
		codeVerifier:     claims.CodeVerifier,
	}, nil
}

package authctx

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidSignature = errors.New("invalid context token signature")
	ErrMalformed        = errors.New("malformed context token")
)

// Context represents one in-flight login attempt. It is immutable once
// created: a new attempt always creates a new Context, and the callback
// consumes it exactly once.
type Context struct {
	// state is the opaque random nonce binding the authorization request
	// to its callback.
	state string

	// loginURL is the URL the user was on when the flow started,
	// sanitized of the protocol's own query parameters.
	loginURL string

	// authorizationURL is the fully built URL sent to the IdP, cached so
	// a reload during the flow does not regenerate state.
	authorizationURL string

	// requestID fingerprints the originating request so duplicate
	// concurrent initiations collapse onto one attempt.
	requestID string

	// redirectURL is the final destination after a successful login.
	redirectURL string

	// codeVerifier is the PKCE verifier; present if and only if PKCE was
	// enabled when the attempt was initiated.
	codeVerifier string
}

// New creates a Context for a single login attempt.
//
// Supported options: WithRedirectURL, WithCodeVerifier.
func New(state, loginURL, authorizationURL, requestID string, opt ...Option) (*Context, error) {
	const op = "authctx.New"
	if state == "" {
		return nil, fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	if loginURL == "" {
		return nil, fmt.Errorf("%s: login URL is empty: %w", op, ErrInvalidParameter)
	}
	if authorizationURL == "" {
		return nil, fmt.Errorf("%s: authorization URL is empty: %w", op, ErrInvalidParameter)
	}
	if requestID == "" {
		return nil, fmt.Errorf("%s: request id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getCtxOpts(opt...)
	return &Context{
		state:            state,
		loginURL:         loginURL,
		authorizationURL: authorizationURL,
		requestID:        requestID,
		redirectURL:      opts.withRedirectURL,
		codeVerifier:     opts.withCodeVerifier,
	}, nil
}

func (c *Context) State() string            { return c.state }
func (c *Context) LoginURL() string         { return c.loginURL }
func (c *Context) AuthorizationURL() string { return c.authorizationURL }
func (c *Context) RequestID() string        { return c.requestID }
func (c *Context) RedirectURL() string      { return c.redirectURL }
func (c *Context) CodeVerifier() string     { return c.codeVerifier }

// SanitizeLoginURL strips the authentication protocol's own query
// parameters from a URL so re-entering it after the IdP round trip does
// not replay stale markers. Extra parameter names (for example a
// configured code parameter) may be passed to strip as well.
func SanitizeLoginURL(raw string, extraParams ...string) (string, error) {
	const op = "authctx.SanitizeLoginURL"
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%s: unable to parse login URL: %w", op, ErrInvalidParameter)
	}
	q := u.Query()
	for _, name := range []string{"logintype", "type", "code", "state", "error", "error_description"} {
		q.Del(name)
	}
	for _, name := range extraParams {
		q.Del(name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ctxOptions is the set of available options for Context functions.
type ctxOptions struct {
	withRedirectURL  string
	withCodeVerifier string
}

func getCtxOpts(opt ...Option) ctxOptions {
	opts := ctxOptions{}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// Option defines a common functional options type.
type Option func(*ctxOptions)

// WithRedirectURL provides the final destination after a successful
// login.
func WithRedirectURL(u string) Option {
	return func(o *ctxOptions) {
		o.withRedirectURL = u
	}
}

// WithCodeVerifier provides the attempt's PKCE code verifier.
func WithCodeVerifier(v string) Option {
	return func(o *ctxOptions) {
		o.withCodeVerifier = v
	}
}

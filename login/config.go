package login

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/text/language"
)

// Default query parameter and session key names. The code parameter uses
// the framework-style bracket form so existing front ends can pick the
// marker up unchanged.
const (
	DefaultLoginTypeParam    = "logintype"
	DefaultCodeParam         = "tx_oidc[code]"
	DefaultRedirectURLParam  = "redirect_url"
	DefaultContextSessionKey = "oidc_context"
	DefaultAuthSessionKey    = "oidc_user"
)

// Config carries the flow-level knobs shared by the Initiator and the
// CallbackHandler. The zero value is usable; empty names fall back to the
// defaults above.
type Config struct {
	// UsePKCE enables the S256 code challenge on every attempt.
	UsePKCE bool

	// DefaultRedirectURL is the post-login destination when the
	// initiating request carries no redirect parameter.
	DefaultRedirectURL string

	// RedirectURLParam names the query parameter holding the post-login
	// destination, on both the initiating request and the final redirect.
	RedirectURLParam string

	// LoginTypeParam names the marker parameter appended to the final
	// redirect with the fixed value "login".
	LoginTypeParam string

	// CodeParam names the parameter carrying the authorization code on
	// the final redirect.
	CodeParam string

	// ContextSessionKey is the session key the signed context token is
	// stored under between initiation and callback.
	ContextSessionKey string

	// AuthSessionKey is the session key marked with the local user id
	// once a login completes.
	AuthSessionKey string

	// UILocales is forwarded to the authorization endpoint as a locale
	// hint.
	UILocales []language.Tag

	// LocaleParam overrides the query parameter the locale hint is sent
	// under, for providers expecting a non-standard name. Empty uses the
	// standard ui_locales parameter.
	LocaleParam string

	// TrustProxyHeader accepts X-Forwarded-Proto when deciding whether
	// the current request is HTTPS. Enable only behind a proxy that
	// strips the header from client traffic.
	TrustProxyHeader bool
}

func (c Config) withDefaults() Config {
	if c.LoginTypeParam == "" {
		c.LoginTypeParam = DefaultLoginTypeParam
	}
	if c.CodeParam == "" {
		c.CodeParam = DefaultCodeParam
	}
	if c.RedirectURLParam == "" {
		c.RedirectURLParam = DefaultRedirectURLParam
	}
	if c.ContextSessionKey == "" {
		c.ContextSessionKey = DefaultContextSessionKey
	}
	if c.AuthSessionKey == "" {
		c.AuthSessionKey = DefaultAuthSessionKey
	}
	return c
}

// isSecure reports whether the request arrived over HTTPS, optionally
// trusting a proxy's X-Forwarded-Proto header.
func (c Config) isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return c.TrustProxyHeader && r.Header.Get("X-Forwarded-Proto") == "https"
}

// options is the set of available options shared by the login handlers.
type options struct {
	withHooks  *Hooks
	withLogger hclog.Logger
	withNext   http.Handler

	// for testing
	withNow func() time.Time
}

func getOpts(opt ...Option) options {
	opts := options{
		withHooks:  &Hooks{},
		withLogger: hclog.NewNullLogger(),
		withNow:    time.Now,
	}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// Option defines a common functional options type for the login
// handlers.
type Option func(*options)

// WithHooks installs the extension hooks.
func WithHooks(h *Hooks) Option {
	return func(o *options) {
		if h != nil {
			o.withHooks = h
		}
	}
}

// WithLogger sets the logger for operator diagnostics.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.withLogger = l
		}
	}
}

// WithNext sets the handler a CallbackHandler passes requests to when
// they do not meet the callback entry condition.
func WithNext(next http.Handler) Option {
	return func(o *options) {
		o.withNext = next
	}
}

func withNowFunc(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.withNow = fn
		}
	}
}

package login

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/openpath/oidcrp/authctx"
	"github.com/openpath/oidcrp/oidc"
)

// Initiator starts login attempts: it builds the authorization URL,
// persists a signed authentication context for the round trip and
// redirects the user agent to the provider.
type Initiator struct {
	provider *oidc.Provider
	codec    *authctx.Codec
	sessions authctx.SessionStore
	cfg      Config
	hooks    *Hooks
	logger   hclog.Logger

	// for testing
	now func() time.Time
}

// NewInitiator creates an Initiator.
//
// Supported options: WithHooks, WithLogger.
func NewInitiator(p *oidc.Provider, codec *authctx.Codec, sessions authctx.SessionStore, cfg Config, opt ...Option) (*Initiator, error) {
	const op = "login.NewInitiator"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrNilParameter)
	}
	if codec == nil {
		return nil, fmt.Errorf("%s: codec is nil: %w", op, ErrNilParameter)
	}
	if sessions == nil {
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Initiator{
		provider: p,
		codec:    codec,
		sessions: sessions,
		cfg:      cfg.withDefaults(),
		hooks:    opts.withHooks,
		logger:   opts.withLogger,
		now:      opts.withNow,
	}, nil
}

// NeedsLogin reports whether the request carries no authenticated
// session.
func (i *Initiator) NeedsLogin(r *http.Request) bool {
	_, ok := i.sessions.Get(r, i.cfg.AuthSessionKey)
	return !ok
}

// Middleware wraps a protected handler: authenticated requests pass
// through, everything else is sent into the login flow.
func (i *Initiator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !i.NeedsLogin(r) {
			next.ServeHTTP(w, r)
			return
		}
		i.Begin(w, r)
	})
}

// Begin starts a login attempt and answers with a 302 to the provider's
// authorization endpoint. A repeated request with the same fingerprint
// (same client, same second) reuses the pending attempt's authorization
// URL verbatim, so duplicate initiations collapse onto one state.
func (i *Initiator) Begin(w http.ResponseWriter, r *http.Request) {
	requestID := i.requestID(r)

	if raw, ok := i.sessions.Get(r, i.cfg.ContextSessionKey); ok {
		if pending, err := i.codec.Decode(raw); err == nil && pending.RequestID() == requestID {
			http.Redirect(w, r, pending.AuthorizationURL(), http.StatusFound)
			return
		}
	}

	authURL, actx, err := i.beginAttempt(r, requestID)
	if err != nil {
		i.logger.Error("unable to start login attempt", "error", err)
		http.Error(w, "Authentication provider error", http.StatusInternalServerError)
		return
	}
	token, err := i.codec.Encode(actx)
	if err != nil {
		i.logger.Error("unable to encode authentication context", "error", err)
		http.Error(w, "Authentication provider error", http.StatusInternalServerError)
		return
	}
	i.sessions.Set(w, r, i.cfg.ContextSessionKey, token)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// beginAttempt builds the authorization URL and the context binding the
// attempt together: fresh state, optional PKCE verifier, sanitized login
// URL and the validated post-login redirect target.
func (i *Initiator) beginAttempt(r *http.Request, requestID string) (string, *authctx.Context, error) {
	const op = "login.(Initiator).beginAttempt"

	state, err := oidc.NewID("st")
	if err != nil {
		return "", nil, fmt.Errorf("%s: unable to generate state: %w", op, err)
	}

	// the redirect target travels inside the context, so its parameter is
	// stripped here and re-appended once the flow completes
	loginURL, err := authctx.SanitizeLoginURL(i.requestURL(r), i.cfg.CodeParam, i.cfg.RedirectURLParam)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	params := url.Values{}
	i.hooks.applyAuthOptions(r, params)
	authOpts := make([]oidc.Option, 0, len(params)+2)
	for k := range params {
		authOpts = append(authOpts, oidc.WithAuthParam(k, params.Get(k)))
	}
	if len(i.cfg.UILocales) > 0 {
		if i.cfg.LocaleParam != "" {
			locales := make([]string, 0, len(i.cfg.UILocales))
			for _, l := range i.cfg.UILocales {
				locales = append(locales, l.String())
			}
			authOpts = append(authOpts, oidc.WithAuthParam(i.cfg.LocaleParam, strings.Join(locales, " ")))
		} else {
			authOpts = append(authOpts, oidc.WithUILocales(i.cfg.UILocales...))
		}
	}

	ctxOpts := []authctx.Option{
		authctx.WithRedirectURL(i.redirectTarget(r)),
	}
	if i.cfg.UsePKCE {
		verifier, err := oidc.NewCodeVerifier()
		if err != nil {
			return "", nil, fmt.Errorf("%s: unable to generate code verifier: %w", op, err)
		}
		authOpts = append(authOpts, oidc.WithPKCE(verifier))
		ctxOpts = append(ctxOpts, authctx.WithCodeVerifier(verifier.Verifier()))
	}

	authURL, err := i.provider.AuthURL(r.Context(), state, authOpts...)
	if err != nil {
		return "", nil, fmt.Errorf("%s: unable to build authorization URL: %w", op, err)
	}

	actx, err := authctx.New(state, loginURL, authURL, requestID, ctxOpts...)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	return authURL, actx, nil
}

// requestID fingerprints the initiating request. Client address, port
// and the request's wall-clock second go into the hash, so a burst of
// parallel requests from one client maps onto one attempt while distinct
// clients never share state.
func (i *Initiator) requestID(r *http.Request) string {
	sum := sha256.Sum256([]byte(r.RemoteAddr + "|" + i.now().UTC().Format("2006-01-02T15:04:05")))
	return hex.EncodeToString(sum[:])
}

// requestURL reconstructs the absolute URL of the initiating request; it
// becomes the attempt's login URL after sanitizing.
func (i *Initiator) requestURL(r *http.Request) string {
	scheme := "http"
	if i.cfg.isSecure(r) {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// redirectTarget validates the requested post-login destination. An
// absolute URL pointing at a different host is an open-redirect vector
// and falls back to the configured default, as does an absent or
// unparseable value. Relative paths are always accepted.
func (i *Initiator) redirectTarget(r *http.Request) string {
	raw := r.URL.Query().Get(i.cfg.RedirectURLParam)
	if raw == "" {
		return i.cfg.DefaultRedirectURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		i.logger.Warn("discarding unparseable redirect target", "value", raw)
		return i.cfg.DefaultRedirectURL
	}
	if u.IsAbs() && u.Host != r.Host {
		i.logger.Warn("discarding cross-host redirect target", "host", u.Host)
		return i.cfg.DefaultRedirectURL
	}
	return raw
}

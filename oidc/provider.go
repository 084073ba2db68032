package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// Provider provides relying-party integration with an authorization server
// using the 3-legged OIDC authorization code flow.
type Provider struct {
	config   *Config
	provider *oidc.Provider
}

// NewProvider creates and initializes a Provider for the OIDC
// authorization code flow. No network request is made; the provider is
// assembled entirely from the configured endpoints.
func NewProvider(c *Config) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	pc := &oidc.ProviderConfig{
		AuthURL:     c.AuthorizationEndpoint,
		TokenURL:    c.TokenEndpoint,
		UserInfoURL: c.UserInfoEndpoint,
	}
	return &Provider{
		config:   c,
		provider: pc.NewProvider(context.Background()),
	}, nil
}

// Config returns the provider's config.
func (p *Provider) Config() *Config { return p.config }

// AuthURL will generate the URL the user agent is redirected to, kicking
// off the authorization code flow. The state must be a fresh unique value
// (see NewID); it binds the eventual callback to this attempt.
//
// Supported options: WithPKCE, WithAuthParam, WithUILocales.
func (p *Provider) AuthURL(_ context.Context, state string, opt ...Option) (string, error) {
	const op = "Provider.AuthURL"
	if state == "" {
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	opts := getProviderOpts(opt...)

	authCodeOpts := make([]oauth2.AuthCodeOption, 0, 4)
	if opts.withVerifier != nil {
		authCodeOpts = append(authCodeOpts,
			oauth2.SetAuthURLParam("code_challenge", opts.withVerifier.Challenge()),
			oauth2.SetAuthURLParam("code_challenge_method", string(opts.withVerifier.Method())),
		)
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, l := range opts.withUILocales {
			locales = append(locales, l.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	// deterministic order keeps generated URLs stable for idempotent
	// re-entry comparisons
	keys := make([]string, 0, len(opts.withAuthParams))
	for k := range opts.withAuthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam(k, opts.withAuthParams.Get(k)))
	}

	return p.oauth2Config().AuthCodeURL(state, authCodeOpts...), nil
}

// Exchange will request a token from the token endpoint, using the
// authorization code received in the callback. A provider-side rejection
// (code already used, expired, bad verifier) wraps ErrTokenExchangeFailed
// and is terminal: the code must never be retried, the user restarts the
// flow.
//
// Supported options: WithPKCE (echoes the attempt's code_verifier).
func (p *Provider) Exchange(ctx context.Context, authorizationCode string, opt ...Option) (*Token, error) {
	const op = "Provider.Exchange"
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	opts := getProviderOpts(opt...)

	client, err := p.config.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	exchangeCtx := HTTPClientContext(ctx, client)

	var exchangeOpts []oauth2.AuthCodeOption
	if opts.withVerifier != nil {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam("code_verifier", opts.withVerifier.Verifier()))
	}

	oauth2Token, err := p.oauth2Config().Exchange(exchangeCtx, authorizationCode, exchangeOpts...)
	if err != nil {
		p.config.logger().Error("token exchange rejected by provider", "error", err)
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, ErrTokenExchangeFailed)
	}
	t, err := NewToken(oauth2Token)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create token: %w", op, err)
	}
	return t, nil
}

// ResourceOwner fetches the resource owner's identity claims. When a
// userinfo endpoint is configured it is called with the bearer token;
// otherwise the id_token payload is decoded locally. Either failure wraps
// ErrClaimsDecodeFailed or ErrUserInfoFailed and aborts the login.
func (p *Provider) ResourceOwner(ctx context.Context, t *Token, claims interface{}) error {
	const op = "Provider.ResourceOwner"
	if t == nil {
		return fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	if p.config.UserInfoEndpoint == "" {
		if t.IdToken() == "" {
			return fmt.Errorf("%s: no userinfo endpoint and no id_token: %w", op, ErrMissingIdToken)
		}
		return t.IdToken().Claims(claims)
	}

	client, err := p.config.HTTPClient()
	if err != nil {
		return fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	userInfoCtx := HTTPClientContext(ctx, client)

	userinfo, err := p.provider.UserInfo(userInfoCtx, t.StaticTokenSource())
	if err != nil {
		return fmt.Errorf("%s: provider userinfo request failed: %w", op, ErrUserInfoFailed)
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: unable to decode userinfo claims: %w", op, ErrClaimsDecodeFailed)
	}
	return nil
}

// FreshToken returns a usable access token from a previously serialized
// one, or nil when none can be had. A non-expired token is returned
// unchanged with no network call. An expired token with a refresh_token
// triggers exactly one refresh_token grant. Empty or unparseable input,
// and a failed refresh, all yield nil rather than an error: callers treat
// nil as "no usable token".
func (p *Provider) FreshToken(ctx context.Context, serialized string) *Token {
	t, err := DeserializeToken(serialized)
	if err != nil {
		return nil
	}
	if !t.IsExpired() {
		return t
	}
	if t.RefreshToken() == "" {
		return nil
	}

	client, err := p.config.HTTPClient()
	if err != nil {
		p.config.logger().Error("unable to create http client for token refresh", "error", err)
		return nil
	}
	refreshCtx := HTTPClientContext(ctx, client)

	src := p.oauth2Config().TokenSource(refreshCtx, &oauth2.Token{
		RefreshToken: string(t.RefreshToken()),
	})
	refreshed, err := src.Token()
	if err != nil {
		p.config.logger().Warn("token refresh failed", "error", err)
		return nil
	}
	fresh, err := NewToken(refreshed)
	if err != nil {
		p.config.logger().Warn("refreshed token is unusable", "error", err)
		return nil
	}
	return fresh
}

func (p *Provider) oauth2Config() *oauth2.Config {
	// the "openid" scope is required for oidc flows
	scopes := append([]string{oidc.ScopeOpenID}, p.config.Scopes...)
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectURL,
		Endpoint:     p.provider.Endpoint(),
		Scopes:       scopes,
	}
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key
// used by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages,
// so the returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	return oidc.ClientContext(ctx, client)
}

// providerOptions is the set of available options for Provider functions.
type providerOptions struct {
	withVerifier   *CodeVerifier
	withAuthParams url.Values
	withUILocales  []language.Tag
}

// providerDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withAuthParams: url.Values{},
	}
}

// getProviderOpts gets the provider defaults and applies the opt
// overrides passed in.
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPKCE provides a PKCE code verifier for AuthURL (sends the S256
// challenge) and Exchange (echoes the verifier).
func WithPKCE(v *CodeVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withVerifier = v
		}
	}
}

// WithAuthParam adds a provider-specific query parameter to the
// authorization URL. Extension points use this to merge in options such as
// a locale hint.
func WithAuthParam(key, value string) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withAuthParams.Set(key, value)
		}
	}
}

// WithUILocales provides optional BCP47 language tags for the
// authorization URL's ui_locales parameter.
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withUILocales = locales
		}
	}
}

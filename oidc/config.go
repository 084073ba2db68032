package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/openpath/oidcrp/internal/httpclient"
)

// ClientSecret is a relying party client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client
// secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the configuration for an authorization code flow
// against a single provider. All endpoints are supplied explicitly by the
// host; no discovery document is fetched.
type Config struct {
	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret.
	ClientSecret ClientSecret

	// AuthorizationEndpoint is the provider's authorization URL the user
	// agent is redirected to.
	AuthorizationEndpoint string

	// TokenEndpoint is the provider's token URL used for the
	// authorization_code and refresh_token grants.
	TokenEndpoint string

	// UserInfoEndpoint is the provider's userinfo URL. Optional: when
	// empty, resource owner claims are decoded from the id_token payload
	// instead.
	UserInfoEndpoint string

	// RedirectURL is the callback URL registered with the provider.
	RedirectURL string

	// Scopes is a list of additional oidc scopes to request of the
	// provider. The required "openid" scope is always requested.
	Scopes []string

	// ProviderCA is an optional CA cert PEM to use when sending requests
	// to the provider.
	ProviderCA string

	// Logger is an optional hclog.Logger for operator diagnostics.
	Logger hclog.Logger
}

// NewConfig composes a new config for a provider and validates it.
//
// Supported options: WithConfigScopes, WithProviderCA, WithLogger.
func NewConfig(clientID string, clientSecret ClientSecret, authorizationEndpoint, tokenEndpoint, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		AuthorizationEndpoint: authorizationEndpoint,
		TokenEndpoint:         tokenEndpoint,
		UserInfoEndpoint:      opts.withUserInfoEndpoint,
		RedirectURL:           redirectURL,
		Scopes:                opts.withScopes,
		ProviderCA:            opts.withProviderCA,
		Logger:                opts.withLogger,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. All faults are reported at once so
// an operator can fix a record in one pass; any fault means the flow fails
// fast before a user is ever redirected.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidConfiguration))
	}
	if c.ClientSecret == "" {
		result = multierror.Append(result, fmt.Errorf("client secret is empty: %w", ErrInvalidConfiguration))
	}
	for name, endpoint := range map[string]string{
		"authorization endpoint": c.AuthorizationEndpoint,
		"token endpoint":         c.TokenEndpoint,
		"redirect URL":           c.RedirectURL,
	} {
		if endpoint == "" {
			result = multierror.Append(result, fmt.Errorf("%s is empty: %w", name, ErrInvalidConfiguration))
			continue
		}
		if err := validateEndpointURL(name, endpoint); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.UserInfoEndpoint != "" {
		if err := validateEndpointURL("userinfo endpoint", c.UserInfoEndpoint); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		return fmt.Errorf("%s: %w", op, result.ErrorOrNil())
	}
	return nil
}

func validateEndpointURL(name, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%s %q is not a URL: %w", name, endpoint, ErrInvalidConfiguration)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s %q scheme is not http or https: %w", name, endpoint, ErrInvalidConfiguration)
	}
	return nil
}

// HTTPClient is a helper function that creates a new http client for the
// configured provider.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := httpclient.New(c.ProviderCA)
	if err != nil {
		if errors.Is(err, httpclient.ErrInvalidCertificatePEM) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

func (c *Config) logger() hclog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return hclog.NewNullLogger()
}

// configOptions is the set of available options for Config functions.
type configOptions struct {
	withScopes           []string
	withProviderCA       string
	withUserInfoEndpoint string
	withLogger           hclog.Logger
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the config defaults and applies the opt overrides
// passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithConfigScopes provides an optional list of scopes for the provider's
// config.
func WithConfigScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithProviderCA provides an optional CA cert PEM for the provider's
// config.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithUserInfoEndpoint provides an optional userinfo endpoint for the
// provider's config. Without it, resource owner claims come from the
// id_token payload.
func WithUserInfoEndpoint(endpoint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withUserInfoEndpoint = endpoint
		}
	}
}

// WithLogger provides an optional logger for the provider's config.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogger = l
		}
	}
}

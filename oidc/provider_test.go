package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func testProviderPair(t *testing.T) (*TestProvider, *Provider) {
	t.Helper()
	require := require.New(t)
	tp := StartTestProvider(t)
	tp.SetClientCreds("test-rp", "test-secret")
	c, err := NewConfig(
		"test-rp", "test-secret",
		tp.AuthorizationEndpoint(), tp.TokenEndpoint(),
		"https://rp.example.com/callback",
		WithProviderCA(tp.CACert()),
	)
	require.NoError(err)
	p, err := NewProvider(c)
	require.NoError(err)
	return tp, p
}

func TestProvider_AuthURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, p := testProviderPair(t)

		state, err := NewID("st")
		require.NoError(err)
		raw, err := p.AuthURL(ctx, state)
		require.NoError(err)

		u, err := url.Parse(raw)
		require.NoError(err)
		q := u.Query()
		assert.Equal("code", q.Get("response_type"))
		assert.Equal("test-rp", q.Get("client_id"))
		assert.Equal(state, q.Get("state"))
		assert.Equal("https://rp.example.com/callback", q.Get("redirect_uri"))
		assert.Contains(q.Get("scope"), "openid")
	})
	t.Run("with-pkce", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, p := testProviderPair(t)

		v, err := NewCodeVerifier()
		require.NoError(err)
		raw, err := p.AuthURL(ctx, "st_1", WithPKCE(v))
		require.NoError(err)

		u, err := url.Parse(raw)
		require.NoError(err)
		q := u.Query()
		assert.Equal(v.Challenge(), q.Get("code_challenge"))
		assert.Equal("S256", q.Get("code_challenge_method"))
	})
	t.Run("with-extension-params-and-locales", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, p := testProviderPair(t)

		raw, err := p.AuthURL(ctx, "st_1",
			WithAuthParam("language", "de"),
			WithUILocales(language.German, language.AmericanEnglish),
		)
		require.NoError(err)

		u, err := url.Parse(raw)
		require.NoError(err)
		q := u.Query()
		assert.Equal("de", q.Get("language"))
		assert.Equal("de en-US", q.Get("ui_locales"))
	})
	t.Run("empty-state", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		_, err := p.AuthURL(ctx, "")
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("deterministic-for-same-inputs", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, p := testProviderPair(t)
		first, err := p.AuthURL(ctx, "st_1", WithAuthParam("a", "1"), WithAuthParam("b", "2"))
		require.NoError(err)
		second, err := p.AuthURL(ctx, "st_1", WithAuthParam("b", "2"), WithAuthParam("a", "1"))
		require.NoError(err)
		assert.Equal(first, second)
	})
	t.Run("state-never-reused", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		seen := make(map[string]struct{}, 1000)
		for i := 0; i < 1000; i++ {
			state, err := NewID("st")
			require.NoError(err)
			_, ok := seen[state]
			assert.False(ok, "state %q generated twice", state)
			seen[state] = struct{}{}
		}
	})
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tp.SetExpectedAuthCode("test-code")

		tk, err := p.Exchange(ctx, "test-code")
		require.NoError(err)
		assert.Equal(AccessToken("test-access-token"), tk.AccessToken())
		assert.NotEmpty(tk.IdToken())
		assert.False(tk.IsExpired())
		assert.Equal(1, tp.TokenRequestCount())
	})
	t.Run("success-with-pkce-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tp.SetExpectedAuthCode("test-code")

		v, err := NewCodeVerifier()
		require.NoError(err)
		tp.SetExpectedCodeVerifier(v.Verifier())

		tk, err := p.Exchange(ctx, "test-code", WithPKCE(v))
		require.NoError(err)
		assert.NotNil(tk)
	})
	t.Run("provider-rejects-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tp.SetExpectedAuthCode("test-code")

		tk, err := p.Exchange(ctx, "some-other-code")
		require.Error(err)
		assert.Nil(tk)
		assert.True(errors.Is(err, ErrTokenExchangeFailed))
		// rejection is terminal, the client must not have retried
		assert.Equal(1, tp.TokenRequestCount())
	})
	t.Run("provider-rejects-missing-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tp.SetExpectedAuthCode("test-code")
		tp.SetExpectedCodeVerifier("expected-verifier")

		tk, err := p.Exchange(ctx, "test-code")
		require.Error(err)
		assert.Nil(tk)
		assert.True(errors.Is(err, ErrTokenExchangeFailed))
	})
	t.Run("empty-code", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		_, err := p.Exchange(ctx, "")
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestProvider_ResourceOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("userinfo-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetClientCreds("test-rp", "test-secret")
		tp.SetExpectedAuthCode("test-code")
		c, err := NewConfig(
			"test-rp", "test-secret",
			tp.AuthorizationEndpoint(), tp.TokenEndpoint(),
			"https://rp.example.com/callback",
			WithProviderCA(tp.CACert()),
			WithUserInfoEndpoint(tp.UserInfoEndpoint()),
		)
		require.NoError(err)
		p, err := NewProvider(c)
		require.NoError(err)

		tk, err := p.Exchange(ctx, "test-code")
		require.NoError(err)

		var claims map[string]interface{}
		require.NoError(p.ResourceOwner(ctx, tk, &claims))
		assert.Equal("alice@example.com", claims["sub"])
		assert.Equal("Alice Example", claims["name"])
		assert.Equal(1, tp.UserInfoRequestCount())
	})
	t.Run("id-token-fallback", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tp.SetExpectedAuthCode("test-code")
		tp.SetCustomClaims(map[string]interface{}{"name": "Alice Example"})

		tk, err := p.Exchange(ctx, "test-code")
		require.NoError(err)

		var claims map[string]interface{}
		require.NoError(p.ResourceOwner(ctx, tk, &claims))
		assert.Equal("alice@example.com", claims["sub"])
		assert.Equal("Alice Example", claims["name"])
		// no userinfo endpoint configured, so no round trip happened
		assert.Equal(0, tp.UserInfoRequestCount())
	})
	t.Run("no-id-token-no-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tp.SetExpectedAuthCode("test-code")
		tp.OmitIDTokens()

		tk, err := p.Exchange(ctx, "test-code")
		require.NoError(err)

		var claims map[string]interface{}
		err = p.ResourceOwner(ctx, tk, &claims)
		assert.True(errors.Is(err, ErrMissingIdToken))
	})
	t.Run("nil-token", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		var claims map[string]interface{}
		err := p.ResourceOwner(ctx, nil, &claims)
		assert.True(errors.Is(err, ErrNilParameter))
	})
}

func TestProvider_FreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("empty-input-returns-nil", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		assert.Nil(p.FreshToken(ctx, ""))
	})
	t.Run("unparseable-input-returns-nil", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		assert.Nil(p.FreshToken(ctx, "{not json"))
	})
	t.Run("unexpired-returned-unchanged-no-network", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)

		serialized := testSerializedToken(t, "access", "refresh", time.Now().Add(time.Hour))
		got := p.FreshToken(ctx, serialized)
		require.NotNil(got)
		assert.Equal(AccessToken("access"), got.AccessToken())
		assert.Equal(0, tp.RefreshRequestCount())
	})
	t.Run("expired-refreshes-exactly-once", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tp.SetExpectedRefreshToken("refresh")

		serialized := testSerializedToken(t, "stale", "refresh", time.Now().Add(-time.Hour))
		got := p.FreshToken(ctx, serialized)
		require.NotNil(got)
		assert.Equal(AccessToken("test-refreshed-access-token"), got.AccessToken())
		assert.Equal(1, tp.RefreshRequestCount())
	})
	t.Run("expired-without-refresh-token-returns-nil", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)

		serialized := testSerializedToken(t, "stale", "", time.Now().Add(-time.Hour))
		assert.Nil(p.FreshToken(ctx, serialized))
		assert.Equal(0, tp.RefreshRequestCount())
	})
	t.Run("failed-refresh-returns-nil-never-errors", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		tp.SetExpectedRefreshToken("refresh")
		tp.RejectTokenRequests()

		serialized := testSerializedToken(t, "stale", "refresh", time.Now().Add(-time.Hour))
		assert.Nil(p.FreshToken(ctx, serialized))
		assert.Equal(1, tp.RefreshRequestCount())
	})
}

func testSerializedToken(t *testing.T, access, refresh string, expiry time.Time) string {
	t.Helper()
	p := persistedToken{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       expiry,
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return string(data)
}

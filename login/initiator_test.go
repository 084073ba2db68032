package login

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/openpath/oidcrp/authctx"
	"github.com/openpath/oidcrp/oidc"
)

func testOIDCProvider(t *testing.T, tp *oidc.TestProvider) *oidc.Provider {
	t.Helper()
	cfg, err := oidc.NewConfig(
		"test-rp",
		"test-secret",
		tp.AuthorizationEndpoint(),
		tp.TokenEndpoint(),
		"https://example.com/callback",
		oidc.WithProviderCA(tp.CACert()),
		oidc.WithUserInfoEndpoint(tp.UserInfoEndpoint()),
	)
	require.NoError(t, err)
	p, err := oidc.NewProvider(cfg)
	require.NoError(t, err)
	tp.SetClientCreds("test-rp", "test-secret")
	return p
}

func testCodec(t *testing.T) *authctx.Codec {
	t.Helper()
	codec, err := authctx.NewCodec("host-key")
	require.NoError(t, err)
	return codec
}

func testInitiator(t *testing.T, tp *oidc.TestProvider, sessions authctx.SessionStore, cfg Config, opt ...Option) *Initiator {
	t.Helper()
	i, err := NewInitiator(testOIDCProvider(t, tp), testCodec(t), sessions, cfg, opt...)
	require.NoError(t, err)
	return i
}

func loginRequest(t *testing.T, target string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.RemoteAddr = "192.0.2.10:51234"
	return r
}

// storedContext decodes the context the initiator persisted in the
// session store.
func storedContext(t *testing.T, sessions authctx.SessionStore, key string) *authctx.Context {
	t.Helper()
	raw, ok := sessions.Get(nil, key)
	require.True(t, ok, "no stored authentication context")
	actx, err := testCodec(t).Decode(raw)
	require.NoError(t, err)
	return actx
}

func TestNewInitiator(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	p := testOIDCProvider(t, tp)
	codec := testCodec(t)
	sessions := authctx.NewMemStore()

	tests := []struct {
		name     string
		p        *oidc.Provider
		codec    *authctx.Codec
		sessions authctx.SessionStore
		wantErr  bool
	}{
		{name: "valid", p: p, codec: codec, sessions: sessions},
		{name: "nil-provider", codec: codec, sessions: sessions, wantErr: true},
		{name: "nil-codec", p: p, sessions: sessions, wantErr: true},
		{name: "nil-sessions", p: p, codec: codec, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewInitiator(tt.p, tt.codec, tt.sessions, Config{})
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, got)
		})
	}
}

func TestInitiator_Begin(t *testing.T) {
	t.Parallel()
	t.Run("redirects-to-authorization-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		sessions := authctx.NewMemStore()
		i := testInitiator(t, tp, sessions, Config{})

		rec := httptest.NewRecorder()
		i.Begin(rec, loginRequest(t, "https://example.com/login?otherparam=foo"))
		require.Equal(http.StatusFound, rec.Code)

		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(err)
		assert.Equal(tp.AuthorizationEndpoint(), loc.Scheme+"://"+loc.Host+loc.Path)
		q := loc.Query()
		assert.Equal("test-rp", q.Get("client_id"))
		assert.Equal("code", q.Get("response_type"))
		assert.NotEmpty(q.Get("state"))
		assert.Contains(q.Get("scope"), "openid")
		assert.Empty(q.Get("code_challenge"))

		actx := storedContext(t, sessions, DefaultContextSessionKey)
		assert.Equal(q.Get("state"), actx.State())
		assert.Equal("https://example.com/login?otherparam=foo", actx.LoginURL())
		assert.Equal(rec.Header().Get("Location"), actx.AuthorizationURL())
		assert.NotEmpty(actx.RequestID())
		assert.Empty(actx.CodeVerifier())
	})
	t.Run("pkce-adds-challenge-and-stores-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		sessions := authctx.NewMemStore()
		i := testInitiator(t, tp, sessions, Config{UsePKCE: true})

		rec := httptest.NewRecorder()
		i.Begin(rec, loginRequest(t, "https://example.com/login"))
		require.Equal(http.StatusFound, rec.Code)

		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(err)
		q := loc.Query()
		require.NotEmpty(q.Get("code_challenge"))
		assert.Equal("S256", q.Get("code_challenge_method"))

		actx := storedContext(t, sessions, DefaultContextSessionKey)
		require.NotEmpty(actx.CodeVerifier())
		challenge, err := oidc.CreateCodeChallenge(oidc.S256, actx.CodeVerifier())
		require.NoError(err)
		assert.Equal(challenge, q.Get("code_challenge"))
	})
	t.Run("same-fingerprint-reuses-pending-attempt", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		sessions := authctx.NewMemStore()
		fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		i := testInitiator(t, tp, sessions, Config{},
			withNowFunc(func() time.Time { return fixed }))

		first := httptest.NewRecorder()
		i.Begin(first, loginRequest(t, "https://example.com/login"))
		second := httptest.NewRecorder()
		i.Begin(second, loginRequest(t, "https://example.com/login"))

		require.Equal(http.StatusFound, second.Code)
		assert.Equal(first.Header().Get("Location"), second.Header().Get("Location"),
			"re-entry within the same second must not mint a second state")
	})
	t.Run("distinct-fingerprints-get-distinct-states", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		sessions := authctx.NewMemStore()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		i := testInitiator(t, tp, sessions, Config{},
			withNowFunc(func() time.Time {
				now = now.Add(time.Second)
				return now
			}))

		first := httptest.NewRecorder()
		i.Begin(first, loginRequest(t, "https://example.com/login"))
		second := httptest.NewRecorder()
		i.Begin(second, loginRequest(t, "https://example.com/login"))

		firstLoc, err := url.Parse(first.Header().Get("Location"))
		require.NoError(err)
		secondLoc, err := url.Parse(second.Header().Get("Location"))
		require.NoError(err)
		assert.NotEqual(firstLoc.Query().Get("state"), secondLoc.Query().Get("state"))
	})
	t.Run("locale-hint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		locales := []language.Tag{language.German, language.English}

		i := testInitiator(t, tp, authctx.NewMemStore(), Config{UILocales: locales})
		rec := httptest.NewRecorder()
		i.Begin(rec, loginRequest(t, "https://example.com/login"))
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(err)
		assert.Equal("de en", loc.Query().Get("ui_locales"))

		i = testInitiator(t, tp, authctx.NewMemStore(), Config{UILocales: locales, LocaleParam: "language"})
		rec = httptest.NewRecorder()
		i.Begin(rec, loginRequest(t, "https://example.com/login"))
		loc, err = url.Parse(rec.Header().Get("Location"))
		require.NoError(err)
		assert.Equal("de en", loc.Query().Get("language"))
		assert.Empty(loc.Query().Get("ui_locales"))
	})
	t.Run("auth-options-hook-extends-authorization-url", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		hooks := &Hooks{}
		hooks.OnAuthOptions(func(_ *http.Request, params url.Values) {
			params.Set("prompt", "consent")
		})
		i := testInitiator(t, tp, authctx.NewMemStore(), Config{}, WithHooks(hooks))

		rec := httptest.NewRecorder()
		i.Begin(rec, loginRequest(t, "https://example.com/login"))
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(err)
		assert.Equal("consent", loc.Query().Get("prompt"))
	})
}

func TestInitiator_redirectTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{
			name:   "same-host-absolute",
			target: "https://example.com/login?redirect_url=" + url.QueryEscape("https://example.com/app"),
			want:   "https://example.com/app",
		},
		{
			name:   "relative-path",
			target: "https://example.com/login?redirect_url=/app",
			want:   "/app",
		},
		{
			name:   "cross-host-falls-back-to-default",
			target: "https://example.com/login?redirect_url=" + url.QueryEscape("https://evil.example.org/phish"),
			want:   "https://example.com/home",
		},
		{
			name:   "absent-falls-back-to-default",
			target: "https://example.com/login",
			want:   "https://example.com/home",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			tp := oidc.StartTestProvider(t)
			sessions := authctx.NewMemStore()
			i := testInitiator(t, tp, sessions, Config{DefaultRedirectURL: "https://example.com/home"})

			rec := httptest.NewRecorder()
			i.Begin(rec, loginRequest(t, tt.target))
			actx := storedContext(t, sessions, DefaultContextSessionKey)
			assert.Equal(tt.want, actx.RedirectURL())
		})
	}
}

func TestInitiator_Middleware(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	sessions := authctx.NewMemStore()
	i := testInitiator(t, tp, sessions, Config{})

	var reached bool
	protected := i.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	t.Run("unauthenticated-is-sent-to-provider", func(t *testing.T) {
		assert := assert.New(t)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, loginRequest(t, "https://example.com/app"))
		assert.Equal(http.StatusFound, rec.Code)
		assert.False(reached)
	})
	t.Run("authenticated-passes-through", func(t *testing.T) {
		assert := assert.New(t)
		sessions.Set(nil, nil, DefaultAuthSessionKey, "u_1")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, loginRequest(t, "https://example.com/app"))
		assert.True(reached)
	})
}

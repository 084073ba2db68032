package oidc

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local server that stands in for an identity provider
// in tests: it serves the authorization, token, and userinfo endpoints and
// signs real id_tokens. Originally adapted from Consul's oauthtest
// package, by way of this module's predecessors.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	expectedAuthCode     string
	expectedCodeVerifier string
	expectedRefreshToken string
	replySubject         string
	replyUserinfo        map[string]interface{}
	customClaims         map[string]interface{}
	omitIDToken          bool
	disableUserInfo      bool
	rejectTokenRequests  bool

	tokenRequestCount    int
	refreshRequestCount  int
	userinfoRequestCount int

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates and starts a disposable TestProvider over TLS.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()

	p := &TestProvider{
		t:            t,
		replySubject: "alice@example.com",
		replyUserinfo: map[string]interface{}{
			"sub":   "alice@example.com",
			"name":  "Alice Example",
			"email": "alice@example.com",
		},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}); err != nil {
		t.Fatalf("unable to encode test provider cert: %v", err)
	}
	p.caCert = buf.String()

	return p
}

// Addr returns the base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test
// provider's HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// AuthorizationEndpoint returns the provider's authorization URL.
func (p *TestProvider) AuthorizationEndpoint() string { return p.Addr() + "/auth" }

// TokenEndpoint returns the provider's token URL.
func (p *TestProvider) TokenEndpoint() string { return p.Addr() + "/token" }

// UserInfoEndpoint returns the provider's userinfo URL.
func (p *TestProvider) UserInfoEndpoint() string { return p.Addr() + "/userinfo" }

// SigningKeys returns the test provider's pem-encoded keys used to sign
// id_tokens.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// SetClientCreds configures the client credentials the token endpoint
// requires.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code returned from /auth and the
// only code /token will accept.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedCodeVerifier makes the token endpoint require a matching PKCE
// code_verifier parameter.
func (p *TestProvider) SetExpectedCodeVerifier(verifier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedCodeVerifier = verifier
}

// SetExpectedRefreshToken configures the refresh_token the token endpoint
// accepts for the refresh_token grant.
func (p *TestProvider) SetExpectedRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = token
}

// SetReplySubject configures the sub claim in issued id_tokens and
// userinfo replies.
func (p *TestProvider) SetReplySubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetReplyUserinfo configures the userinfo endpoint's response claims.
func (p *TestProvider) SetReplyUserinfo(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// SetCustomClaims lets you set additional claims embedded in issued
// id_tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// OmitIDTokens forces an error state where the token endpoint does not
// return an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// RejectTokenRequests makes the token endpoint reject every request with
// an invalid_grant error.
func (p *TestProvider) RejectTokenRequests() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectTokenRequests = true
}

// TokenRequestCount reports the number of authorization_code grant
// requests the token endpoint has received.
func (p *TestProvider) TokenRequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequestCount
}

// RefreshRequestCount reports the number of refresh_token grant requests
// the token endpoint has received.
func (p *TestProvider) RefreshRequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshRequestCount
}

// UserInfoRequestCount reports the number of userinfo requests received.
func (p *TestProvider) UserInfoRequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userinfoRequestCount
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	if err := json.NewEncoder(w).Encode(out); err != nil {
		p.t.Errorf("unable to write test provider response: %v", err)
	}
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	p.writeJSON(w, &body)
}

func (p *TestProvider) issueIDToken() string {
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		Audience:  jwt.Audience{p.clientID},
	}
	return TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, p.customClaims)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}
		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		switch req.FormValue("grant_type") {
		case "authorization_code":
			p.tokenRequestCount++
			switch {
			case p.rejectTokenRequests:
				p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "token requests are rejected")
				return
			case req.FormValue("code") != p.expectedAuthCode:
				p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			case p.expectedCodeVerifier != "" && req.FormValue("code_verifier") != p.expectedCodeVerifier:
				p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected code_verifier")
				return
			}
			reply := struct {
				AccessToken  string `json:"access_token"`
				RefreshToken string `json:"refresh_token,omitempty"`
				IDToken      string `json:"id_token,omitempty"`
				TokenType    string `json:"token_type"`
				ExpiresIn    int    `json:"expires_in"`
			}{
				AccessToken:  "test-access-token",
				RefreshToken: p.expectedRefreshToken,
				TokenType:    "Bearer",
				ExpiresIn:    3600,
			}
			if !p.omitIDToken {
				reply.IDToken = p.issueIDToken()
			}
			p.writeJSON(w, &reply)

		case "refresh_token":
			p.refreshRequestCount++
			switch {
			case p.rejectTokenRequests:
				p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "token requests are rejected")
				return
			case p.expectedRefreshToken != "" && req.FormValue("refresh_token") != p.expectedRefreshToken:
				p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh token")
				return
			}
			reply := struct {
				AccessToken  string `json:"access_token"`
				RefreshToken string `json:"refresh_token,omitempty"`
				TokenType    string `json:"token_type"`
				ExpiresIn    int    `json:"expires_in"`
			}{
				AccessToken:  "test-refreshed-access-token",
				RefreshToken: p.expectedRefreshToken,
				TokenType:    "Bearer",
				ExpiresIn:    3600,
			}
			p.writeJSON(w, &reply)

		default:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		}

	case "/userinfo":
		p.userinfoRequestCount++
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, p.replyUserinfo)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

package login

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/openpath/oidcrp/authctx"
	"github.com/openpath/oidcrp/oidc"
	"github.com/openpath/oidcrp/usermap"
)

// CallbackHandler completes login attempts returning from the provider.
// Requests without both a code and a state parameter are not callbacks
// and pass through to the next handler; this covers provider error
// responses, which carry error/error_description instead of a code.
//
// The stored authentication context is consumed on every outcome: a
// second callback with the same state finds no context and is rejected.
type CallbackHandler struct {
	provider *oidc.Provider
	codec    *authctx.Codec
	sessions authctx.SessionStore
	mapper   *usermap.Mapper
	cfg      Config
	hooks    *Hooks
	logger   hclog.Logger
	next     http.Handler
}

// NewCallbackHandler creates the http.Handler for the redirect URI.
//
// Supported options: WithHooks, WithLogger, WithNext.
func NewCallbackHandler(p *oidc.Provider, codec *authctx.Codec, sessions authctx.SessionStore, mapper *usermap.Mapper, cfg Config, opt ...Option) (*CallbackHandler, error) {
	const op = "login.NewCallbackHandler"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrNilParameter)
	}
	if codec == nil {
		return nil, fmt.Errorf("%s: codec is nil: %w", op, ErrNilParameter)
	}
	if sessions == nil {
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	if mapper == nil {
		return nil, fmt.Errorf("%s: user mapper is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &CallbackHandler{
		provider: p,
		codec:    codec,
		sessions: sessions,
		mapper:   mapper,
		cfg:      cfg.withDefaults(),
		hooks:    opts.withHooks,
		logger:   opts.withLogger,
		next:     opts.withNext,
	}, nil
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		if h.next != nil {
			h.next.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	actx, ok := h.takeContext(w, r)
	if !ok {
		h.logger.Warn("callback without authentication context", "error", ErrNoContext)
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}
	// constant ordering: the state must match before the provider is
	// contacted, so a forged callback costs no token-endpoint call
	if state != actx.State() {
		h.logger.Warn("callback state mismatch", "error", ErrStateMismatch)
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	var exchangeOpts []oidc.Option
	if actx.CodeVerifier() != "" {
		verifier, err := oidc.RestoreCodeVerifier(actx.CodeVerifier())
		if err != nil {
			h.logger.Error("stored code verifier is unusable", "error", err)
			http.Error(w, "Authentication provider error", http.StatusInternalServerError)
			return
		}
		exchangeOpts = append(exchangeOpts, oidc.WithPKCE(verifier))
	}
	token, err := h.provider.Exchange(r.Context(), code, exchangeOpts...)
	if err != nil {
		h.logger.Error("token exchange failed", "error", err)
		http.Error(w, "Authentication provider error", http.StatusInternalServerError)
		return
	}

	claims := usermap.Claims{}
	if err := h.provider.ResourceOwner(r.Context(), token, &claims); err != nil {
		h.logger.Error("unable to fetch resource owner claims", "error", err)
		http.Error(w, "Authentication provider error", http.StatusInternalServerError)
		return
	}

	claims, err = h.hooks.reviewClaims(r.Context(), claims)
	if err != nil {
		h.logger.Warn("login denied during claims review", "error", err)
		http.Error(w, "Not authorized", http.StatusForbidden)
		return
	}

	user, err := h.mapper.Login(r.Context(), claims)
	if err != nil {
		if isPolicyDenial(err) {
			h.logger.Warn("login denied by user mapping", "error", err)
			http.Error(w, "Not authorized", http.StatusForbidden)
			return
		}
		h.logger.Error("user mapping failed", "error", err)
		http.Error(w, "Authentication provider error", http.StatusInternalServerError)
		return
	}

	if err := h.hooks.runPostLogin(r.Context(), user, claims); err != nil {
		h.logger.Error("post-login hook failed", "error", err)
		http.Error(w, "Authentication provider error", http.StatusInternalServerError)
		return
	}

	h.sessions.Set(w, r, h.cfg.AuthSessionKey, user.ID)
	h.logger.Info("login completed", "userId", user.ID)
	http.Redirect(w, r, h.finalRedirectURL(actx, code), http.StatusFound)
}

// takeContext resolves and consumes the attempt's authentication
// context. The session entry is cleared whether or not the token
// decodes, so every stored context admits at most one callback.
func (h *CallbackHandler) takeContext(w http.ResponseWriter, r *http.Request) (*authctx.Context, bool) {
	raw, ok := h.sessions.Get(r, h.cfg.ContextSessionKey)
	if !ok {
		return nil, false
	}
	h.sessions.Clear(w, r, h.cfg.ContextSessionKey)
	actx, err := h.codec.Decode(raw)
	if err != nil {
		h.logger.Warn("rejecting undecodable authentication context", "error", err)
		return nil, false
	}
	return actx, true
}

// finalRedirectURL sends the user back to the sanitized login URL with
// the completion marker, the authorization code for the embedding
// application, and the post-login destination. The destination is left
// off when the login URL already carries one.
func (h *CallbackHandler) finalRedirectURL(actx *authctx.Context, code string) string {
	dest := actx.LoginURL()
	sep := "?"
	if strings.Contains(dest, "?") {
		sep = "&"
	}
	dest += sep + h.cfg.LoginTypeParam + "=login"
	dest += "&" + h.cfg.CodeParam + "=" + url.QueryEscape(code)

	if target := actx.RedirectURL(); target != "" && !h.loginURLCarriesRedirect(actx.LoginURL()) {
		dest += "&" + h.cfg.RedirectURLParam + "=" + target
	}
	return dest
}

func (h *CallbackHandler) loginURLCarriesRedirect(loginURL string) bool {
	u, err := url.Parse(loginURL)
	if err != nil {
		return false
	}
	return u.Query().Has(h.cfg.RedirectURLParam)
}

// isPolicyDenial separates mapping outcomes the user caused (unknown,
// deleted, disabled, incomplete claims) from store failures.
func isPolicyDenial(err error) bool {
	for _, target := range []error{
		usermap.ErrMissingExternalID,
		usermap.ErrUserDoesNotExist,
		usermap.ErrUserDeleted,
		usermap.ErrUserDisabled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

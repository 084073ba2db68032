package login

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/openpath/oidcrp/usermap"
)

// AuthOptionsHook can add or change query parameters on the
// authorization request before the user is redirected to the provider.
type AuthOptionsHook func(r *http.Request, params url.Values)

// ClaimsReviewHook inspects and may transform the resource owner's
// claims before user mapping. Returning nil claims vetoes the login.
type ClaimsReviewHook func(ctx context.Context, claims usermap.Claims) (usermap.Claims, error)

// PostLoginHook runs after the local user has been persisted. An error
// fails the whole attempt.
type PostLoginHook func(ctx context.Context, u *usermap.User, claims usermap.Claims) error

// Hooks collects the flow's extension points. Hooks of each kind run in
// registration order. The zero value is ready to use.
type Hooks struct {
	authOptions  []AuthOptionsHook
	claimsReview []ClaimsReviewHook
	postLogin    []PostLoginHook
}

// OnAuthOptions registers a hook over the authorization request
// parameters.
func (h *Hooks) OnAuthOptions(fn AuthOptionsHook) {
	if fn != nil {
		h.authOptions = append(h.authOptions, fn)
	}
}

// OnClaimsReview registers a claims pipeline stage.
func (h *Hooks) OnClaimsReview(fn ClaimsReviewHook) {
	if fn != nil {
		h.claimsReview = append(h.claimsReview, fn)
	}
}

// OnPostLogin registers a hook to run after user persistence.
func (h *Hooks) OnPostLogin(fn PostLoginHook) {
	if fn != nil {
		h.postLogin = append(h.postLogin, fn)
	}
}

func (h *Hooks) applyAuthOptions(r *http.Request, params url.Values) {
	for _, fn := range h.authOptions {
		fn(r, params)
	}
}

// reviewClaims threads the claims through every review stage. Each stage
// sees the previous stage's output; a nil result or an error stops the
// pipeline and denies the login.
func (h *Hooks) reviewClaims(ctx context.Context, claims usermap.Claims) (usermap.Claims, error) {
	const op = "login.(Hooks).reviewClaims"
	for _, fn := range h.claimsReview {
		out, err := fn(ctx, claims)
		if err != nil {
			return nil, fmt.Errorf("%s: %v: %w", op, err, ErrDeniedByPolicy)
		}
		if out == nil {
			return nil, fmt.Errorf("%s: claims vetoed: %w", op, ErrDeniedByPolicy)
		}
		claims = out
	}
	return claims, nil
}

func (h *Hooks) runPostLogin(ctx context.Context, u *usermap.User, claims usermap.Claims) error {
	const op = "login.(Hooks).runPostLogin"
	for _, fn := range h.postLogin {
		if err := fn(ctx, u, claims); err != nil {
			return fmt.Errorf("%s: %v: %w", op, err, ErrPostLoginHook)
		}
	}
	return nil
}

package login

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrNoContext means a callback arrived without a resolvable
	// authentication context: no cookie, a tampered token, or a context
	// already consumed by an earlier callback.
	ErrNoContext = errors.New("no authentication context")

	// ErrStateMismatch means the callback's state parameter does not
	// equal the state bound into the authentication context.
	ErrStateMismatch = errors.New("state does not match authentication context")

	// ErrDeniedByPolicy means a claims-review hook vetoed the login.
	ErrDeniedByPolicy = errors.New("login denied by policy")

	// ErrPostLoginHook means a post-login hook failed; the attempt is
	// rejected even though the user record was persisted.
	ErrPostLoginHook = errors.New("post-login hook failed")
)

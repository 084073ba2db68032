// Package authctx carries the per-attempt state of one in-flight login
// across the redirect round trip to the identity provider and back.
//
// A Context is an immutable record of a single attempt (state nonce, PKCE
// verifier, origin URL, target redirect). The Codec seals it into a
// compact signed token bound to one installation, and a SessionStore
// moves that token between requests, typically as a hardened cookie.
package authctx

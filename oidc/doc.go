// Package oidc wraps an OAuth2/OIDC authorization server for the relying
// party side of the authorization code flow: building authorization URLs,
// exchanging codes (and refresh tokens) for tokens, and fetching or decoding
// the resource owner's identity claims.
//
// The provider is configured with explicit endpoint URLs supplied by the
// host; it performs no issuer discovery.
package oidc

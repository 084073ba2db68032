// Package login drives the relying-party side of the OIDC authorization
// code flow over HTTP: the Initiator sends an unauthenticated user to the
// provider's authorization endpoint, and the CallbackHandler validates
// the returning redirect, exchanges the code, fetches the resource
// owner's claims, maps them onto a local user and finishes with a
// redirect back to where the user started.
//
// Session state crosses the round trip only as a signed single-use
// context token (see the authctx package), carried by a pluggable
// SessionStore.
package login

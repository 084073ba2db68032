// Package usermap converts validated identity-provider claims into local
// user records: lookup by external identity key, create-or-update with
// zero-churn writes, group derivation, and enable/disable/undelete
// policies.
package usermap

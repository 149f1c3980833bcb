// Package auth provides a stateless bearer-token authentication core:
// JWT issuance and validation, single-use verification records for MFA
// codes, account activation, and password-reset tokens, plus a fail-open
// request filter that resolves the caller's identity without rejecting
// anonymous traffic.
//
// The package is storage backed through bun repositories and exposes its
// HTTP surface through go-router, so it mounts on any supported adapter.
package auth

// Package auth implements the OIDC authentication and credential lifecycle
// for ssoctl: dynamic client registration, the device-code and
// browser/PKCE authorization grants, encrypted-at-rest token caching with
// lazy refresh, and the orchestration that keeps at most one login flow in
// flight.
package auth

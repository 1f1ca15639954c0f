// Package cmd implements the cobra command tree for the ssoctl CLI:
// portal configuration, login/logout/status/refresh, account and role
// listing, role credential minting, version, and shell completion.
package cmd

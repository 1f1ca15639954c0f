// Package directory lists the accounts and roles a signed-in user may
// assume and mints short-lived role credentials for a selection.
package directory

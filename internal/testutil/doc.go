// Package testutil provides testing utilities and helpers for the oauthd
// library.
package testutil

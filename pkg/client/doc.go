// Package client is a thin net/http wrapper around a running syncd
// server, used by the CLI's read-only inspection commands (status,
// vault list). It holds no connection state beyond a base URL and an
// *http.Client.
package client

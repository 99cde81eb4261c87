// Package httpapi exposes an authcore engine over HTTP with gin.
//
// Routes: POST /login, /refresh, /logout and /revoke-all, GET /me, /healthz
// and optionally /metrics. Errors are JSON bodies of the form
// {"error": "<code>"} and never reveal whether an identity exists.
package httpapi

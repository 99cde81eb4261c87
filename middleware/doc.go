// Package middleware adapts authcore access-token validation to net/http.
//
// [Guard] reads the Authorization header, calls Engine.ValidateAccess and
// stores the [authcore.AccessResult] in the request context, where
// [AccessResultFromContext] retrieves it.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to the engine).
//   - Touch session storage.
//   - Make authorization decisions beyond pass/reject.
package middleware

// Package middleware adapts a goToken.Engine to net/http.
//
// # Handlers
//
//   - [RequireAccess] verifies the bearer access token and stores its claims
//     in the request context. Verification is stateless and never reaches
//     the token store.
//   - [WithClientInfo] copies the remote IP and User-Agent into the request
//     context so issuance, rotation and audit events see them.
//
// # What this package must NOT do
//
//   - Parse or sign tokens itself.
//   - Access Redis or Postgres.
//   - Decide authorization beyond pass or reject.
package middleware

// Package auth verifies bearer tokens and carries the authenticated
// principal through request contexts.
//
// Tokens are HS256 JWTs. The principal is the "sub" claim; "exp" is
// enforced when present and "iss" is checked when an issuer is
// configured. Token issuance happens outside this service.
package auth

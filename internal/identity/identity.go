// Package identity authenticates portal operators.
//
// It provides:
//   - LoadOrCreateKey: loads or generates the RSA signing key on disk
//   - TokenIssuer: issues and verifies RS256 operator session tokens
//   - RequireOperator: Gin middleware enforcing a Bearer operator token
package identity

const ctxOperatorClaims = "examcert_operator_claims"

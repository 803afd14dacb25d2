// Package exported holds types the public packages re-export but internal
// packages must reference directly, avoiding an import cycle between the
// public surface and the request plumbing.
package exported

// AssertionRequestOptions has required information for client assertion claims
type AssertionRequestOptions struct {
	// ClientID identifies the application for which an assertion is requested. Used as the assertion's "iss" and "sub" claims.
	ClientID string

	// TokenEndpoint is the intended token endpoint. Used as the assertion's "aud" claim.
	TokenEndpoint string
}

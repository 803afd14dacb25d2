// Package grant holds the grant_type values and assertion type URNs used in
// token requests.
package grant

const (
	AuthCode         = "authorization_code"
	RefreshToken     = "refresh_token"
	ClientCredential = "client_credentials"
	Password         = "password"
	DeviceCode       = "urn:ietf:params:oauth:grant-type:device_code"
	JWTBearer        = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	SAMLV1           = "urn:ietf:params:oauth:grant-type:saml1_1-bearer"
	SAMLV2           = "urn:ietf:params:oauth:grant-type:saml2-bearer"
	ClientAssertion  = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

/*
Package accesstokens exposes a REST client for querying backend systems to get various types of
access tokens (oauth) for use in authentication.

These calls are of type "application/x-www-form-urlencoded".  This means we use url.Values to
represent arguments and then encode them into the POST body message.  We receive JSON in
return for the requests.  The request definition is defined in https://tools.ietf.org/html/rfc7521#section-4.2 .
*/
package accesstokens

import (
	"context"
	"crypto"
	"crypto/sha256"

	/* #nosec */
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/veralis-id/veralis-go/errors"
	"github.com/veralis-id/veralis-go/internal/exported"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/authority"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/internal/grant"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/wstrust"
)

const (
	grantType     = "grant_type"
	deviceCode    = "device_code"
	clientID      = "client_id"
	clientInfo    = "client_info"
	clientInfoVal = "1"
	username      = "username"
	password      = "password"
)

//go:generate stringer -type=AppType

// AppType is whether the authorization code flow is for a public or confidential client.
type AppType int8

const (
	// ATUnknown is the zero value when the type hasn't been set.
	ATUnknown AppType = iota
	// ATPublic indicates this if for the Public.Client.
	ATPublic
	// ATConfidential indicates this if for the Confidential.Client.
	ATConfidential
)

type urlFormCaller interface {
	URLFormCall(ctx context.Context, endpoint string, qv url.Values, resp interface{}) error
}

// DeviceCodeResponse represents the HTTP response received from the device code endpoint
type DeviceCodeResponse struct {
	authority.OAuthResponseBase

	UserCode        string `json:"user_code"`
	DeviceCode      string `json:"device_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	Message         string `json:"message"`

	AdditionalFields map[string]interface{}
}

// Convert converts the DeviceCodeResponse to a DeviceCodeResult
func (dcr DeviceCodeResponse) Convert(clientID string, scopes []string) DeviceCodeResult {
	expiresOn := time.Now().UTC().Add(time.Duration(dcr.ExpiresIn) * time.Second)
	return NewDeviceCodeResult(dcr.UserCode, dcr.DeviceCode, dcr.VerificationURL, expiresOn, dcr.Interval, dcr.Message, clientID, scopes)
}

// CredentialMaterial describes how the credential attached to a token request
// was produced. It is observable after a request so callers can log what was
// sent without ever logging the secret itself.
type CredentialMaterial struct {
	// CredentialType is "secret", "certificate" or "assertion".
	CredentialType string
	// Source is "static" for a fixed secret/cert and "dynamic" for a callback.
	Source string
	// MTLS is set when the certificate was bound to the transport instead of
	// being presented as a signed JWT.
	MTLS bool
	// ThumbprintPrefix is the first 16 hex characters of the certificate's
	// SHA-256 thumbprint. Empty for secret credentials.
	ThumbprintPrefix string
	// Latency is the time it took to resolve the credential.
	Latency time.Duration
}

// Credential represents the credential used in confidential client flows.
type Credential struct {
	// Secret contains the credential secret if we are doing auth by secret.
	Secret string

	// Cert is the public certificate, if we're authenticating by certificate.
	Cert *x509.Certificate
	// Key is the private key for signing, if we're authenticating by certificate.
	Key crypto.PrivateKey
	// X5c is the JWT assertion's x5c header value, required for SN/I authentication.
	X5c []string

	// AssertionCallback is a function provided by the application, if we're authenticating by assertion.
	AssertionCallback func(context.Context, exported.AssertionRequestOptions) (string, error)

	// MTLSProofOfPossession binds Cert to the TLS connection of token requests
	// instead of building a JWT assertion from it.
	MTLSProofOfPossession bool

	// UseSHA1Thumbprint selects the legacy SHA-1 "x5t" JWT header instead of
	// the default SHA-256 "x5t#S256", for authorities that only index
	// certificates by their SHA-1 thumbprint.
	UseSHA1Thumbprint bool

	// mu protects the fields below.
	mu sync.Mutex
	// Assertion is the JWT assertion if we have retrieved it. Public to allow faking in tests.
	// Any use outside this module is not supported by a compatibility promise.
	Assertion string
	// Expires is when the Assertion expires. Public to allow faking in tests.
	// Any use outside this module is not supported by a compatibility promise.
	Expires time.Time

	material CredentialMaterial
}

// JWT gets the jwt assertion when the credential is not using a secret.
func (c *Credential) JWT(ctx context.Context, authParams authority.AuthParams) (string, error) {
	if c.AssertionCallback != nil {
		options := exported.AssertionRequestOptions{
			ClientID:      authParams.ClientID,
			TokenEndpoint: authParams.Endpoints.TokenEndpoint,
		}
		return c.AssertionCallback(ctx, options)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Expires.After(time.Now()) {
		return c.Assertion, nil
	}
	expires := time.Now().Add(10 * time.Minute)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"aud": authParams.Endpoints.TokenEndpoint,
		"exp": json.Number(strconv.FormatInt(expires.Unix(), 10)),
		"iss": authParams.ClientID,
		"jti": uuid.New().String(),
		"nbf": json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
		"sub": authParams.ClientID,
	})
	token.Header = map[string]interface{}{
		"alg": "RS256",
		"typ": "JWT",
	}
	if c.UseSHA1Thumbprint {
		token.Header["x5t"] = base64.StdEncoding.EncodeToString(thumbprintSHA1(c.Cert))
	} else {
		token.Header["x5t#S256"] = base64.StdEncoding.EncodeToString(thumbprintSHA256(c.Cert))
	}

	if authParams.SendX5C {
		token.Header["x5c"] = c.X5c
	}

	assertion, err := token.SignedString(c.Key)
	if err != nil {
		return "", fmt.Errorf("unable to sign a JWT token using private key: %w", err)
	}
	c.Assertion = assertion
	c.Expires = expires
	return c.Assertion, nil
}

// Material reports how the credential was resolved for the most recent request.
func (c *Credential) Material() CredentialMaterial {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.material
}

func (c *Credential) recordMaterial(m CredentialMaterial) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.material = m
}

// thumbprintSHA256 runs the asn1.Der bytes through sha256 for use in the
// x5t#S256 parameter of JWT.
// https://tools.ietf.org/html/rfc7517#section-4.9
func thumbprintSHA256(cert *x509.Certificate) []byte {
	a := sha256.Sum256(cert.Raw)
	return a[:]
}

// thumbprintSHA1 runs the asn1.Der bytes through sha1 for use in the x5t
// parameter of JWT.
// https://tools.ietf.org/html/rfc7517#section-4.8
func thumbprintSHA1(cert *x509.Certificate) []byte {
	/* #nosec */
	a := sha1.Sum(cert.Raw)
	return a[:]
}

// thumbprintPrefix is the loggable identifier of a certificate: the first 16
// hex characters of its SHA-256 thumbprint.
func thumbprintPrefix(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha256.Sum256(cert.Raw)
	s := hex.EncodeToString(sum[:])
	return s[:16]
}

// Client represents the REST calls to get tokens from token generator backends.
type Client struct {
	// Comm provides the HTTP transport client.
	Comm urlFormCaller

	testing bool
}

// FromUsernamePassword uses a username and password to get an access token.
func (c Client) FromUsernamePassword(ctx context.Context, authParameters authority.AuthParams) (TokenResponse, error) {
	qv := url.Values{}
	if err := addClaims(qv, authParameters); err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.Password)
	qv.Set(username, authParameters.Username)
	qv.Set(password, authParameters.Password)
	qv.Set(clientID, authParameters.ClientID)
	qv.Set(clientInfo, clientInfoVal)
	addScopeQueryParam(qv, authParameters)

	return c.doTokenResp(ctx, authParameters, qv)
}

// AuthCodeRequest stores the values required to request a token from the authority using an authorization code
type AuthCodeRequest struct {
	AuthParams    authority.AuthParams
	Code          string
	CodeChallenge string
	Credential    *Credential
	AppType       AppType
}

// NewCodeChallengeRequest returns an AuthCodeRequest that uses a code challenge..
func NewCodeChallengeRequest(params authority.AuthParams, appType AppType, cc *Credential, code, challenge string) (AuthCodeRequest, error) {
	if appType == ATUnknown {
		return AuthCodeRequest{}, fmt.Errorf("bug: NewCodeChallengeRequest() called with AppType == ATUnknown")
	}
	return AuthCodeRequest{
		AuthParams:    params,
		AppType:       appType,
		Code:          code,
		CodeChallenge: challenge,
		Credential:    cc,
	}, nil
}

// FromAuthCode uses an authorization code to retrieve an access token.
func (c Client) FromAuthCode(ctx context.Context, req AuthCodeRequest) (TokenResponse, error) {
	var qv url.Values

	switch req.AppType {
	case ATUnknown:
		return TokenResponse{}, fmt.Errorf("bug: Token.AuthCode() received request with AppType == ATUnknown")
	case ATConfidential:
		var err error
		if req.Credential == nil {
			return TokenResponse{}, fmt.Errorf("AuthCodeRequest had nil Credential for Confidential app")
		}
		qv, err = prepURLVals(ctx, req.Credential, req.AuthParams)
		if err != nil {
			return TokenResponse{}, err
		}
	case ATPublic:
		qv = url.Values{}
	default:
		return TokenResponse{}, fmt.Errorf("bug: Token.AuthCode() received request with AppType == %v, which we do not recongnize", req.AppType)
	}

	if err := addClaims(qv, req.AuthParams); err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.AuthCode)
	qv.Set("code", req.Code)
	qv.Set("code_verifier", req.CodeChallenge)
	qv.Set("redirect_uri", req.AuthParams.Redirecturi)
	qv.Set(clientID, req.AuthParams.ClientID)
	qv.Set(clientInfo, clientInfoVal)
	addScopeQueryParam(qv, req.AuthParams)

	return c.doTokenResp(ctx, req.AuthParams, qv)
}

// FromRefreshToken uses a refresh token (for refreshing credentials) to get a new access token.
func (c Client) FromRefreshToken(ctx context.Context, appType AppType, authParams authority.AuthParams, cc *Credential, refreshToken string) (TokenResponse, error) {
	qv := url.Values{}
	if appType == ATConfidential {
		var err error
		qv, err = prepURLVals(ctx, cc, authParams)
		if err != nil {
			return TokenResponse{}, err
		}
	}
	if err := addClaims(qv, authParams); err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.RefreshToken)
	qv.Set(clientID, authParams.ClientID)
	qv.Set(clientInfo, clientInfoVal)
	qv.Set("refresh_token", refreshToken)
	addScopeQueryParam(qv, authParams)

	return c.doTokenResp(ctx, authParams, qv)
}

// FromClientSecret uses a client's secret (aka password) to get a new token.
func (c Client) FromClientSecret(ctx context.Context, authParameters authority.AuthParams, clientSecret string) (TokenResponse, error) {
	qv := url.Values{}
	if err := addClaims(qv, authParameters); err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.ClientCredential)
	qv.Set("client_secret", clientSecret)
	qv.Set(clientID, authParameters.ClientID)
	addScopeQueryParam(qv, authParameters)

	token, err := c.doTokenResp(ctx, authParameters, qv)
	if err != nil {
		return token, fmt.Errorf("FromClientSecret(): %w", err)
	}
	return token, nil
}

// FromAssertion uses a signed client assertion to get a new token.
func (c Client) FromAssertion(ctx context.Context, authParameters authority.AuthParams, assertion string) (TokenResponse, error) {
	qv := url.Values{}
	if err := addClaims(qv, authParameters); err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.ClientCredential)
	qv.Set("client_assertion_type", grant.ClientAssertion)
	qv.Set("client_assertion", assertion)
	qv.Set(clientID, authParameters.ClientID)
	qv.Set(clientInfo, clientInfoVal)
	addScopeQueryParam(qv, authParameters)

	token, err := c.doTokenResp(ctx, authParameters, qv)
	if err != nil {
		return token, fmt.Errorf("FromAssertion(): %w", err)
	}
	return token, nil
}

// FromMTLSCertificate requests an app token whose proof of possession is the
// client certificate on the transport. No client assertion is sent.
func (c Client) FromMTLSCertificate(ctx context.Context, authParameters authority.AuthParams, cred *Credential) (TokenResponse, error) {
	if cred == nil || cred.Cert == nil {
		return TokenResponse{}, errors.NewClientError(errors.MtlsCertificateNotProvided, "mTLS proof of possession requires a certificate credential")
	}
	start := time.Now()
	qv := url.Values{}
	if err := addClaims(qv, authParameters); err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.ClientCredential)
	qv.Set(clientID, authParameters.ClientID)
	addScopeQueryParam(qv, authParameters)

	cred.recordMaterial(CredentialMaterial{
		CredentialType:   "certificate",
		Source:           "static",
		MTLS:             true,
		ThumbprintPrefix: thumbprintPrefix(cred.Cert),
		Latency:          time.Since(start),
	})
	return c.doTokenResp(ctx, authParameters, qv)
}

// FromUserAssertionClientSecret takes a previously acquired user token and a client
// secret and exchanges them for a token on behalf of that user.
func (c Client) FromUserAssertionClientSecret(ctx context.Context, authParameters authority.AuthParams, userAssertion string, clientSecret string) (TokenResponse, error) {
	qv := url.Values{}
	if err := addClaims(qv, authParameters); err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.JWTBearer)
	qv.Set(clientID, authParameters.ClientID)
	qv.Set("client_secret", clientSecret)
	qv.Set("assertion", userAssertion)
	qv.Set(clientInfo, clientInfoVal)
	qv.Set("requested_token_use", "on_behalf_of")
	addScopeQueryParam(qv, authParameters)

	return c.doTokenResp(ctx, authParameters, qv)
}

// FromUserAssertionClientCertificate takes a previously acquired user token and a
// client assertion and exchanges them for a token on behalf of that user.
func (c Client) FromUserAssertionClientCertificate(ctx context.Context, authParameters authority.AuthParams, userAssertion string, assertion string) (TokenResponse, error) {
	qv := url.Values{}
	if err := addClaims(qv, authParameters); err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.JWTBearer)
	qv.Set("client_assertion_type", grant.ClientAssertion)
	qv.Set("client_assertion", assertion)
	qv.Set(clientID, authParameters.ClientID)
	qv.Set("assertion", userAssertion)
	qv.Set(clientInfo, clientInfoVal)
	qv.Set("requested_token_use", "on_behalf_of")
	addScopeQueryParam(qv, authParameters)

	return c.doTokenResp(ctx, authParameters, qv)
}

// DeviceCodeResult requests a device code that the user can use to authenticate
// on another device.
func (c Client) DeviceCodeResult(ctx context.Context, authParameters authority.AuthParams) (DeviceCodeResult, error) {
	qv := url.Values{}
	if err := addClaims(qv, authParameters); err != nil {
		return DeviceCodeResult{}, err
	}
	qv.Set(clientID, authParameters.ClientID)
	addScopeQueryParam(qv, authParameters)

	endpoint := strings.Replace(authParameters.Endpoints.TokenEndpoint, "token", "devicecode", -1)

	resp := DeviceCodeResponse{}
	err := c.Comm.URLFormCall(ctx, endpoint, qv, &resp)
	if err != nil {
		return DeviceCodeResult{}, err
	}

	return resp.Convert(authParameters.ClientID, authParameters.Scopes), nil
}

// FromDeviceCodeResult polls the token endpoint with the device code.
func (c Client) FromDeviceCodeResult(ctx context.Context, authParameters authority.AuthParams, deviceCodeResult DeviceCodeResult) (TokenResponse, error) {
	qv := url.Values{}
	if err := addClaims(qv, authParameters); err != nil {
		return TokenResponse{}, err
	}
	qv.Set(grantType, grant.DeviceCode)
	qv.Set(deviceCode, deviceCodeResult.DeviceCode)
	qv.Set(clientID, authParameters.ClientID)
	qv.Set(clientInfo, clientInfoVal)
	addScopeQueryParam(qv, authParameters)

	return c.doTokenResp(ctx, authParameters, qv)
}

// FromSamlGrant exchanges a SAML assertion obtained from a federation provider
// for an access token.
func (c Client) FromSamlGrant(ctx context.Context, authParameters authority.AuthParams, samlGrant wstrust.SamlTokenInfo) (TokenResponse, error) {
	qv := url.Values{}
	if err := addClaims(qv, authParameters); err != nil {
		return TokenResponse{}, err
	}
	qv.Set(username, authParameters.Username)
	qv.Set(password, authParameters.Password)
	qv.Set(clientID, authParameters.ClientID)
	qv.Set(clientInfo, clientInfoVal)
	qv.Set("assertion", base64.StdEncoding.WithPadding(base64.StdPadding).EncodeToString([]byte(samlGrant.Assertion)))
	addScopeQueryParam(qv, authParameters)

	switch samlGrant.AssertionType {
	case grant.SAMLV1:
		qv.Set(grantType, grant.SAMLV1)
	case grant.SAMLV2:
		qv.Set(grantType, grant.SAMLV2)
	default:
		return TokenResponse{}, fmt.Errorf("FromSamlGrant returned unknown SAML assertion type: %q", samlGrant.AssertionType)
	}

	return c.doTokenResp(ctx, authParameters, qv)
}

func (c Client) doTokenResp(ctx context.Context, authParams authority.AuthParams, qv url.Values) (TokenResponse, error) {
	if authParams.AuthnScheme != nil {
		for k, v := range authParams.AuthnScheme.TokenRequestParams() {
			qv.Set(k, v)
		}
	}
	for k, fn := range authParams.ExtraBodyParameters {
		v, err := fn(ctx)
		if err != nil {
			return TokenResponse{}, fmt.Errorf("extra body parameter %q: %w", k, err)
		}
		qv.Set(k, v)
	}

	resp := TokenResponse{}
	if err := c.Comm.URLFormCall(ctx, authParams.Endpoints.TokenEndpoint, qv, &resp); err != nil {
		return resp, convertCallErr(err)
	}
	resp.ComputeScope(authParams)
	if c.testing {
		return resp, nil
	}
	if resp.Error != "" {
		return resp, newServiceError(resp.OAuthResponseBase, 0, nil, nil)
	}
	return resp, resp.Validate()
}

// convertCallErr classifies a token endpoint rejection. A body carrying an
// OAuth error is turned into a ServiceError (or a UI-required subtype); a
// transport failure passes through untouched.
func convertCallErr(err error) error {
	var callErr errors.CallErr
	if !errors.As(err, &callErr) || callErr.Resp == nil {
		return err
	}
	body, readErr := io.ReadAll(callErr.Resp.Body)
	if readErr != nil {
		return err
	}
	base := authority.OAuthResponseBase{}
	if jsonErr := json.Unmarshal(body, &base); jsonErr != nil || base.Error == "" {
		return err
	}
	return newServiceError(base, callErr.Resp.StatusCode, callErr.Resp.Header, body)
}

func newServiceError(base authority.OAuthResponseBase, status int, header http.Header, body []byte) error {
	svc := errors.ServiceError{
		Code:          base.Error,
		SubError:      base.SubError,
		Description:   base.ErrorDescription,
		CorrelationID: base.CorrelationID,
		StatusCode:    status,
		Header:        header,
		Body:          body,
	}
	switch base.Error {
	case errors.InvalidGrant, errors.InteractionRequired:
		ui := errors.UIRequiredError{
			Code:           base.Error,
			Classification: base.SubError,
			Message:        base.ErrorDescription,
			Service:        &svc,
		}
		if base.SubError == errors.ClientMismatch {
			ui.Code = errors.ClientMismatch
		}
		if base.Claims != "" {
			return errors.ClaimsChallengeError{UIRequiredError: ui, Claims: base.Claims}
		}
		return ui
	}
	return svc
}

// prepURLVals returns an url.Values that sets various key/values if we are doing secrets
// or JWT assertions.
func prepURLVals(ctx context.Context, cc *Credential, authParams authority.AuthParams) (url.Values, error) {
	params := url.Values{}
	start := time.Now()
	if cc.Secret != "" {
		params.Set("client_secret", cc.Secret)
		cc.recordMaterial(CredentialMaterial{CredentialType: "secret", Source: "static", Latency: time.Since(start)})
		return params, nil
	}

	jwt, err := cc.JWT(ctx, authParams)
	if err != nil {
		return nil, err
	}
	params.Set("client_assertion", jwt)
	params.Set("client_assertion_type", grant.ClientAssertion)

	source := "static"
	if cc.AssertionCallback != nil {
		source = "dynamic"
	}
	credType := "assertion"
	if cc.Cert != nil {
		credType = "certificate"
	}
	cc.recordMaterial(CredentialMaterial{
		CredentialType:   credType,
		Source:           source,
		ThumbprintPrefix: thumbprintPrefix(cc.Cert),
		Latency:          time.Since(start),
	})
	return params, nil
}

// openid required to get an id token
// offline_access required to get a refresh token
// profile required to get the client_info field back
var detectDefaultScopes = map[string]bool{
	"openid":         true,
	"offline_access": true,
	"profile":        true,
}

var defaultScopes = []string{"openid", "offline_access", "profile"}

func AppendDefaultScopes(authParameters authority.AuthParams) []string {
	scopes := make([]string, 0, len(authParameters.Scopes)+len(defaultScopes))
	for _, scope := range authParameters.Scopes {
		s := strings.TrimSpace(scope)
		if s == "" {
			continue
		}
		if detectDefaultScopes[scope] {
			continue
		}
		scopes = append(scopes, scope)
	}
	scopes = append(scopes, defaultScopes...)
	return scopes
}

// addClaims adds client capabilities and claims from AuthParams to the given url.Values
func addClaims(v url.Values, ap authority.AuthParams) error {
	claims, err := ap.MergeCapabilitiesAndClaims()
	if err == nil && claims != "" {
		v.Set("claims", claims)
	}
	return err
}

func addScopeQueryParam(queryParams url.Values, authParameters authority.AuthParams) {
	scopes := AppendDefaultScopes(authParameters)
	queryParams.Set("scope", strings.Join(scopes, " "))
}

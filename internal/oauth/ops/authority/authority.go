// Package authority holds the authority model (host, tenant, endpoints), the
// request parameters every token flow carries, and the REST calls used to
// discover instances, tenants and user realms.
package authority

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	authorizationEndpoint             = "https://%v/%v/oauth2/v2.0/authorize"
	aadInstanceDiscoveryEndpoint      = "https://%v/common/discovery/instance"
	tenantDiscoveryEndpointWithRegion = "https://%s.%s/%s/v2.0/.well-known/openid-configuration"
	regionName                        = "REGION_NAME"
	defaultAPIVersion                 = "2021-10-01"
	imdsEndpoint                      = "http://169.254.169.254/metadata/instance/compute/location?format=text&api-version=" + defaultAPIVersion
	autoDetectRegion                  = "TryAutoDetect"
	AccessTokenTypeBearer             = "Bearer"
)

// These are various hosts that host AAD Instance discovery endpoints.
const (
	defaultHost          = "login.microsoftonline.com"
	loginMicrosoft       = "login.microsoft.com"
	loginWindows         = "login.windows.net"
	loginSTSWindows      = "sts.windows.net"
	loginMicrosoftOnline = defaultHost
)

// jsonCaller is an interface that allows us to mock the JSONCall method.
type jsonCaller interface {
	JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp interface{}) error
}

var aadTrustedHostList = map[string]bool{
	"login.windows.net":                true, // Microsoft Azure Worldwide
	"login.partner.microsoftonline.cn": true, // Microsoft Azure China
	"login.microsoftonline.de":         true, // Microsoft Azure Germany
	"login-us.microsoftonline.com":     true, // Microsoft Azure US Government - Legacy
	"login.microsoftonline.us":         true, // Microsoft Azure US Government
	"login.microsoftonline.com":        true, // Microsoft Azure Worldwide
}

// TrustedHost checks if an AAD host is trusted/valid.
func TrustedHost(host string) bool {
	if _, ok := aadTrustedHostList[host]; ok {
		return true
	}
	return false
}

// OAuthResponseBase is embedded in all TSTS error responses.
type OAuthResponseBase struct {
	Error            string `json:"error"`
	SubError         string `json:"suberror"`
	ErrorDescription string `json:"error_description"`
	ErrorCodes       []int  `json:"error_codes"`
	CorrelationID    string `json:"correlation_id"`
	Claims           string `json:"claims"`
}

// TenantDiscoveryResponse is the tenant endpoints from the OpenID configuration endpoint.
type TenantDiscoveryResponse struct {
	OAuthResponseBase

	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	Issuer                string `json:"issuer"`

	AdditionalFields map[string]interface{}
}

// Validate validates that the response had the correct values required.
func (r *TenantDiscoveryResponse) Validate() error {
	switch "" {
	case r.AuthorizationEndpoint:
		return errors.New("TenantDiscoveryResponse: authorize endpoint was not found in the openid configuration")
	case r.TokenEndpoint:
		return errors.New("TenantDiscoveryResponse: token endpoint was not found in the openid configuration")
	case r.Issuer:
		return errors.New("TenantDiscoveryResponse: issuer was not found in the openid configuration")
	}
	return nil
}

type InstanceDiscoveryMetadata struct {
	PreferredNetwork string   `json:"preferred_network"`
	PreferredCache   string   `json:"preferred_cache"`
	Aliases          []string `json:"aliases"`

	AdditionalFields map[string]interface{}
}

type InstanceDiscoveryResponse struct {
	TenantDiscoveryEndpoint string                      `json:"tenant_discovery_endpoint"`
	Metadata                []InstanceDiscoveryMetadata `json:"metadata"`

	AdditionalFields map[string]interface{}
}

//go:generate stringer -type=AuthorizeType

// AuthorizeType represents the type of token flow.
type AuthorizeType int

// These are all the types of token flows.
const (
	ATUnknown AuthorizeType = iota
	ATUsernamePassword
	ATWindowsIntegrated
	ATAuthCode
	ATInteractive
	ATClientCredentials
	ATDeviceCode
	ATRefreshToken
	AccountByID
	ATOnBehalfOf
)

// These are all authority types
const (
	AAD  = "MSSTS"
	ADFS = "ADFS"
)

// AuthenticationScheme is an extensibility mechanism designed to be used only by Azure Arc for proof of possession access tokens.
type AuthenticationScheme interface {
	// Extra parameters that are added to the request to the /token endpoint.
	TokenRequestParams() map[string]string
	// Key ID of the public / private key pair used by the encryption algorithm, if any.
	// Tokens with proof of possession will be cached and delivered with the KeyID attached.
	KeyID() string
	// Creates the access token that goes into an Authorization HTTP header.
	FormatAccessToken(accessToken string) (string, error)
	// Expected to match the token_type parameter returned by the STS.
	AccessTokenType() string
}

// default authn scheme realizing AuthenticationScheme for "Bearer" tokens
type BearerAuthenticationScheme struct{}

var bearerAuthnScheme BearerAuthenticationScheme

func (ba *BearerAuthenticationScheme) TokenRequestParams() map[string]string {
	return nil
}
func (ba *BearerAuthenticationScheme) KeyID() string {
	return ""
}
func (ba *BearerAuthenticationScheme) FormatAccessToken(accessToken string) (string, error) {
	return accessToken, nil
}
func (ba *BearerAuthenticationScheme) AccessTokenType() string {
	return AccessTokenTypeBearer
}

// AuthParams represents the parameters used for authorization for token acquisition.
type AuthParams struct {
	AuthorityInfo Info
	CorrelationID string
	Endpoints     Endpoints
	ClientID      string
	// Redirecturi is used by auth flows that specify a redirect URI (e.g. local server).
	Redirecturi   string
	HomeAccountID string
	// Username is the user-name portion for username/password or windows authentication.
	Username string
	// Password is the password portion for username/password authentication.
	Password string
	// Scopes is the list of scopes the user consents to.
	Scopes []string
	// AuthorizationType specifies the auth flow being used.
	AuthorizationType AuthorizeType
	// State is a random value used to prevent cross-site request forgery attacks.
	State string
	// CodeChallenge is derived from a code verifier and is sent in the auth request.
	CodeChallenge string
	// CodeChallengeMethod describes the method used to create the CodeChallenge.
	CodeChallengeMethod string
	// Prompt specifies the user prompt type during interactive auth.
	Prompt string
	// IsConfidentialClient specifies if it is a confidential client.
	IsConfidentialClient bool
	// SendX5C specifies if x5c claim(public key of the certificate) should be sent to STS.
	SendX5C bool
	// UserAssertion is the access token used to acquire token on behalf of user
	UserAssertion string
	// LongRunningOboKey overrides the assertion hash as the on-behalf-of cache
	// partition key, letting a long running process renew tokens after the
	// original assertion expired.
	LongRunningOboKey string
	// Capabilities the client will include with each token request, for example "CP1"
	Capabilities []string
	// Claims required for an access token to satisfy a conditional access policy
	Claims string
	// KnownAuthorityHosts don't require metadata discovery because they're known to the user
	KnownAuthorityHosts []string
	// LoginHint is a username with which to pre-populate account selection during interactive auth
	LoginHint string
	// DomainHint is a directive that can be used to accelerate the user to their federated IdP sign-in page
	DomainHint string
	// ExtraQueryParameters are caller-supplied parameters appended to the
	// authorization request URL after checking that none collides with a
	// protocol parameter.
	ExtraQueryParameters map[string]string
	// AuthnScheme is an optional scheme for formatting access tokens
	AuthnScheme AuthenticationScheme
	// CacheKeyComponents is a map of named values whose content distinguishes
	// otherwise identical app token cache partitions.
	CacheKeyComponents map[string]string
	// ExtraBodyParameters are named value callbacks whose results are appended
	// to the token request body. Their key set participates in the cache key.
	ExtraBodyParameters map[string]func(ctx context.Context) (string, error)
}

// NewAuthParams creates an authorization parameters object.
func NewAuthParams(clientID string, authorityInfo Info) AuthParams {
	return AuthParams{
		ClientID:      clientID,
		AuthorityInfo: authorityInfo,
		CorrelationID: uuid.New().String(),
		AuthnScheme:   &bearerAuthnScheme,
	}
}

// WithTenant returns a copy of the AuthParams having the specified tenant ID. If the given
// ID is empty, the copy is identical to the original. This function returns an error in
// several cases:
//   - ID isn't specific (for example, it's "common")
//   - ID is non-empty and the authority doesn't support tenants (for example, it's an ADFS authority)
//   - the client is configured to authenticate only users from the "organizations" tenant and the calling application
//     specified a consumers tenant ID
func (p AuthParams) WithTenant(ID string) (AuthParams, error) {
	switch ID {
	case "", p.AuthorityInfo.Tenant:
		// keep the default tenant because the caller didn't override it
		return p, nil
	case "common", "consumers", "organizations":
		if p.AuthorityInfo.AuthorityType == AAD {
			return p, fmt.Errorf(`tenant ID must be a specific tenant, not "%s"`, ID)
		}
		// else we'll return a better error below
	}
	if p.AuthorityInfo.AuthorityType != AAD {
		return p, errors.New("the authority doesn't support tenants")
	}
	if p.AuthorityInfo.Tenant == "consumers" && ID != "consumers" {
		return p, errors.New(`client is configured to authenticate only personal Microsoft accounts, via the "consumers" endpoint`)
	}
	authority := "https://" + path.Join(p.AuthorityInfo.Host, ID)
	info, err := NewInfoFromAuthorityURI(authority, p.AuthorityInfo.ValidateAuthority, p.AuthorityInfo.InstanceDiscoveryDisabled)
	if err == nil {
		info.Region = p.AuthorityInfo.Region
		p.AuthorityInfo = info
	}
	return p, err
}

// MergeCapabilitiesAndClaims combines client capabilities and claims challenge
// (if any) into a value suitable for the "claims" parameter of a request.
func (p AuthParams) MergeCapabilitiesAndClaims() (string, error) {
	claims := p.Claims
	if len(p.Capabilities) > 0 {
		if claims == "" {
			// without claims the result is simply the capabilities
			return `{"access_token":{"xms_cc":{"values":["` + strings.Join(p.Capabilities, `","`) + `"]}}}`, nil
		}
		// Otherwise, merge claims and capabilities into a single JSON object.
		// We handle only basic error cases here because the STS validates the result.
		var challenge map[string]any
		if err := json.Unmarshal([]byte(claims), &challenge); err != nil {
			return "", fmt.Errorf(`claims must be JSON. Are they base64 encoded? json.Unmarshal returned "%v"`, err)
		}
		if atChallenge, ok := challenge["access_token"]; ok {
			if atChallenge, ok := atChallenge.(map[string]any); ok {
				atChallenge["xms_cc"] = map[string][]string{"values": p.Capabilities}
			} else {
				return "", errors.New(`claims challenge contains unexpected content (see https://openid.net/specs/openid-connect-core-1_0.html#ClaimsParameter)`)
			}
		} else {
			challenge["access_token"] = map[string]any{"xms_cc": map[string][]string{"values": p.Capabilities}}
		}
		b, err := json.Marshal(challenge)
		if err != nil {
			return "", fmt.Errorf("error marshaling claims challenge: %v", err)
		}
		claims = string(b)
	}
	return claims, nil
}

// AssertionHash returns the SHA-256 hash of the user assertion, the default
// cache partition key for on-behalf-of requests.
func (p AuthParams) AssertionHash() string {
	hasher := sha256.New()
	// Per documentation this never returns an error : https://golang.org/pkg/hash/#Hash
	_, _ = hasher.Write([]byte(p.UserAssertion))
	sha := base64.URLEncoding.EncodeToString(hasher.Sum(nil))
	return strings.ToLower(sha)
}

// AssertionKey returns the cache partition key for an on-behalf-of request:
// the caller-supplied long running process key when one is set, otherwise the
// assertion hash.
func (p AuthParams) AssertionKey() string {
	if p.LongRunningOboKey != "" {
		return p.LongRunningOboKey
	}
	return p.AssertionHash()
}

// CacheKey returns the partition key an external cache store should use for
// the request. isAppCache forces the app token cache partition for callers
// that know they hold app-only tokens regardless of the authorization type.
func (p AuthParams) CacheKey(isAppCache bool) string {
	if p.AuthorizationType == ATOnBehalfOf {
		return p.AssertionKey()
	}
	if p.AuthorizationType == ATClientCredentials || isAppCache {
		return p.AppKey()
	}
	if p.AuthorizationType == ATRefreshToken || p.AuthorizationType == AccountByID {
		return p.HomeAccountID
	}
	return ""
}

// CacheExtKeyGenerator returns a stable hash over the caller-supplied cache
// key components, or "" when there are none.
func (p AuthParams) CacheExtKeyGenerator() string {
	if len(p.CacheKeyComponents) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p.CacheKeyComponents))
	for k := range p.CacheKeyComponents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	hasher := sha256.New()
	for _, k := range keys {
		_, _ = hasher.Write([]byte(k))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write([]byte(p.CacheKeyComponents[k]))
		_, _ = hasher.Write([]byte{0})
	}
	return strings.ToLower(base64.RawURLEncoding.EncodeToString(hasher.Sum(nil)))
}

// ExtraBodyParametersHash returns a stable hash over the names of the extra
// body parameters, or "" when there are none. Only the key set is hashed
// because the values are callbacks that may change per request.
func (p AuthParams) ExtraBodyParametersHash() string {
	if len(p.ExtraBodyParameters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p.ExtraBodyParameters))
	for k := range p.ExtraBodyParameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	hasher := sha256.New()
	for _, k := range keys {
		_, _ = hasher.Write([]byte(k))
		_, _ = hasher.Write([]byte{0})
	}
	return strings.ToLower(base64.RawURLEncoding.EncodeToString(hasher.Sum(nil)))
}

// AppKey is the partition key of the app token cache for this client and
// tenant, extended with any caller-supplied cache key components.
func (p AuthParams) AppKey() string {
	key := fmt.Sprintf("%s_%s_AppTokenCache", p.ClientID, p.AuthorityInfo.Tenant)
	if ext := p.CacheExtKeyGenerator(); ext != "" {
		key = fmt.Sprintf("%s_%s", key, ext)
	}
	if ext := p.ExtraBodyParametersHash(); ext != "" {
		key = fmt.Sprintf("%s_%s", key, ext)
	}
	return key
}

// Info consists of information about the authority.
type Info struct {
	Host                      string
	CanonicalAuthorityURI     string
	AuthorityType             string
	UserRealmURIPrefix        string
	ValidateAuthority         bool
	Tenant                    string
	Region                    string
	InstanceDiscoveryDisabled bool
}

// NewInfoFromAuthorityURI creates an AuthorityInfo instance from the authority URL provided.
func NewInfoFromAuthorityURI(authority string, validateAuthority bool, instanceDiscoveryDisabled bool) (Info, error) {
	cannotBeNullOrEmpty := errors.New("authority cannot be an empty url")
	u, err := url.Parse(strings.ToLower(authority))
	if err != nil {
		return Info{}, fmt.Errorf("couldn't parse authority url: %w", err)
	}
	if u.Scheme != "https" {
		return Info{}, errors.New(`authority must be an https URL such as "https://login.microsoftonline.com/<your tenant>"`)
	}
	pathParts := strings.Split(u.EscapedPath(), "/")
	if len(pathParts) < 2 || pathParts[1] == "" {
		return Info{}, errors.New(`authority must be an URL such as "https://login.microsoftonline.com/<your tenant>"`)
	}
	if u.Host == "" {
		return Info{}, cannotBeNullOrEmpty
	}

	tenant := pathParts[1]
	authorityType := AAD
	if tenant == "adfs" {
		authorityType = ADFS
	}

	// u.Host includes the port, if any
	return Info{
		Host:                      u.Host,
		CanonicalAuthorityURI:     fmt.Sprintf("https://%v/%v/", u.Host, tenant),
		AuthorityType:             authorityType,
		UserRealmURIPrefix:        fmt.Sprintf("https://%v/common/userrealm/", u.Host),
		ValidateAuthority:         validateAuthority,
		Tenant:                    tenant,
		InstanceDiscoveryDisabled: instanceDiscoveryDisabled,
	}, nil
}

// Endpoints consists of the endpoints from the tenant discovery response.
type Endpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	selfSignedJwtAudience string
	authorityHost         string
}

// NewEndpoints creates an Endpoints object.
func NewEndpoints(authorizationEndpoint string, tokenEndpoint string, selfSignedJwtAudience string, authorityHost string) Endpoints {
	return Endpoints{authorizationEndpoint, tokenEndpoint, selfSignedJwtAudience, authorityHost}
}

// UserRealmEndpoint returns the endpoint to get the user realm.
func (endpoints Endpoints) UserRealmEndpoint(username string) string {
	return fmt.Sprintf("https://%s/common/UserRealm/%s", endpoints.authorityHost, url.PathEscape(username))
}

// AccountType is the type of account realm a user belongs to.
type AccountType string

const (
	// Unknown is when the account type is not known.
	Unknown AccountType = ""
	// Federated means the account is a managed by a federation provider (WS-Trust).
	Federated AccountType = "Federated"
	// Managed means the account is managed by the cloud authority (ROPC).
	Managed AccountType = "Managed"
)

// UserRealm is used for the username password request to determine user type.
type UserRealm struct {
	AccountType       AccountType `json:"account_type"`
	DomainName        string      `json:"domain_name"`
	CloudInstanceName string      `json:"cloud_instance_name"`
	CloudAudienceURN  string      `json:"cloud_audience_urn"`

	// required if accountType is Federated
	FederationProtocol    string `json:"federation_protocol"`
	FederationMetadataURL string `json:"federation_metadata_url"`

	AdditionalFields map[string]interface{}
}

func (u UserRealm) validate() error {
	switch "" {
	case string(u.AccountType):
		return errors.New("the account type (Federated or Managed) is missing")
	case u.DomainName:
		return errors.New("domain name of user realm is missing")
	case u.CloudInstanceName:
		return errors.New("cloud instance name of user realm is missing")
	case u.CloudAudienceURN:
		return errors.New("cloud Instance URN is missing")
	}

	if u.AccountType == Federated {
		switch "" {
		case u.FederationProtocol:
			return errors.New("federation protocol of user realm is missing")
		case u.FederationMetadataURL:
			return errors.New("federation metadata URL of user realm is missing")
		}
	}
	return nil
}

// Client represents the REST calls to authority backends.
type Client struct {
	// Comm provides the HTTP transport client.
	Comm jsonCaller // *comm.Client
}

func (c Client) UserRealm(ctx context.Context, authParams AuthParams) (UserRealm, error) {
	endpoint := authParams.Endpoints.UserRealmEndpoint(authParams.Username)
	qv := url.Values{}
	qv.Set("api-version", "1.0")

	resp := UserRealm{}
	err := c.Comm.JSONCall(
		ctx,
		endpoint,
		http.Header{"client-request-id": []string{authParams.CorrelationID}},
		qv,
		nil,
		&resp,
	)
	if err != nil {
		return resp, err
	}

	return resp, resp.validate()
}

func (c Client) GetTenantDiscoveryResponse(ctx context.Context, openIDConfigurationEndpoint string) (TenantDiscoveryResponse, error) {
	resp := TenantDiscoveryResponse{}
	err := c.Comm.JSONCall(
		ctx,
		openIDConfigurationEndpoint,
		http.Header{},
		nil,
		nil,
		&resp,
	)

	return resp, err
}

// AADInstanceDiscovery attempts to discover a tenant endpoint. If the instance is not
// found in the metadata endpoint then it is assumed to be valid anyway and a fallback
// is synthesized from the authority itself.
func (c Client) AADInstanceDiscovery(ctx context.Context, authorityInfo Info) (InstanceDiscoveryResponse, error) {
	region := ""
	var err error
	resp := InstanceDiscoveryResponse{}
	if authorityInfo.Region != "" && authorityInfo.Region != autoDetectRegion {
		region = authorityInfo.Region
	} else if authorityInfo.Region == autoDetectRegion {
		region = detectRegion(ctx)
	}
	if region != "" {
		environment := authorityInfo.Host
		switch environment {
		case loginMicrosoft, loginWindows, loginSTSWindows, defaultHost:
			environment = loginMicrosoft
		}
		resp.TenantDiscoveryEndpoint = fmt.Sprintf(tenantDiscoveryEndpointWithRegion, region, environment, authorityInfo.Tenant)
		metadata := InstanceDiscoveryMetadata{
			PreferredNetwork: fmt.Sprintf("%v.%v", region, authorityInfo.Host),
			PreferredCache:   authorityInfo.Host,
			Aliases:          []string{fmt.Sprintf("%v.%v", region, authorityInfo.Host), authorityInfo.Host},
		}
		resp.Metadata = []InstanceDiscoveryMetadata{metadata}
	} else {
		qv := url.Values{}
		qv.Set("api-version", "1.1")
		qv.Set("authorization_endpoint", fmt.Sprintf(authorizationEndpoint, authorityInfo.Host, authorityInfo.Tenant))

		discoveryHost := defaultHost
		if TrustedHost(authorityInfo.Host) {
			discoveryHost = authorityInfo.Host
		}

		endpoint := fmt.Sprintf(aadInstanceDiscoveryEndpoint, discoveryHost)
		err = c.Comm.JSONCall(ctx, endpoint, http.Header{}, qv, nil, &resp)
	}
	return resp, err
}

func detectRegion(ctx context.Context) string {
	region := os.Getenv(regionName)
	if region != "" {
		region = strings.ReplaceAll(region, " ", "")
		return strings.ToLower(region)
	}
	// The IMDS endpoint answers fast on Azure hosts and not at all elsewhere,
	// so the probe gets a short timeout and a single retry.
	client := http.Client{
		Timeout: 2 * time.Second,
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, imdsEndpoint, nil)
	req.Header.Set("Metadata", "true")
	resp, err := client.Do(req)
	// a timeout or transient failure gets one retry
	if err != nil || resp.StatusCode != http.StatusOK {
		resp, err = client.Do(req)
		if err != nil {
			return ""
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return ""
		}
	}
	defer resp.Body.Close()
	response, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return string(response)
}

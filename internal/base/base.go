// Package base contains a "Base" client that is used by the external public.Client and confidential.Client.
// Base holds shared attributes that must be available to both clients and methods that act as
// shared calls. It implements the silent acquisition state machine: cache, then refresh token,
// then a configured broker, before the caller falls back to interaction.
package base

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/veralis-id/veralis-go/cache"
	"github.com/veralis-id/veralis-go/errors"
	"github.com/veralis-id/veralis-go/internal/base/internal/storage"
	"github.com/veralis-id/veralis-go/internal/broker"
	"github.com/veralis-id/veralis-go/internal/logger"
	"github.com/veralis-id/veralis-go/internal/oauth"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/accesstokens"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/authority"
	"github.com/veralis-id/veralis-go/internal/shared"
	"github.com/veralis-id/veralis-go/internal/version"
)

const (
	// AuthorityPublicCloud is the default authority when the caller doesn't specify one.
	AuthorityPublicCloud = "https://login.microsoftonline.com/common"

	scopeSeparator = " "

	// clientSKU identifies this library in request telemetry.
	clientSKU = "veralis.go"
)

// reservedScopes are requested on every authorization URL so the provider
// returns an ID token and a refresh token alongside the access token.
var reservedScopes = []string{"offline_access", "openid", "profile"}

// AppendDefaultScopes adds the reserved OpenID Connect scopes to the requested
// set unless the caller already asked for them.
func AppendDefaultScopes(scopes []string) []string {
	have := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		have[strings.ToLower(s)] = true
	}
	out := make([]string, 0, len(reservedScopes)+len(scopes))
	for _, s := range reservedScopes {
		if !have[s] {
			out = append(out, s)
		}
	}
	return append(out, scopes...)
}

// TokenSource reports where an AuthResult's token came from.
type TokenSource int

// Token sources.
const (
	TokenSourceIdentityProvider TokenSource = iota
	TokenSourceCache
	TokenSourceBroker
)

// manager provides an internal cache. It is defined to allow faking the cache in tests.
// In production it's a *storage.Manager or *storage.PartitionedManager.
type manager interface {
	cache.Serializer
	Read(ctx context.Context, authParameters authority.AuthParams) (storage.TokenResponse, error)
	Write(authParameters authority.AuthParams, tokenResponse accesstokens.TokenResponse) (shared.Account, error)
}

// accountManager additionally enumerates and removes accounts. In production
// it's a *storage.Manager; the partitioned manager is never asked for accounts
// by home account ID alone.
type accountManager interface {
	manager
	AllAccounts() []shared.Account
	Account(homeAccountID string) shared.Account
	RemoveAccount(account shared.Account, clientID string)
}

// noopCacheAccessor implements cache.ExportReplace for applications that keep
// the cache purely in memory.
type noopCacheAccessor struct{}

func (n noopCacheAccessor) Replace(ctx context.Context, cache cache.Unmarshaler, hints cache.ReplaceHints) error {
	return nil
}
func (n noopCacheAccessor) Export(ctx context.Context, cache cache.Marshaler, hints cache.ExportHints) error {
	return nil
}

// AcquireTokenSilentParameters contains the parameters to acquire a token silently (from cache).
type AcquireTokenSilentParameters struct {
	Scopes            []string
	Account           shared.Account
	RequestType       accesstokens.AppType
	Credential        *accesstokens.Credential
	IsAppCache        bool
	TenantID          string
	UserAssertion     string
	AuthorizationType authority.AuthorizeType
	Claims            string
	AuthnScheme       authority.AuthenticationScheme
	// ForceRefresh skips cached access tokens and always executes the request
	// strategy, still writing the result back to the cache.
	ForceRefresh bool
	// LongRunningOboKey is the explicit on-behalf-of cache key of a long
	// running process. A lookup under it that misses is a hard failure, never
	// a new exchange.
	LongRunningOboKey string
}

// AcquireTokenAuthCodeParameters contains the parameters required to acquire an access token using the auth code flow.
// To use PKCE, set the CodeChallengeParameter.
// Code challenges are used to secure authorization code grants; for more information, visit
// https://tools.ietf.org/html/rfc7636.
type AcquireTokenAuthCodeParameters struct {
	Scopes      []string
	Code        string
	Challenge   string
	Claims      string
	RedirectURI string
	AppType     accesstokens.AppType
	Credential  *accesstokens.Credential
	TenantID    string
}

// AcquireTokenOnBehalfOfParameters contains the parameters to acquire a token on behalf of a user.
type AcquireTokenOnBehalfOfParameters struct {
	Scopes     []string
	Credential *accesstokens.Credential
	TenantID   string
	Claims     string
	// UserAssertion is the caller's inbound access token. May be empty for a
	// lookup-only call in a long running process.
	UserAssertion     string
	LongRunningOboKey string
	// SkipCache forces a network exchange, overwriting whatever the cache
	// holds for the partition.
	SkipCache bool
}

// AuthResult contains the results of one token acquisition operation.
type AuthResult struct {
	Account        shared.Account
	IDToken        accesstokens.IDToken
	AccessToken    string
	ExpiresOn      time.Time
	GrantedScopes  []string
	DeclinedScopes []string

	Metadata AuthResultMetadata
}

// AuthResultMetadata carries metadata about how the AuthResult was produced.
type AuthResultMetadata struct {
	// RefreshOn is the provider's hint to renew the token ahead of ExpiresOn.
	// Zero when the provider didn't send one.
	RefreshOn   time.Time
	TokenSource TokenSource
}

// AuthResultFromStorage creates an AuthResult from a storage token response (which is generated from the cache).
func AuthResultFromStorage(storageTokenResponse storage.TokenResponse) (AuthResult, error) {
	if err := storageTokenResponse.AccessToken.Validate(); err != nil {
		return AuthResult{}, fmt.Errorf("problem with access token in StorageTokenResponse: %w", err)
	}

	account := storageTokenResponse.Account
	accessToken := storageTokenResponse.AccessToken.Secret
	grantedScopes := strings.Split(storageTokenResponse.AccessToken.Scopes, scopeSeparator)

	// The cache of a confidential client holds no ID token, so an empty one is not an error.
	var idToken accesstokens.IDToken
	if !storageTokenResponse.IDToken.IsZero() {
		if err := idToken.UnmarshalJSON([]byte(storageTokenResponse.IDToken.Secret)); err != nil {
			return AuthResult{}, fmt.Errorf("problem decoding JWT token: %w", err)
		}
	}
	return AuthResult{
		Account:       account,
		IDToken:       idToken,
		AccessToken:   accessToken,
		ExpiresOn:     storageTokenResponse.AccessToken.ExpiresOn.T,
		GrantedScopes: grantedScopes,
		Metadata: AuthResultMetadata{
			RefreshOn:   storageTokenResponse.AccessToken.RefreshOn.T,
			TokenSource: TokenSourceCache,
		},
	}, nil
}

// NewAuthResult creates an AuthResult.
func NewAuthResult(tokenResponse accesstokens.TokenResponse, account shared.Account) (AuthResult, error) {
	if len(tokenResponse.DeclinedScopes) > 0 {
		return AuthResult{}, fmt.Errorf("token response failed because declined scopes are present: %s", strings.Join(tokenResponse.DeclinedScopes, ","))
	}
	return AuthResult{
		Account:       account,
		IDToken:       tokenResponse.IDToken,
		AccessToken:   tokenResponse.AccessToken,
		ExpiresOn:     tokenResponse.ExpiresOn.T,
		GrantedScopes: tokenResponse.GrantedScopes.Slice,
		Metadata: AuthResultMetadata{
			RefreshOn:   tokenResponse.RefreshOn.T,
			TokenSource: TokenSourceIdentityProvider,
		},
	}, nil
}

// Client is a base client that provides access to common methods and primatives that
// can be used by multiple clients.
type Client struct {
	Token    *oauth.Client
	manager  accountManager // *storage.Manager or fakeManager in tests
	pmanager manager        // *storage.PartitionedManager or fakeManager in tests

	AuthParams    authority.AuthParams // DO NOT EVER MAKE THIS A POINTER! See "Note" in New().
	Broker        broker.Broker
	cacheAccessor cache.ExportReplace
	// The setting of Client.cacheAccessor in AcquireTokenSilent and AuthResultFromToken
	// must be protected against concurrent Replace/Export pairs.
	cacheAccessorMu *sync.RWMutex
}

// Option is an optional argument to New().
type Option func(c *Client)

// WithCacheAccessor allows you to provide an accessor that will read and write
// an external copy of the cache around every cache access.
func WithCacheAccessor(ca cache.ExportReplace) Option {
	return func(c *Client) {
		if ca != nil {
			c.cacheAccessor = ca
		}
	}
}

// WithClientCapabilities sets capabilities the client will declare with every
// token request, for example "CP1".
func WithClientCapabilities(capabilities []string) Option {
	return func(c *Client) {
		// there's no danger of sharing the slice's underlying memory with the application because
		// this slice is simply passed to base.WithClientCapabilities, which copies its data
		c.AuthParams.Capabilities = capabilities
	}
}

// WithKnownAuthorityHosts specifies hosts the client can trust without
// instance discovery.
func WithKnownAuthorityHosts(hosts []string) Option {
	return func(c *Client) {
		c.AuthParams.KnownAuthorityHosts = hosts
	}
}

// WithX5C specifies if x5c claim(public key of the certificate) should be sent to STS to enable Subject Name Issuer Authentication.
func WithX5C(sendX5C bool) Option {
	return func(c *Client) {
		c.AuthParams.SendX5C = sendX5C
	}
}

// WithRegionDetection sets the Azure region, or "TryAutoDetect" to probe for one,
// used to construct regional token endpoints.
func WithRegionDetection(region string) Option {
	return func(c *Client) {
		c.AuthParams.AuthorityInfo.Region = region
	}
}

// WithInstanceDiscovery set to false to disable authority validation (to support private cloud scenarios)
func WithInstanceDiscovery(enabled bool) Option {
	return func(c *Client) {
		c.AuthParams.AuthorityInfo.ValidateAuthority = enabled
		c.AuthParams.AuthorityInfo.InstanceDiscoveryDisabled = !enabled
	}
}

// WithAuthnScheme sets the authentication scheme used to format and cache
// access tokens, for example a proof of possession scheme.
func WithAuthnScheme(scheme authority.AuthenticationScheme) Option {
	return func(c *Client) {
		if scheme != nil {
			c.AuthParams.AuthnScheme = scheme
		}
	}
}

// WithBroker routes eligible requests through a platform authentication broker.
func WithBroker(b broker.Broker) Option {
	return func(c *Client) {
		c.Broker = b
	}
}

// New is the constructor for Base.
func New(clientID string, authorityURI string, token *oauth.Client, options ...Option) (Client, error) {
	//By default, validateAuthority is set to true and instanceDiscoveryDisabled is set to false
	authInfo, err := authority.NewInfoFromAuthorityURI(authorityURI, true, false)
	if err != nil {
		return Client{}, err
	}
	authParams := authority.NewAuthParams(clientID, authInfo)
	client := Client{ // Note: Hey, don't even THINK about making Base into *Base. See "design notes" in public.go and confidential.go.
		Token:           token,
		AuthParams:      authParams,
		cacheAccessor:   noopCacheAccessor{},
		cacheAccessorMu: &sync.RWMutex{},
		manager:         storage.New(token),
		pmanager:        storage.NewPartitionedManager(token),
	}
	for _, o := range options {
		o(&client)
	}
	return client, err
}

// AuthCodeURL creates a URL used to acquire an authorization code.
func (b Client) AuthCodeURL(ctx context.Context, clientID, redirectURI string, scopes []string, authParams authority.AuthParams) (string, error) {
	if err := validateRedirectURI(redirectURI); err != nil {
		return "", err
	}
	endpoints, err := b.Token.ResolveEndpoints(ctx, authParams.AuthorityInfo, "")
	if err != nil {
		return "", err
	}

	baseURL, err := url.Parse(endpoints.AuthorizationEndpoint)
	if err != nil {
		return "", err
	}

	claims, err := authParams.MergeCapabilitiesAndClaims()
	if err != nil {
		return "", err
	}

	v := url.Values{}
	v.Add("client_id", clientID)
	v.Add("response_type", "code")
	v.Add("redirect_uri", redirectURI)
	v.Add("scope", strings.Join(AppendDefaultScopes(scopes), scopeSeparator))
	v.Add("client-request-id", authParams.CorrelationID)
	v.Add("x-client-sku", clientSKU)
	v.Add("x-client-ver", version.Version)
	v.Add("x-client-cpu", runtime.GOARCH)
	v.Add("x-client-os", runtime.GOOS)
	if authParams.State != "" {
		v.Add("state", authParams.State)
	}
	if claims != "" {
		v.Add("claims", claims)
	}
	if authParams.CodeChallenge != "" {
		v.Add("code_challenge", authParams.CodeChallenge)
	}
	if authParams.CodeChallengeMethod != "" {
		v.Add("code_challenge_method", authParams.CodeChallengeMethod)
	}
	if authParams.LoginHint != "" {
		v.Add("login_hint", authParams.LoginHint)
	}
	if authParams.Prompt != "" {
		v.Add("prompt", authParams.Prompt)
	}
	if authParams.DomainHint != "" {
		v.Add("domain_hint", authParams.DomainHint)
	}
	for name, value := range authParams.ExtraQueryParameters {
		if v.Has(name) {
			return "", errors.NewClientError(errors.DuplicateQueryParameter, "extra query parameter %q duplicates a request parameter", name)
		}
		v.Add(name, value)
	}

	baseURL.RawQuery = v.Encode()
	return baseURL.String(), nil
}

// validateRedirectURI rejects redirect URIs the authorization code flow can't
// deliver a code to. A fragment never reaches the server side of the redirect.
func validateRedirectURI(redirectURI string) error {
	if redirectURI == "" {
		return nil
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		return errors.NewClientError(errors.InvalidRedirectURI, "couldn't parse redirect URI %q: %v", redirectURI, err)
	}
	if u.Fragment != "" {
		return errors.NewClientError(errors.InvalidRedirectURI, "redirect URI %q must not contain a fragment", redirectURI)
	}
	return nil
}

// AcquireTokenSilent acquires a token from either the cache or using a refresh token.
// When both miss and a broker is configured, eligible failures are retried
// through the broker before surfacing.
func (b Client) AcquireTokenSilent(ctx context.Context, silent AcquireTokenSilentParameters) (AuthResult, error) {
	ar, authParams, err := b.acquireTokenSilent(ctx, silent)
	if err == nil || b.Broker == nil {
		return ar, err
	}
	if !brokerFallbackEligible(err) || !b.Broker.Available(ctx) {
		return ar, err
	}
	token, brokerErr := b.Broker.AcquireTokenSilent(ctx, authParams)
	if brokerErr != nil {
		// the local failure is the actionable one, the broker was a best effort
		b.log(ctx, logger.Debug, "broker fallback failed", logger.Field("error", brokerErr))
		return ar, err
	}
	ar, err = b.AuthResultFromToken(ctx, authParams, token, true)
	if err == nil {
		ar.Metadata.TokenSource = TokenSourceBroker
	}
	return ar, err
}

func (b Client) acquireTokenSilent(ctx context.Context, silent AcquireTokenSilentParameters) (AuthResult, authority.AuthParams, error) {
	ar := AuthResult{}
	// when tenant == "" the caller didn't specify a tenant and WithTenant will use the client's configured tenant
	tenant := silent.TenantID
	authParams, err := b.AuthParams.WithTenant(tenant)
	if err != nil {
		return ar, authParams, err
	}
	toLower(silent.Scopes)
	authParams.Scopes = silent.Scopes
	authParams.HomeAccountID = silent.Account.HomeAccountID
	authParams.AuthorizationType = silent.AuthorizationType
	authParams.Claims = silent.Claims
	authParams.UserAssertion = silent.UserAssertion
	authParams.LongRunningOboKey = silent.LongRunningOboKey
	if silent.AuthnScheme != nil {
		authParams.AuthnScheme = silent.AuthnScheme
	}

	// on-behalf-of tokens live in the assertion-partitioned cache, everything
	// else in the flat account cache. App tokens are flat entries with an
	// empty home account ID.
	m := manager(b.pmanager)
	if authParams.AuthorizationType != authority.ATOnBehalfOf {
		authParams.AuthorizationType = authority.ATRefreshToken
		m = b.manager
	}
	if silent.IsAppCache {
		authParams.AuthorizationType = authority.ATClientCredentials
	}

	key := authParams.CacheKey(silent.IsAppCache)
	b.cacheAccessorMu.RLock()
	err = b.cacheAccessor.Replace(ctx, m, cache.ReplaceHints{PartitionKey: key})
	b.cacheAccessorMu.RUnlock()
	if err != nil {
		return ar, authParams, err
	}
	storageTokenResponse, err := m.Read(ctx, authParams)
	if err != nil {
		return ar, authParams, err
	}

	// a claims challenge and a forced refresh both invalidate whatever access
	// token the cache holds, but not its refresh token
	if !silent.ForceRefresh && authParams.Claims == "" {
		ar, err = AuthResultFromStorage(storageTokenResponse)
		if err == nil {
			if needsRefresh(storageTokenResponse.AccessToken) && !reflect.ValueOf(storageTokenResponse.RefreshToken).IsZero() {
				refreshed, rErr := b.redeemRefreshToken(ctx, authParams, silent, storageTokenResponse.RefreshToken)
				if rErr == nil {
					return refreshed, authParams, nil
				}
				// includes an external cancellation of a proactive renewal: the
				// cached token is still good, so the failure is logged, not returned
				b.log(ctx, logger.Warn, "proactive token refresh failed, returning the cached token", logger.Field("error", rErr))
			}
			ar.AccessToken, err = authParams.AuthnScheme.FormatAccessToken(ar.AccessToken)
			return ar, authParams, err
		}
	}

	if reflect.ValueOf(storageTokenResponse.RefreshToken).IsZero() {
		if authParams.AuthorizationType == authority.ATOnBehalfOf && authParams.LongRunningOboKey != "" {
			return ar, authParams, errors.UIRequiredError{
				Code:    errors.OboKeyNotInCache,
				Message: "no cached tokens under the long running process cache key",
			}
		}
		return ar, authParams, errors.UIRequiredError{
			Code:    errors.NoTokensFound,
			Message: "no cached tokens matched the request",
		}
	}
	ar, err = b.redeemRefreshToken(ctx, authParams, silent, storageTokenResponse.RefreshToken)
	return ar, authParams, err
}

// redeemRefreshToken exchanges a cached refresh token for a fresh token
// response and writes the result back to the cache.
func (b Client) redeemRefreshToken(ctx context.Context, authParams authority.AuthParams, silent AcquireTokenSilentParameters, rt accesstokens.RefreshToken) (AuthResult, error) {
	var cc *accesstokens.Credential
	if silent.RequestType == accesstokens.ATConfidential {
		cc = silent.Credential
	}
	token, err := b.Token.Refresh(ctx, silent.RequestType, authParams, cc, rt)
	if err != nil {
		var svc errors.ServiceError
		if errors.As(err, &svc) && svc.SubError == errors.ClientMismatch {
			// this application left its token family. Other members' family
			// refresh tokens stay usable, this app needs the user again.
			return AuthResult{}, errors.UIRequiredError{
				Code:    errors.ClientMismatch,
				Message: "the application is no longer a member of its token family, interactive authentication is required",
				Service: &svc,
			}
		}
		// every other refresh failure (MFA required, revocation, ...) keeps its original code
		return AuthResult{}, err
	}
	return b.AuthResultFromToken(ctx, authParams, token, true)
}

// needsRefresh reports whether the provider asked for the token to be renewed
// ahead of its expiry through the refresh_in hint.
func needsRefresh(at storage.AccessToken) bool {
	return !at.RefreshOn.T.IsZero() && at.RefreshOn.T.Before(time.Now())
}

// brokerFallbackEligible reports whether a silent failure may be retried
// through a configured broker. An explicit long running process cache miss is
// not eligible, it must surface to the caller unchanged.
func brokerFallbackEligible(err error) bool {
	codes := func(code string) bool {
		switch code {
		case errors.InvalidGrant, errors.NoAccountForHint, errors.NoTokensFound:
			return true
		}
		return false
	}
	var ui errors.UIRequiredError
	if errors.As(err, &ui) {
		return codes(ui.Code)
	}
	var svc errors.ServiceError
	if errors.As(err, &svc) {
		return codes(svc.Code)
	}
	return false
}

// AcquireTokenByAuthCode requests a token using the authorization code flow.
func (b Client) AcquireTokenByAuthCode(ctx context.Context, authCodeParams AcquireTokenAuthCodeParameters) (AuthResult, error) {
	authParams, err := b.AuthParams.WithTenant(authCodeParams.TenantID)
	if err != nil {
		return AuthResult{}, err
	}
	authParams.Claims = authCodeParams.Claims
	authParams.Scopes = authCodeParams.Scopes
	authParams.Redirecturi = authCodeParams.RedirectURI
	authParams.AuthorizationType = authority.ATAuthCode
	if err := validateRedirectURI(authParams.Redirecturi); err != nil {
		return AuthResult{}, err
	}

	req, err := accesstokens.NewCodeChallengeRequest(authParams, authCodeParams.AppType, authCodeParams.Credential, authCodeParams.Code, authCodeParams.Challenge)
	if err != nil {
		return AuthResult{}, err
	}

	token, err := b.Token.AuthCode(ctx, req)
	if err != nil {
		return AuthResult{}, err
	}

	return b.AuthResultFromToken(ctx, authParams, token, true)
}

// AcquireTokenOnBehalfOf acquires a security token for an app using middle tier apps access token.
// A long running process passes its explicit cache key instead of (or in
// addition to) the assertion; a lookup-only call, one without an assertion,
// fails when the key isn't cached rather than starting a new exchange.
func (b Client) AcquireTokenOnBehalfOf(ctx context.Context, onBehalfOfParams AcquireTokenOnBehalfOfParameters) (AuthResult, error) {
	var ar AuthResult
	if onBehalfOfParams.UserAssertion == "" && onBehalfOfParams.LongRunningOboKey == "" {
		return ar, errors.NewClientError(errors.InternalError, "AcquireTokenOnBehalfOf requires a user assertion or a long running process cache key")
	}
	if !onBehalfOfParams.SkipCache {
		silentParameters := AcquireTokenSilentParameters{
			Scopes:            onBehalfOfParams.Scopes,
			RequestType:       accesstokens.ATConfidential,
			Credential:        onBehalfOfParams.Credential,
			UserAssertion:     onBehalfOfParams.UserAssertion,
			AuthorizationType: authority.ATOnBehalfOf,
			TenantID:          onBehalfOfParams.TenantID,
			Claims:            onBehalfOfParams.Claims,
			LongRunningOboKey: onBehalfOfParams.LongRunningOboKey,
		}
		ar, err := b.AcquireTokenSilent(ctx, silentParameters)
		if err == nil {
			return ar, nil
		}
		if onBehalfOfParams.UserAssertion == "" {
			// lookup-only long running process call, no assertion to exchange
			return AuthResult{}, err
		}
	}

	authParams, err := b.AuthParams.WithTenant(onBehalfOfParams.TenantID)
	if err != nil {
		return AuthResult{}, err
	}
	authParams.Scopes = onBehalfOfParams.Scopes
	authParams.AuthorizationType = authority.ATOnBehalfOf
	authParams.UserAssertion = onBehalfOfParams.UserAssertion
	authParams.LongRunningOboKey = onBehalfOfParams.LongRunningOboKey
	authParams.Claims = onBehalfOfParams.Claims

	token, err := b.Token.OnBehalfOf(ctx, authParams, onBehalfOfParams.Credential)
	if err == nil {
		ar, err = b.AuthResultFromToken(ctx, authParams, token, true)
	}
	return ar, err
}

// AuthResultFromToken converts a token response into the external result type,
// writing it through the cache when cacheWrite is set. The external cache
// accessor is notified around the write: Replace before, Export after, the
// Export deferred so it runs even when the write fails partway.
func (b Client) AuthResultFromToken(ctx context.Context, authParams authority.AuthParams, token accesstokens.TokenResponse, cacheWrite bool) (AuthResult, error) {
	if !cacheWrite {
		return NewAuthResult(token, shared.Account{})
	}
	m := manager(b.manager)
	if authParams.AuthorizationType == authority.ATOnBehalfOf {
		m = b.pmanager
	}
	key := token.CacheKey(authParams)
	b.cacheAccessorMu.Lock()
	defer b.cacheAccessorMu.Unlock()
	if err := b.cacheAccessor.Replace(ctx, m, cache.ReplaceHints{PartitionKey: key}); err != nil {
		return AuthResult{}, err
	}
	defer func() {
		if err := b.cacheAccessor.Export(ctx, m, cache.ExportHints{PartitionKey: key}); err != nil {
			b.log(ctx, logger.Err, "failed to export the token cache", logger.Field("error", err))
		}
	}()

	account, err := m.Write(authParams, token)
	if err != nil {
		return AuthResult{}, err
	}
	ar, err := NewAuthResult(token, account)
	if err == nil && authParams.AuthnScheme != nil {
		ar.AccessToken, err = authParams.AuthnScheme.FormatAccessToken(ar.AccessToken)
	}
	return ar, err
}

// AllAccounts returns all the accounts in the token cache.
func (b Client) AllAccounts(ctx context.Context) ([]shared.Account, error) {
	b.cacheAccessorMu.RLock()
	defer b.cacheAccessorMu.RUnlock()
	key := b.AuthParams.CacheKey(false)
	if err := b.cacheAccessor.Replace(ctx, b.manager, cache.ReplaceHints{PartitionKey: key}); err != nil {
		return nil, err
	}
	return b.manager.AllAccounts(), nil
}

// Account returns the cached account with the given home account ID, if any.
func (b Client) Account(ctx context.Context, homeAccountID string) (shared.Account, error) {
	b.cacheAccessorMu.RLock()
	defer b.cacheAccessorMu.RUnlock()
	authParams := b.AuthParams // This is a copy, as we don't have a pointer receiver and .AuthParams is not a pointer.
	authParams.AuthorizationType = authority.AccountByID
	authParams.HomeAccountID = homeAccountID
	key := authParams.CacheKey(false)
	if err := b.cacheAccessor.Replace(ctx, b.manager, cache.ReplaceHints{PartitionKey: key}); err != nil {
		return shared.Account{}, err
	}
	return b.manager.Account(homeAccountID), nil
}

// RemoveAccount removes all the ATs, RTs and IDTs from the cache associated with this account.
func (b Client) RemoveAccount(ctx context.Context, account shared.Account) error {
	b.cacheAccessorMu.Lock()
	defer b.cacheAccessorMu.Unlock()
	key := b.AuthParams.CacheKey(false)
	if err := b.cacheAccessor.Replace(ctx, b.manager, cache.ReplaceHints{PartitionKey: key}); err != nil {
		return err
	}
	b.manager.RemoveAccount(account, b.AuthParams.ClientID)
	return b.cacheAccessor.Export(ctx, b.manager, cache.ExportHints{PartitionKey: key})
}

func (b Client) log(ctx context.Context, level logger.Level, msg string, fields ...any) {
	if b.Token != nil && b.Token.Log != nil {
		b.Token.Log.Log(ctx, level, msg, fields...)
	}
}

func toLower(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = strings.ToLower(s[i])
	}
	return s
}

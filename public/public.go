/*
Package public provides a client for authentication of "public" applications. A "public"
application is defined as an app that runs on client devices (android, ios, windows, linux, ...).
These devices are "untrusted" and access resources via web APIs that must authenticate.
*/
package public

/*
Design note:

public.Client uses base.Client as an embedded type. base.Client statically assigns its attributes
during creation. As it doesn't have any pointers in it, anything borrowed from it, such as
Base.AuthParams is a copy that is free to be manipulated here.
*/

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/veralis-id/veralis-go/cache"
	"github.com/veralis-id/veralis-go/errors"
	"github.com/veralis-id/veralis-go/internal/base"
	"github.com/veralis-id/veralis-go/internal/broker"
	"github.com/veralis-id/veralis-go/internal/local"
	"github.com/veralis-id/veralis-go/internal/logger"
	"github.com/veralis-id/veralis-go/internal/oauth"
	"github.com/veralis-id/veralis-go/internal/oauth/ops"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/accesstokens"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/authority"
	"github.com/veralis-id/veralis-go/internal/options"
	"github.com/veralis-id/veralis-go/internal/shared"
)

// AuthResult contains the results of one token acquisition operation.
type AuthResult = base.AuthResult

// AuthenticationScheme is an extensibility mechanism designed to be used only by Azure Arc for proof of possession access tokens.
type AuthenticationScheme = authority.AuthenticationScheme

type AuthResultMetadata = base.AuthResultMetadata

type TokenSource = base.TokenSource

const (
	TokenSourceIdentityProvider = base.TokenSourceIdentityProvider
	TokenSourceCache            = base.TokenSourceCache
	TokenSourceBroker           = base.TokenSourceBroker
)

type Account = shared.Account

// Broker performs token acquisition through a platform authentication broker
// installed on the host. Implementations are supplied by the application with
// [WithBroker], the library never discovers one on its own.
type Broker = broker.Broker

// clientOptions are the settings for New(). These are set by the various Option functions.
type clientOptions struct {
	accessor                 cache.ExportReplace
	authority                string
	broker                   Broker
	capabilities             []string
	disableInstanceDiscovery bool
	httpClient               ops.HTTPClient
	knownAuthorityHosts      []string
	logger                   *slog.Logger
	authnScheme              AuthenticationScheme
}

// Option is an optional argument to the New constructor.
type Option func(o *clientOptions)

// WithAuthority allows for a custom authority to be set. This must be a valid https url.
func WithAuthority(authority string) Option {
	return func(o *clientOptions) {
		o.authority = authority
	}
}

// WithCache provides an accessor that will read and write authentication data to an externally managed cache.
func WithCache(accessor cache.ExportReplace) Option {
	return func(o *clientOptions) {
		o.accessor = accessor
	}
}

// WithClientCapabilities allows the application to declare itself capable of handling features
// the identity provider advertises through claims challenges, for example "CP1".
func WithClientCapabilities(capabilities []string) Option {
	return func(o *clientOptions) {
		// there's no danger of sharing the slice's underlying memory with the application because
		// base.WithClientCapabilities copies its data
		o.capabilities = capabilities
	}
}

// WithHTTPClient allows for a custom HTTP client to be set.
func WithHTTPClient(httpClient ops.HTTPClient) Option {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// WithInstanceDiscovery set to false to disable authority validation (to support private cloud scenarios)
func WithInstanceDiscovery(enabled bool) Option {
	return func(o *clientOptions) {
		o.disableInstanceDiscovery = !enabled
	}
}

// WithKnownAuthorityHosts specifies hosts the client trusts without instance discovery.
func WithKnownAuthorityHosts(hosts []string) Option {
	return func(o *clientOptions) {
		o.knownAuthorityHosts = hosts
	}
}

// WithLogger routes the client's diagnostic output through the given structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// WithBroker lets the client delegate to a platform authentication broker. Silent
// requests fall back to it when the local cache can't serve them and interactive
// requests are handed to it when it reports itself available.
func WithBroker(b Broker) Option {
	return func(o *clientOptions) {
		o.broker = b
	}
}

// WithAuthenticationScheme is an extensibility mechanism designed to be used only by Azure Arc for proof of possession access tokens.
func WithAuthenticationScheme(authnScheme AuthenticationScheme) Option {
	return func(o *clientOptions) {
		o.authnScheme = authnScheme
	}
}

// Client is a representation of authentication client for public applications as defined in the
// package doc. A new Client should be created PER SERVICE USER.
type Client struct {
	base base.Client
}

// New is the constructor for Client.
func New(clientID string, opts ...Option) (Client, error) {
	o := clientOptions{
		authority:  base.AuthorityPublicCloud,
		httpClient: shared.DefaultClient,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = shared.DefaultClient
	}
	if err := validateAuthority(o.authority); err != nil {
		return Client{}, err
	}

	token := oauth.New(o.httpClient, logger.New(o.logger))

	baseOpts := []base.Option{
		base.WithCacheAccessor(o.accessor),
		base.WithClientCapabilities(o.capabilities),
		base.WithInstanceDiscovery(!o.disableInstanceDiscovery),
		base.WithKnownAuthorityHosts(o.knownAuthorityHosts),
	}
	if o.broker != nil {
		baseOpts = append(baseOpts, base.WithBroker(o.broker))
	}
	if o.authnScheme != nil {
		baseOpts = append(baseOpts, base.WithAuthnScheme(o.authnScheme))
	}
	b, err := base.New(clientID, o.authority, token, baseOpts...)
	if err != nil {
		return Client{}, err
	}
	return Client{base: b}, nil
}

func validateAuthority(authorityURI string) error {
	u, err := url.Parse(authorityURI)
	if err != nil {
		return errors.NewClientError(errors.InternalError, "the authority %q does not parse as a valid URL", authorityURI)
	}
	if u.Scheme != "https" {
		return errors.NewClientError(errors.InternalError, "the authority %q does not appear to use https", authorityURI)
	}
	return nil
}

// authCodeURLOptions contains options for AuthCodeURL
type authCodeURLOptions struct {
	claims, loginHint, tenantID, domainHint, prompt string
	extraQueryParameters                            map[string]string
}

// AuthCodeURLOption is implemented by options for AuthCodeURL
type AuthCodeURLOption interface {
	authCodeURLOption()
}

// AuthCodeURL creates a URL used to acquire an authorization code.
//
// Options: [WithClaims], [WithDomainHint], [WithLoginHint], [WithPrompt], [WithExtraQueryParameters], [WithTenantID]
func (pca Client) AuthCodeURL(ctx context.Context, clientID, redirectURI string, scopes []string, opts ...AuthCodeURLOption) (string, error) {
	o := authCodeURLOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return "", err
	}
	ap, err := pca.base.AuthParams.WithTenant(o.tenantID)
	if err != nil {
		return "", err
	}
	ap.Claims = o.claims
	ap.LoginHint = o.loginHint
	ap.DomainHint = o.domainHint
	ap.Prompt = o.prompt
	ap.ExtraQueryParameters = o.extraQueryParameters
	return pca.base.AuthCodeURL(ctx, clientID, redirectURI, scopes, ap)
}

// WithClaims sets additional claims to request for the token, such as those required by conditional access policies.
// Use this option when the identity provider has instructed your application to request a token with additional claims.
// The argument must be decoded claims in JSON format, not the encoded claims challenge from the www-authenticate header.
func WithClaims(claims string) interface {
	AcquireByAuthCodeOption
	AcquireByDeviceCodeOption
	AcquireByIntegratedAuthOption
	AcquireByUsernamePasswordOption
	AcquireInteractiveOption
	AcquireSilentOption
	AuthCodeURLOption
	options.CallOption
} {
	return struct {
		AcquireByAuthCodeOption
		AcquireByDeviceCodeOption
		AcquireByIntegratedAuthOption
		AcquireByUsernamePasswordOption
		AcquireInteractiveOption
		AcquireSilentOption
		AuthCodeURLOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *acquireTokenByAuthCodeOptions:
					t.claims = claims
				case *acquireTokenByDeviceCodeOptions:
					t.claims = claims
				case *acquireTokenByIntegratedAuthOptions:
					t.claims = claims
				case *acquireTokenByUsernamePasswordOptions:
					t.claims = claims
				case *interactiveAuthOptions:
					t.claims = claims
				case *acquireTokenSilentOptions:
					t.claims = claims
				case *authCodeURLOptions:
					t.claims = claims
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// WithTenantID specifies a tenant for a single authentication. It may be different than the
// tenant set in [New] by [WithAuthority].
func WithTenantID(tenantID string) interface {
	AcquireByAuthCodeOption
	AcquireByDeviceCodeOption
	AcquireByIntegratedAuthOption
	AcquireByUsernamePasswordOption
	AcquireInteractiveOption
	AcquireSilentOption
	AuthCodeURLOption
	options.CallOption
} {
	return struct {
		AcquireByAuthCodeOption
		AcquireByDeviceCodeOption
		AcquireByIntegratedAuthOption
		AcquireByUsernamePasswordOption
		AcquireInteractiveOption
		AcquireSilentOption
		AuthCodeURLOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *acquireTokenByAuthCodeOptions:
					t.tenantID = tenantID
				case *acquireTokenByDeviceCodeOptions:
					t.tenantID = tenantID
				case *acquireTokenByIntegratedAuthOptions:
					t.tenantID = tenantID
				case *acquireTokenByUsernamePasswordOptions:
					t.tenantID = tenantID
				case *interactiveAuthOptions:
					t.tenantID = tenantID
				case *acquireTokenSilentOptions:
					t.tenantID = tenantID
				case *authCodeURLOptions:
					t.tenantID = tenantID
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// WithLoginHint pre-populates the login prompt with a username.
func WithLoginHint(username string) interface {
	AcquireInteractiveOption
	AuthCodeURLOption
	options.CallOption
} {
	return struct {
		AcquireInteractiveOption
		AuthCodeURLOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *authCodeURLOptions:
					t.loginHint = username
				case *interactiveAuthOptions:
					t.loginHint = username
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// WithDomainHint adds the IdP domain as domain_hint query parameter in the auth url.
func WithDomainHint(domain string) interface {
	AcquireInteractiveOption
	AuthCodeURLOption
	options.CallOption
} {
	return struct {
		AcquireInteractiveOption
		AuthCodeURLOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *authCodeURLOptions:
					t.domainHint = domain
				case *interactiveAuthOptions:
					t.domainHint = domain
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// WithPrompt specifies the user interaction the authorization page requires, for
// example "select_account" or "consent".
func WithPrompt(prompt string) interface {
	AcquireInteractiveOption
	AuthCodeURLOption
	options.CallOption
} {
	return struct {
		AcquireInteractiveOption
		AuthCodeURLOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *authCodeURLOptions:
					t.prompt = prompt
				case *interactiveAuthOptions:
					t.prompt = prompt
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// WithExtraQueryParameters appends the given parameters to the authorization URL. A key that
// collides with a parameter the library sets itself is an error at call time.
func WithExtraQueryParameters(params map[string]string) interface {
	AuthCodeURLOption
	options.CallOption
} {
	return struct {
		AuthCodeURLOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *authCodeURLOptions:
					t.extraQueryParameters = params
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// acquireTokenSilentOptions are all the optional settings to an AcquireTokenSilent() call.
// These are set by using various AcquireSilentOption functions.
type acquireTokenSilentOptions struct {
	account          Account
	claims, tenantID string
	forceRefresh     bool
}

// AcquireSilentOption is implemented by options for AcquireTokenSilent
type AcquireSilentOption interface {
	acquireSilentOption()
}

// WithSilentAccount uses the passed account during an AcquireTokenSilent() call.
func WithSilentAccount(account Account) interface {
	AcquireSilentOption
	options.CallOption
} {
	return struct {
		AcquireSilentOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *acquireTokenSilentOptions:
					t.account = account
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// WithForceRefresh ignores any cached access token and always requests a new one,
// still writing the result back to the cache.
func WithForceRefresh(forceRefresh bool) interface {
	AcquireSilentOption
	options.CallOption
} {
	return struct {
		AcquireSilentOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *acquireTokenSilentOptions:
					t.forceRefresh = forceRefresh
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// AcquireTokenSilent acquires a token from either the cache or using a refresh token.
//
// Options: [WithClaims], [WithForceRefresh], [WithSilentAccount], [WithTenantID]
func (pca Client) AcquireTokenSilent(ctx context.Context, scopes []string, opts ...AcquireSilentOption) (AuthResult, error) {
	o := acquireTokenSilentOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return AuthResult{}, err
	}

	if o.claims != "" {
		return AuthResult{}, errors.NewClientError(errors.InternalError, "call another AcquireToken method to request a new token having these claims")
	}

	silentParameters := base.AcquireTokenSilentParameters{
		Scopes:       scopes,
		Account:      o.account,
		RequestType:  accesstokens.ATPublic,
		TenantID:     o.tenantID,
		ForceRefresh: o.forceRefresh,
	}

	return pca.base.AcquireTokenSilent(ctx, silentParameters)
}

// acquireTokenByUsernamePasswordOptions contains optional configuration for AcquireTokenByUsernamePassword
type acquireTokenByUsernamePasswordOptions struct {
	claims, tenantID string
}

// AcquireByUsernamePasswordOption is implemented by options for AcquireTokenByUsernamePassword
type AcquireByUsernamePasswordOption interface {
	acquireByUsernamePasswordOption()
}

// AcquireTokenByUsernamePassword acquires a security token from the authority, via Username/Password Authentication.
// NOTE: this flow is NOT recommended.
//
// Options: [WithClaims], [WithTenantID]
func (pca Client) AcquireTokenByUsernamePassword(ctx context.Context, scopes []string, username, password string, opts ...AcquireByUsernamePasswordOption) (AuthResult, error) {
	o := acquireTokenByUsernamePasswordOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return AuthResult{}, err
	}
	authParams, err := pca.base.AuthParams.WithTenant(o.tenantID)
	if err != nil {
		return AuthResult{}, err
	}
	authParams.Scopes = scopes
	authParams.AuthorizationType = authority.ATUsernamePassword
	authParams.Claims = o.claims
	authParams.Username = username
	authParams.Password = password

	token, err := pca.base.Token.UsernamePassword(ctx, authParams)
	if err != nil {
		return AuthResult{}, err
	}
	return pca.base.AuthResultFromToken(ctx, authParams, token, true)
}

// acquireTokenByIntegratedAuthOptions contains optional configuration for AcquireTokenByIntegratedWindowsAuth
type acquireTokenByIntegratedAuthOptions struct {
	claims, tenantID string
}

// AcquireByIntegratedAuthOption is implemented by options for AcquireTokenByIntegratedWindowsAuth
type AcquireByIntegratedAuthOption interface {
	acquireByIntegratedAuthOption()
}

// AcquireTokenByIntegratedWindowsAuth acquires a security token using the ambient identity of
// the transport. The user must belong to a federated realm, the federation service proves the
// identity and issues the SAML grant without a password ever being sent.
//
// Options: [WithClaims], [WithTenantID]
func (pca Client) AcquireTokenByIntegratedWindowsAuth(ctx context.Context, scopes []string, username string, opts ...AcquireByIntegratedAuthOption) (AuthResult, error) {
	o := acquireTokenByIntegratedAuthOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return AuthResult{}, err
	}
	authParams, err := pca.base.AuthParams.WithTenant(o.tenantID)
	if err != nil {
		return AuthResult{}, err
	}
	authParams.Scopes = scopes
	authParams.AuthorizationType = authority.ATWindowsIntegrated
	authParams.Claims = o.claims
	authParams.Username = username

	token, err := pca.base.Token.IntegratedWindowsAuth(ctx, authParams)
	if err != nil {
		return AuthResult{}, err
	}
	return pca.base.AuthResultFromToken(ctx, authParams, token, true)
}

type DeviceCodeResult = accesstokens.DeviceCodeResult

// DeviceCode provides the results of the device code flows first stage (containing the code)
// that must be entered on the second device and provides a method to retrieve the AuthenticationResult
// once that code has been entered and verified.
type DeviceCode struct {
	// Result holds the information about the device code (such as the code).
	Result DeviceCodeResult

	authParams authority.AuthParams
	client     Client
	dc         oauth.DeviceCode
}

// AuthenticationResult retrieves the AuthenticationResult once the user enters the code
// on the second device. Until then it blocks until the .AcquireTokenByDeviceCode() context
// is cancelled or the token expires.
func (d DeviceCode) AuthenticationResult(ctx context.Context) (AuthResult, error) {
	token, err := d.dc.Token(ctx)
	if err != nil {
		return AuthResult{}, err
	}
	return d.client.base.AuthResultFromToken(ctx, d.authParams, token, true)
}

// acquireTokenByDeviceCodeOptions contains optional configuration for AcquireTokenByDeviceCode
type acquireTokenByDeviceCodeOptions struct {
	claims, tenantID string
}

// AcquireByDeviceCodeOption is implemented by options for AcquireTokenByDeviceCode
type AcquireByDeviceCodeOption interface {
	acquireByDeviceCodeOption()
}

// AcquireTokenByDeviceCode acquires a security token from the authority, by acquiring a device code and using that to acquire the token.
// Users need to create an AcquireTokenDeviceCodeParameters instance and pass it in.
//
// Options: [WithClaims], [WithTenantID]
func (pca Client) AcquireTokenByDeviceCode(ctx context.Context, scopes []string, opts ...AcquireByDeviceCodeOption) (DeviceCode, error) {
	o := acquireTokenByDeviceCodeOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return DeviceCode{}, err
	}
	authParams, err := pca.base.AuthParams.WithTenant(o.tenantID)
	if err != nil {
		return DeviceCode{}, err
	}
	authParams.Scopes = scopes
	authParams.AuthorizationType = authority.ATDeviceCode
	authParams.Claims = o.claims

	dc, err := pca.base.Token.DeviceCode(ctx, authParams)
	if err != nil {
		return DeviceCode{}, err
	}

	return DeviceCode{Result: dc.Result, authParams: authParams, client: pca, dc: dc}, nil
}

// acquireTokenByAuthCodeOptions contains the optional parameters used to acquire an access token using the authorization code flow.
type acquireTokenByAuthCodeOptions struct {
	challenge, claims, tenantID string
}

// AcquireByAuthCodeOption is implemented by options for AcquireTokenByAuthCode
type AcquireByAuthCodeOption interface {
	acquireByAuthCodeOption()
}

// WithChallenge allows you to provide a PKCE code verifier for the .AcquireTokenByAuthCode() call.
func WithChallenge(challenge string) interface {
	AcquireByAuthCodeOption
	options.CallOption
} {
	return struct {
		AcquireByAuthCodeOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *acquireTokenByAuthCodeOptions:
					t.challenge = challenge
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// AcquireTokenByAuthCode is a request to acquire a security token from the authority, using an authorization code.
// The specified redirect URI must be the same URI that was used when the authorization code was requested.
//
// Options: [WithChallenge], [WithClaims], [WithTenantID]
func (pca Client) AcquireTokenByAuthCode(ctx context.Context, code string, redirectURI string, scopes []string, opts ...AcquireByAuthCodeOption) (AuthResult, error) {
	o := acquireTokenByAuthCodeOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return AuthResult{}, err
	}

	params := base.AcquireTokenAuthCodeParameters{
		Scopes:      scopes,
		Code:        code,
		Challenge:   o.challenge,
		Claims:      o.claims,
		AppType:     accesstokens.ATPublic,
		RedirectURI: redirectURI,
		TenantID:    o.tenantID,
	}

	return pca.base.AcquireTokenByAuthCode(ctx, params)
}

// interactiveAuthOptions contains the optional parameters used to acquire an access token for interactive auth code flow.
type interactiveAuthOptions struct {
	claims, domainHint, loginHint, prompt, redirectURI, tenantID string
	openURL                                                      func(url string) error
	successPage, errorPage                                       []byte
}

// AcquireInteractiveOption is implemented by options for AcquireTokenInteractive
type AcquireInteractiveOption interface {
	acquireInteractiveOption()
}

// WithRedirectURI sets a port for the local server the interactive flow listens on. The URI
// must match a loopback redirect URI registered for the application, for example
// "http://localhost:8080". When unset a random port is chosen.
func WithRedirectURI(redirectURI string) interface {
	AcquireInteractiveOption
	options.CallOption
} {
	return struct {
		AcquireInteractiveOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *interactiveAuthOptions:
					t.redirectURI = redirectURI
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// WithOpenURL allows you to provide a function to open the browser to complete the interactive login, instead of launching the system default browser.
func WithOpenURL(openURL func(url string) error) interface {
	AcquireInteractiveOption
	options.CallOption
} {
	return struct {
		AcquireInteractiveOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *interactiveAuthOptions:
					t.openURL = openURL
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// WithSuccessPage replaces the HTML page the local redirect server shows the user after a
// successful login.
func WithSuccessPage(page []byte) interface {
	AcquireInteractiveOption
	options.CallOption
} {
	return struct {
		AcquireInteractiveOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *interactiveAuthOptions:
					t.successPage = page
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// WithErrorPage replaces the HTML page the local redirect server shows the user after a failed
// login. The placeholders {{.Code}} and {{.Err}} receive the provider's error code and description.
func WithErrorPage(page []byte) interface {
	AcquireInteractiveOption
	options.CallOption
} {
	return struct {
		AcquireInteractiveOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *interactiveAuthOptions:
					t.errorPage = page
				default:
					return errors.NewClientError(errors.InternalError, "unexpected options type %T", a)
				}
				return nil
			},
			nil,
		),
	}
}

// AcquireTokenInteractive acquires a security token from the authority using the default web
// browser to select the account. When a broker is configured and available on the host the
// interaction is delegated to it instead.
//
// Options: [WithDomainHint], [WithLoginHint], [WithOpenURL], [WithPrompt], [WithRedirectURI], [WithTenantID], [WithClaims]
func (pca Client) AcquireTokenInteractive(ctx context.Context, scopes []string, opts ...AcquireInteractiveOption) (AuthResult, error) {
	o := interactiveAuthOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return AuthResult{}, err
	}

	authParams, err := pca.base.AuthParams.WithTenant(o.tenantID)
	if err != nil {
		return AuthResult{}, err
	}
	authParams.Scopes = scopes
	authParams.AuthorizationType = authority.ATInteractive
	authParams.Claims = o.claims
	authParams.LoginHint = o.loginHint
	authParams.DomainHint = o.domainHint
	authParams.Prompt = "select_account"
	if o.prompt != "" {
		authParams.Prompt = o.prompt
	}

	if pca.base.Broker != nil && pca.base.Broker.Available(ctx) {
		token, err := pca.base.Broker.AcquireTokenInteractive(ctx, authParams)
		if err != nil {
			return AuthResult{}, err
		}
		ar, err := pca.base.AuthResultFromToken(ctx, authParams, token, true)
		if err != nil {
			return AuthResult{}, err
		}
		ar.Metadata.TokenSource = TokenSourceBroker
		return ar, nil
	}

	// the code verifier is a random 32-byte sequence that's been base-64 encoded without padding.
	// it verifies the identity of the client to the token exchange endpoint.
	cv, challenge, err := codeVerifier()
	if err != nil {
		return AuthResult{}, err
	}
	var redirectURL *url.URL
	if o.redirectURI != "" {
		redirectURL, err = url.Parse(o.redirectURI)
		if err != nil {
			return AuthResult{}, errors.NewClientError(errors.InvalidRedirectURI, "the redirect uri %q does not parse as a valid URL", o.redirectURI)
		}
	}
	authParams.CodeChallenge = challenge
	authParams.CodeChallengeMethod = "S256"
	authParams.State = uuid.New().String()

	res, err := pca.browserLogin(ctx, redirectURL, authParams, o)
	if err != nil {
		return AuthResult{}, err
	}
	authParams.Redirecturi = res.redirectURI

	if res.appLink != "" {
		if pca.base.Broker == nil {
			return AuthResult{}, errors.NewClientError(errors.BrokerRequired, "the identity provider requires a platform broker to redeem this authorization code and none is configured")
		}
		token, err := pca.base.Broker.ExchangeAuthCode(ctx, authParams, res.authCode)
		if err != nil {
			return AuthResult{}, err
		}
		ar, err := pca.base.AuthResultFromToken(ctx, authParams, token, true)
		if err != nil {
			return AuthResult{}, err
		}
		ar.Metadata.TokenSource = TokenSourceBroker
		return ar, nil
	}

	req, err := accesstokens.NewCodeChallengeRequest(authParams, accesstokens.ATPublic, nil, res.authCode, cv)
	if err != nil {
		return AuthResult{}, err
	}
	token, err := pca.base.Token.AuthCode(ctx, req)
	if err != nil {
		return AuthResult{}, err
	}
	return pca.base.AuthResultFromToken(ctx, authParams, token, true)
}

type interactiveAuthResult struct {
	authCode    string
	redirectURI string
	appLink     string
}

// parses the port number from the provided URL.
// returns 0 if nil or no port is specified.
func parsePort(u *url.URL) (int, error) {
	if u == nil {
		return 0, nil
	}
	p := u.Port()
	if p == "" {
		return 0, nil
	}
	return strconv.Atoi(p)
}

// browserLogin launches the system browser for interactive login and waits for the redirect.
func (pca Client) browserLogin(ctx context.Context, redirectURI *url.URL, params authority.AuthParams, o interactiveAuthOptions) (interactiveAuthResult, error) {
	// start local redirect server so login can call us back
	port, err := parsePort(redirectURI)
	if err != nil {
		return interactiveAuthResult{}, err
	}
	srv, err := local.New(params.State, port, o.successPage, o.errorPage)
	if err != nil {
		return interactiveAuthResult{}, err
	}
	defer srv.Shutdown()
	authURL, err := pca.base.AuthCodeURL(ctx, params.ClientID, srv.Addr, params.Scopes, params)
	if err != nil {
		return interactiveAuthResult{}, err
	}
	// open browser window so user can select credentials
	openURL := browser.OpenURL
	if o.openURL != nil {
		openURL = o.openURL
	}
	if err := openURL(authURL); err != nil {
		return interactiveAuthResult{}, err
	}
	// now wait until the logic calls us back
	res := srv.Result(ctx)
	if res.Err != nil {
		return interactiveAuthResult{}, res.Err
	}
	return interactiveAuthResult{
		authCode:    res.Code,
		redirectURI: srv.Addr,
		appLink:     res.AppLink,
	}, nil
}

func codeVerifier() (codeVerifier string, challenge string, err error) {
	cvBytes := make([]byte, 32)
	if _, err = rand.Read(cvBytes); err != nil {
		return
	}
	codeVerifier = base64.RawURLEncoding.EncodeToString(cvBytes)
	// for PKCE, create a hash of the code verifier
	cvh := sha256.Sum256([]byte(codeVerifier))
	challenge = base64.RawURLEncoding.EncodeToString(cvh[:])
	return codeVerifier, challenge, nil
}

// Accounts gets all the accounts in the token cache.
// If there are no accounts in the cache the returned slice is empty.
func (pca Client) Accounts(ctx context.Context) ([]Account, error) {
	return pca.base.AllAccounts(ctx)
}

// RemoveAccount signs the account out and forgets account from token cache.
func (pca Client) RemoveAccount(ctx context.Context, account Account) error {
	return pca.base.RemoveAccount(ctx, account)
}

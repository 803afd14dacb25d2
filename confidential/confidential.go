/*
Package confidential provides a client for authentication of "confidential" applications.
A "confidential" application is defined as an app that run on servers. They are considered
difficult to access and for that reason capable of keeping an application secret.
Confidential clients can hold configuration-time secrets.
*/
package confidential

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"log/slog"
	"net/url"

	"github.com/veralis-id/veralis-go/cache"
	"github.com/veralis-id/veralis-go/errors"
	"github.com/veralis-id/veralis-go/internal/base"
	"github.com/veralis-id/veralis-go/internal/exported"
	"github.com/veralis-id/veralis-go/internal/logger"
	"github.com/veralis-id/veralis-go/internal/oauth"
	"github.com/veralis-id/veralis-go/internal/oauth/ops"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/accesstokens"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/authority"
	"github.com/veralis-id/veralis-go/internal/options"
	"github.com/veralis-id/veralis-go/internal/shared"
	"golang.org/x/crypto/pkcs12"
)

/*
Design note:

confidential.Client uses base.Client as an embedded type. base.Client statically assigns its attributes
during creation. As it doesn't have any pointers in it, anything borrowed from it, such as
Base.AuthParams is a copy that is free to be manipulated here.

Duplicate Calls shared between public.Client and this package:
There is some duplicate call options provided here that are the same as in public.Client . This
is a design choices. Go proverb(https://www.youtube.com/watch?v=PAAkCSZUG1c&t=9m28s):
"a little copying is better than a little dependency". Yes, we could have another package with
shared options (fail).  That divides like 2 options from all others which makes the user look
through more docs.  We can have all clients in one package, but I think separate packages
here makes for better naming (public.Client vs client.PublicClient).  So I chose a little
duplication.
*/

// AuthResult contains the results of one token acquisition operation.
type AuthResult = base.AuthResult

// AuthenticationScheme is an extensibility mechanism designed to be used only by Azure Arc for proof of possession access tokens.
type AuthenticationScheme = authority.AuthenticationScheme

type AuthResultMetadata = base.AuthResultMetadata

type TokenSource = base.TokenSource

const (
	TokenSourceIdentityProvider = base.TokenSourceIdentityProvider
	TokenSourceCache            = base.TokenSourceCache
)

type Account = shared.Account

// CertFromPEM converts a PEM file (.pem or .key) for use with NewCredFromCert(). The file
// must contain the public certificate and the private key. If a PEM block is encrypted and
// password is not an empty string, it attempts to decrypt the PEM blocks using the password.
// Multiple certs are due to certificate chaining for use cases like TLS that sign from root to leaf.
func CertFromPEM(pemData []byte, password string) ([]*x509.Certificate, crypto.PrivateKey, error) {
	var certs []*x509.Certificate
	var priv crypto.PrivateKey
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}

		//nolint:staticcheck // x509.IsEncryptedPEMBlock and x509.DecryptPEMBlock are deprecated. They are used here only to support a usecase.
		if x509.IsEncryptedPEMBlock(block) {
			//nolint:staticcheck
			b, err := x509.DecryptPEMBlock(block, []byte(password))
			if err != nil {
				return nil, nil, errors.NewClientError(errors.InternalError, "could not decrypt encrypted PEM block: %v", err)
			}
			block, _ = pem.Decode(b)
			if block == nil {
				return nil, nil, errors.NewClientError(errors.InternalError, "encountered encrypted PEM block that did not decode")
			}
		}

		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, errors.NewClientError(errors.InternalError, "block labelled 'CERTIFICATE' could not be parsed by x509: %v", err)
			}
			certs = append(certs, cert)
		case "PRIVATE KEY":
			if priv != nil {
				return nil, nil, errors.NewClientError(errors.InternalError, "found multiple private key blocks")
			}

			var err error
			priv, err = x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, errors.NewClientError(errors.InternalError, "could not decode private key: %v", err)
			}
		case "RSA PRIVATE KEY":
			if priv != nil {
				return nil, nil, errors.NewClientError(errors.InternalError, "found multiple private key blocks")
			}
			var err error
			priv, err = x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, errors.NewClientError(errors.InternalError, "could not decode private key: %v", err)
			}
		}
		pemData = rest
	}

	if len(certs) == 0 {
		return nil, nil, errors.NewClientError(errors.InternalError, "no certificates found")
	}

	if priv == nil {
		return nil, nil, errors.NewClientError(errors.InternalError, "no private key found")
	}

	return certs, priv, nil
}

// CertFromPKCS12 converts a PKCS#12 archive (.pfx or .p12) for use with NewCredFromCert().
// The archive must contain the certificate and its private key, and may contain the issuing
// chain. If password is not an empty string it is used to decrypt the archive.
func CertFromPKCS12(pfxData []byte, password string) ([]*x509.Certificate, crypto.PrivateKey, error) {
	blocks, err := pkcs12.ToPEM(pfxData, password)
	if err != nil {
		return nil, nil, errors.NewClientError(errors.InternalError, "could not decode PKCS#12 archive: %v", err)
	}
	var pemData []byte
	for _, b := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(b)...)
	}

	var certs []*x509.Certificate
	var priv crypto.PrivateKey
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, errors.NewClientError(errors.InternalError, "certificate in PKCS#12 archive could not be parsed: %v", err)
			}
			certs = append(certs, cert)
		default:
			if priv != nil {
				continue
			}
			if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
				priv = key
			} else if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
				priv = key
			}
		}
		pemData = rest
	}

	if len(certs) == 0 {
		return nil, nil, errors.NewClientError(errors.InternalError, "no certificates found in PKCS#12 archive")
	}
	if priv == nil {
		return nil, nil, errors.NewClientError(errors.InternalError, "no private key found in PKCS#12 archive")
	}
	return certs, priv, nil
}

// AssertionRequestOptions has required information for client assertion claims
type AssertionRequestOptions = exported.AssertionRequestOptions

// Credential represents the credential used in confidential client flows.
type Credential struct {
	secret string

	cert              *x509.Certificate
	key               crypto.PrivateKey
	x5c               []string
	useSHA1Thumbprint bool

	assertionCallback func(context.Context, AssertionRequestOptions) (string, error)
}

// toInternal returns the accesstokens.Credential that is used internally. The current structure of the
// code requires that confidential.go and the request plumbing share a credential type without
// having import recursion. That requires the type used between is in a shared package. Therefore
// we have this.
func (c Credential) toInternal() (*accesstokens.Credential, error) {
	if c.secret != "" {
		return &accesstokens.Credential{Secret: c.secret}, nil
	}
	if c.cert != nil {
		if c.key == nil {
			return nil, errors.NewClientError(errors.InternalError, "credential created with a certificate but no private key")
		}
		return &accesstokens.Credential{Cert: c.cert, Key: c.key, X5c: c.x5c, UseSHA1Thumbprint: c.useSHA1Thumbprint}, nil
	}
	if c.assertionCallback != nil {
		return &accesstokens.Credential{AssertionCallback: c.assertionCallback}, nil
	}
	return nil, errors.NewClientError(errors.InternalError, "invalid credential")
}

// NewCredFromSecret creates a Credential from a secret.
func NewCredFromSecret(secret string) (Credential, error) {
	if secret == "" {
		return Credential{}, errors.NewClientError(errors.InternalError, "secret can't be empty string")
	}
	return Credential{secret: secret}, nil
}

// NewCredFromAssertionCallback creates a Credential that invokes a callback to get assertions
// authenticating the application. The callback must be thread safe.
func NewCredFromAssertionCallback(callback func(context.Context, AssertionRequestOptions) (string, error)) Credential {
	return Credential{assertionCallback: callback}
}

// CredOption adjusts how a certificate Credential builds its client assertion.
type CredOption func(*Credential)

// WithSHA1Thumbprint identifies the certificate in client assertions by its
// SHA-1 thumbprint ("x5t" JWT header) instead of the default SHA-256
// thumbprint ("x5t#S256"), for authorities that only index certificates by
// SHA-1.
func WithSHA1Thumbprint() CredOption {
	return func(c *Credential) {
		c.useSHA1Thumbprint = true
	}
}

// NewCredFromCert creates a Credential from a certificate or chain of certificates and an RSA private key
// as returned by [CertFromPEM] or [CertFromPKCS12].
func NewCredFromCert(certs []*x509.Certificate, key crypto.PrivateKey, opts ...CredOption) (Credential, error) {
	cred := Credential{key: key}
	for _, o := range opts {
		o(&cred)
	}
	k, ok := key.(*rsa.PrivateKey)
	if !ok {
		return cred, errors.NewClientError(errors.InternalError, "unsupported key type (must be *rsa.PrivateKey)")
	}
	for _, cert := range certs {
		if cert == nil {
			continue
		}
		certKey, ok := cert.PublicKey.(*rsa.PublicKey)
		if ok && k.E == certKey.E && k.N.Cmp(certKey.N) == 0 {
			// signing cert found, add it and any chain certs after it
			cred.cert = cert
		}
		if cred.cert != nil {
			cred.x5c = append(cred.x5c, base64.StdEncoding.EncodeToString(cert.Raw))
		}
	}
	if cred.cert == nil {
		return cred, errors.NewClientError(errors.InternalError, "key doesn't match any certificate")
	}
	return cred, nil
}

// AutoDetectRegion instructs the client to try to auto-detect the Azure region it runs in.
func AutoDetectRegion() string {
	return "TryAutoDetect"
}

// Client is a representation of authentication client for confidential applications as defined in the
// package doc. A new Client should be created PER SERVICE USER.
type Client struct {
	base base.Client
	cred *accesstokens.Credential
}

// clientOptions are the settings for New(). These are set by the various Option functions.
type clientOptions struct {
	accessor                 cache.ExportReplace
	azureRegion              string
	capabilities             []string
	disableInstanceDiscovery bool
	httpClient               ops.HTTPClient
	logger                   *slog.Logger
	sendX5C                  bool
	mtlsProofOfPossession    bool
	authnScheme              AuthenticationScheme
}

// Option is an optional argument to New().
type Option func(o *clientOptions)

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

// WithX5C specifies if x5c claim(public key of the certificate) should be sent to STS to enable Subject Name Issuer Authentication.
func WithX5C() Option {
	return func(o *clientOptions) {
		o.sendX5C = true
	}
}

// WithAzureRegion sets the region(preferred) or Detect the region(Auto detect) for token requests.
// This feature is available only for confidential clients using client credentials.
func WithAzureRegion(val string) Option {
	return func(o *clientOptions) {
		o.azureRegion = val
	}
}

// WithInstanceDiscovery set to false to disable authority validation (to support private cloud scenarios)
func WithInstanceDiscovery(enabled bool) Option {
	return func(o *clientOptions) {
		o.disableInstanceDiscovery = !enabled
	}
}

// WithLogger routes the client's diagnostic output through the given structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// WithMTLSProofOfPossession binds issued tokens to the credential's certificate by presenting
// it on the TLS handshake of every token request. Requires a certificate credential and a
// regional endpoint configured with WithAzureRegion.
func WithMTLSProofOfPossession() Option {
	return func(o *clientOptions) {
		o.mtlsProofOfPossession = true
	}
}

// WithAuthenticationScheme is an extensibility mechanism designed to be used only by Azure Arc for proof of possession access tokens.
func WithAuthenticationScheme(authnScheme AuthenticationScheme) Option {
	return func(o *clientOptions) {
		o.authnScheme = authnScheme
	}
}

// New is the constructor for Client. authority is the URL of a token authority such as
// "https://login.microsoftonline.com/<your tenant>". If the Client will connect directly to AD FS,
// use "adfs" for the tenant. clientID is the application's client ID (also called its
// "application ID").
func New(authorityURI, clientID string, cred Credential, opts ...Option) (Client, error) {
	internalCred, err := cred.toInternal()
	if err != nil {
		return Client{}, err
	}

	o := clientOptions{httpClient: shared.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = shared.DefaultClient
	}
	if err := validateAuthority(authorityURI); err != nil {
		return Client{}, err
	}

	log := logger.New(o.logger)
	var token *oauth.Client
	if o.mtlsProofOfPossession {
		if internalCred.Cert == nil {
			return Client{}, errors.NewClientError(errors.MtlsCertificateNotProvided, "mTLS proof of possession requires a certificate credential")
		}
		if o.azureRegion == "" {
			// Only AAD authorities route through regional endpoints. AD FS
			// terminates TLS itself and has no region to name.
			info, err := authority.NewInfoFromAuthorityURI(authorityURI, true, false)
			if err != nil {
				return Client{}, err
			}
			if info.AuthorityType == authority.AAD {
				return Client{}, errors.NewClientError(errors.RegionRequiredForMtlsPop, "mTLS proof of possession against an AAD authority requires a regional endpoint, use WithAzureRegion")
			}
		}
		internalCred.MTLSProofOfPossession = true
		token = oauth.NewWithRest(ops.NewWithCert(internalCred.Cert, internalCred.Key), log)
	} else {
		token = oauth.New(o.httpClient, log)
	}

	baseOpts := []base.Option{
		base.WithCacheAccessor(o.accessor),
		base.WithClientCapabilities(o.capabilities),
		base.WithInstanceDiscovery(!o.disableInstanceDiscovery),
		base.WithRegionDetection(o.azureRegion),
		base.WithX5C(o.sendX5C),
	}
	if o.authnScheme != nil {
		baseOpts = append(baseOpts, base.WithAuthnScheme(o.authnScheme))
	}
	b, err := base.New(clientID, authorityURI, token, baseOpts...)
	if err != nil {
		return Client{}, err
	}
	b.AuthParams.IsConfidentialClient = true

	return Client{base: b, cred: internalCred}, nil
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
func (cca Client) AuthCodeURL(ctx context.Context, clientID, redirectURI string, scopes []string, opts ...AuthCodeURLOption) (string, error) {
	o := authCodeURLOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return "", err
	}
	ap, err := cca.base.AuthParams.WithTenant(o.tenantID)
	if err != nil {
		return "", err
	}
	ap.Claims = o.claims
	ap.LoginHint = o.loginHint
	ap.DomainHint = o.domainHint
	ap.Prompt = o.prompt
	ap.ExtraQueryParameters = o.extraQueryParameters
	return cca.base.AuthCodeURL(ctx, clientID, redirectURI, scopes, ap)
}

// WithLoginHint pre-populates the login prompt with a username.
func WithLoginHint(username string) interface {
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

// WithClaims sets additional claims to request for the token, such as those required by conditional access policies.
// Use this option when the identity provider has instructed your application to request a token with additional claims.
// The argument must be decoded claims in JSON format, not the encoded claims challenge from the www-authenticate header.
func WithClaims(claims string) interface {
	AcquireByAuthCodeOption
	AcquireByCredentialOption
	AcquireOnBehalfOfOption
	AcquireSilentOption
	AuthCodeURLOption
	options.CallOption
} {
	return struct {
		AcquireByAuthCodeOption
		AcquireByCredentialOption
		AcquireOnBehalfOfOption
		AcquireSilentOption
		AuthCodeURLOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *acquireTokenByAuthCodeOptions:
					t.claims = claims
				case *acquireTokenByCredentialOptions:
					t.claims = claims
				case *acquireTokenOnBehalfOfOptions:
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
// tenant set in [New].
func WithTenantID(tenantID string) interface {
	AcquireByAuthCodeOption
	AcquireByCredentialOption
	AcquireOnBehalfOfOption
	AcquireSilentOption
	AuthCodeURLOption
	options.CallOption
} {
	return struct {
		AcquireByAuthCodeOption
		AcquireByCredentialOption
		AcquireOnBehalfOfOption
		AcquireSilentOption
		AuthCodeURLOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *acquireTokenByAuthCodeOptions:
					t.tenantID = tenantID
				case *acquireTokenByCredentialOptions:
					t.tenantID = tenantID
				case *acquireTokenOnBehalfOfOptions:
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
	AcquireByCredentialOption
	AcquireSilentOption
	options.CallOption
} {
	return struct {
		AcquireByCredentialOption
		AcquireSilentOption
		options.CallOption
	}{
		CallOption: options.NewCallOption(
			func(a any) error {
				switch t := a.(type) {
				case *acquireTokenByCredentialOptions:
					t.forceRefresh = forceRefresh
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
func (cca Client) AcquireTokenSilent(ctx context.Context, scopes []string, opts ...AcquireSilentOption) (AuthResult, error) {
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
		RequestType:  accesstokens.ATConfidential,
		Credential:   cca.cred,
		IsAppCache:   o.account.IsZero(),
		TenantID:     o.tenantID,
		ForceRefresh: o.forceRefresh,
	}

	return cca.base.AcquireTokenSilent(ctx, silentParameters)
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
func (cca Client) AcquireTokenByAuthCode(ctx context.Context, code string, redirectURI string, scopes []string, opts ...AcquireByAuthCodeOption) (AuthResult, error) {
	o := acquireTokenByAuthCodeOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return AuthResult{}, err
	}

	params := base.AcquireTokenAuthCodeParameters{
		Scopes:      scopes,
		Code:        code,
		Challenge:   o.challenge,
		Claims:      o.claims,
		AppType:     accesstokens.ATConfidential,
		Credential:  cca.cred, // This setting differs from public.Client.AcquireTokenByAuthCode
		RedirectURI: redirectURI,
		TenantID:    o.tenantID,
	}

	return cca.base.AcquireTokenByAuthCode(ctx, params)
}

// acquireTokenByCredentialOptions contains optional configuration for AcquireTokenByCredential
type acquireTokenByCredentialOptions struct {
	claims, tenantID string
	forceRefresh     bool
}

// AcquireByCredentialOption is implemented by options for AcquireTokenByCredential
type AcquireByCredentialOption interface {
	acquireByCredentialOption()
}

// AcquireTokenByCredential acquires a security token from the authority, using the client credentials grant.
// The cache is consulted first, pass [WithForceRefresh] or [WithClaims] to skip it.
//
// Options: [WithClaims], [WithForceRefresh], [WithTenantID]
func (cca Client) AcquireTokenByCredential(ctx context.Context, scopes []string, opts ...AcquireByCredentialOption) (AuthResult, error) {
	o := acquireTokenByCredentialOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return AuthResult{}, err
	}

	if o.claims == "" && !o.forceRefresh {
		silentParameters := base.AcquireTokenSilentParameters{
			Scopes:      scopes,
			RequestType: accesstokens.ATConfidential,
			Credential:  cca.cred,
			IsAppCache:  true,
			TenantID:    o.tenantID,
		}
		ar, err := cca.base.AcquireTokenSilent(ctx, silentParameters)
		if err == nil {
			return ar, nil
		}
	}

	authParams, err := cca.base.AuthParams.WithTenant(o.tenantID)
	if err != nil {
		return AuthResult{}, err
	}
	authParams.Scopes = scopes
	authParams.AuthorizationType = authority.ATClientCredentials
	authParams.Claims = o.claims
	token, err := cca.base.Token.Credential(ctx, authParams, cca.cred)
	if err != nil {
		return AuthResult{}, err
	}
	return cca.base.AuthResultFromToken(ctx, authParams, token, true)
}

// acquireTokenOnBehalfOfOptions contains optional configuration for AcquireTokenOnBehalfOf
type acquireTokenOnBehalfOfOptions struct {
	claims, tenantID string
}

// AcquireOnBehalfOfOption is implemented by options for AcquireTokenOnBehalfOf
type AcquireOnBehalfOfOption interface {
	acquireOnBehalfOfOption()
}

// AcquireTokenOnBehalfOf acquires a security token for an app using middle tier apps access token.
// Refer https://docs.microsoft.com/en-us/azure/active-directory/develop/v2-oauth2-on-behalf-of-flow.
//
// Options: [WithClaims], [WithTenantID]
func (cca Client) AcquireTokenOnBehalfOf(ctx context.Context, userAssertion string, scopes []string, opts ...AcquireOnBehalfOfOption) (AuthResult, error) {
	o := acquireTokenOnBehalfOfOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return AuthResult{}, err
	}
	params := base.AcquireTokenOnBehalfOfParameters{
		Scopes:        scopes,
		UserAssertion: userAssertion,
		Claims:        o.claims,
		Credential:    cca.cred,
		TenantID:      o.tenantID,
		SkipCache:     o.claims != "",
	}
	return cca.base.AcquireTokenOnBehalfOf(ctx, params)
}

// InitiateLongRunningProcess exchanges the user assertion for tokens cached under the given key
// so a long running process can renew them later without the assertion. An empty key selects the
// default, the hash of the assertion, and the chosen key is returned either way. The cache for
// the key is always overwritten.
//
// Options: [WithClaims], [WithTenantID]
func (cca Client) InitiateLongRunningProcess(ctx context.Context, userAssertion string, scopes []string, key string, opts ...AcquireOnBehalfOfOption) (AuthResult, string, error) {
	o := acquireTokenOnBehalfOfOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return AuthResult{}, "", err
	}
	if userAssertion == "" {
		return AuthResult{}, "", errors.NewClientError(errors.InternalError, "InitiateLongRunningProcess requires a user assertion")
	}
	if key == "" {
		key = authority.AuthParams{UserAssertion: userAssertion}.AssertionHash()
	}
	params := base.AcquireTokenOnBehalfOfParameters{
		Scopes:            scopes,
		UserAssertion:     userAssertion,
		Claims:            o.claims,
		Credential:        cca.cred,
		TenantID:          o.tenantID,
		LongRunningOboKey: key,
		SkipCache:         true,
	}
	ar, err := cca.base.AcquireTokenOnBehalfOf(ctx, params)
	if err != nil {
		return AuthResult{}, "", err
	}
	return ar, key, nil
}

// AcquireTokenByLongRunningProcess returns a token for the key chosen by [Client.InitiateLongRunningProcess],
// refreshing it when necessary. When the key holds no tokens the call fails with an
// obo_cache_key_not_in_cache error, it never starts a new on-behalf-of exchange.
//
// Options: [WithClaims], [WithTenantID]
func (cca Client) AcquireTokenByLongRunningProcess(ctx context.Context, key string, scopes []string, opts ...AcquireOnBehalfOfOption) (AuthResult, error) {
	o := acquireTokenOnBehalfOfOptions{}
	if err := options.ApplyOptions(&o, opts); err != nil {
		return AuthResult{}, err
	}
	if key == "" {
		return AuthResult{}, errors.NewClientError(errors.InternalError, "AcquireTokenByLongRunningProcess requires a cache key")
	}
	params := base.AcquireTokenOnBehalfOfParameters{
		Scopes:            scopes,
		Claims:            o.claims,
		Credential:        cca.cred,
		TenantID:          o.tenantID,
		LongRunningOboKey: key,
	}
	return cca.base.AcquireTokenOnBehalfOf(ctx, params)
}

// Account gets the account in the token cache with the specified homeAccountID.
func (cca Client) Account(ctx context.Context, accountID string) (Account, error) {
	return cca.base.Account(ctx, accountID)
}

// RemoveAccount signs the account out and forgets account from token cache.
func (cca Client) RemoveAccount(ctx context.Context, account Account) error {
	return cca.base.RemoveAccount(ctx, account)
}

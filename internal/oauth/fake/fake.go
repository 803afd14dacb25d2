// Package fake provides fakes of the service clients for testing the flows
// that stitch them together.
package fake

import (
	"context"
	"errors"
	"time"

	"github.com/veralis-id/veralis-go/internal/oauth/ops/accesstokens"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/authority"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/wstrust"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/wstrust/defs"
)

// ResolveEndpoints is a fake implementation of the oauth.resolveEndpointer interface.
type ResolveEndpoints struct {
	Err bool

	// Endpoints are returned when set, otherwise a stock set is used.
	Endpoints authority.Endpoints
}

func (f ResolveEndpoints) ResolveEndpoints(ctx context.Context, authorityInfo authority.Info, userPrincipalName string) (authority.Endpoints, error) {
	if f.Err {
		return authority.Endpoints{}, errors.New("error")
	}
	if f.Endpoints.TokenEndpoint != "" {
		return f.Endpoints, nil
	}
	return authority.NewEndpoints(
		"https://login.microsoftonline.com/fake/auth",
		"https://login.microsoftonline.com/fake/token",
		"https://login.microsoftonline.com/fake",
		"login.microsoftonline.com",
	), nil
}

// AccessTokens is a fake implementation of the oauth.accessTokens interface.
type AccessTokens struct {
	// Err causes every call to return an error.
	Err bool

	// AccessToken is returned by every call that returns a TokenResponse.
	AccessToken accesstokens.TokenResponse

	// FromRefreshTokenCallback is called by FromRefreshToken with its
	// arguments, allowing a test to inspect them.
	FromRefreshTokenCallback func(appType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken string)

	// FromRefreshTokenErr is returned by FromRefreshToken when set, allowing a
	// test to script a specific redemption failure.
	FromRefreshTokenErr error

	// Result is a list of errors returned by successive FromDeviceCodeResult
	// calls. A nil entry means that call succeeds. Used to script the device
	// code polling loop.
	Result []error
	// Next is the index of the next entry of Result to use.
	Next int
}

func (f *AccessTokens) FromUsernamePassword(ctx context.Context, authParameters authority.AuthParams) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	return f.AccessToken, nil
}

func (f *AccessTokens) FromAuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	return f.AccessToken, nil
}

func (f *AccessTokens) FromRefreshToken(ctx context.Context, appType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken string) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	if f.FromRefreshTokenCallback != nil {
		f.FromRefreshTokenCallback(appType, authParams, cc, refreshToken)
	}
	if f.FromRefreshTokenErr != nil {
		return accesstokens.TokenResponse{}, f.FromRefreshTokenErr
	}
	return f.AccessToken, nil
}

func (f *AccessTokens) FromClientSecret(ctx context.Context, authParameters authority.AuthParams, clientSecret string) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	return f.AccessToken, nil
}

func (f *AccessTokens) FromAssertion(ctx context.Context, authParameters authority.AuthParams, assertion string) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	return f.AccessToken, nil
}

func (f *AccessTokens) FromMTLSCertificate(ctx context.Context, authParameters authority.AuthParams, cred *accesstokens.Credential) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	return f.AccessToken, nil
}

func (f *AccessTokens) FromUserAssertionClientSecret(ctx context.Context, authParameters authority.AuthParams, userAssertion string, clientSecret string) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	return f.AccessToken, nil
}

func (f *AccessTokens) FromUserAssertionClientCertificate(ctx context.Context, authParameters authority.AuthParams, userAssertion string, assertion string) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	return f.AccessToken, nil
}

func (f *AccessTokens) DeviceCodeResult(ctx context.Context, authParameters authority.AuthParams) (accesstokens.DeviceCodeResult, error) {
	if f.Err {
		return accesstokens.DeviceCodeResult{}, errors.New("error")
	}
	return accesstokens.DeviceCodeResult{
		UserCode:        "user_code",
		DeviceCode:      "device_code",
		VerificationURL: "https://login.microsoftonline.com/devicelogin",
		ExpiresOn:       time.Now().Add(5 * time.Minute),
		Interval:        1,
		Message:         "enter user_code at https://login.microsoftonline.com/devicelogin",
		ClientID:        authParameters.ClientID,
		Scopes:          authParameters.Scopes,
	}, nil
}

func (f *AccessTokens) FromDeviceCodeResult(ctx context.Context, authParameters authority.AuthParams, deviceCodeResult accesstokens.DeviceCodeResult) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	if f.Next < len(f.Result) {
		err := f.Result[f.Next]
		f.Next++
		return accesstokens.TokenResponse{}, err
	}
	return f.AccessToken, nil
}

func (f *AccessTokens) FromSamlGrant(ctx context.Context, authParameters authority.AuthParams, samlGrant wstrust.SamlTokenInfo) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	return f.AccessToken, nil
}

// Authority is a fake implementation of the oauth.fetchAuthority interface.
type Authority struct {
	// Err causes every call to return an error.
	Err bool
	// Realm is returned by UserRealm calls.
	Realm authority.UserRealm
	// InstanceResp is returned by AADInstanceDiscovery calls.
	InstanceResp authority.InstanceDiscoveryResponse
}

func (f Authority) UserRealm(ctx context.Context, params authority.AuthParams) (authority.UserRealm, error) {
	if f.Err {
		return authority.UserRealm{}, errors.New("error")
	}
	return f.Realm, nil
}

func (f Authority) AADInstanceDiscovery(ctx context.Context, info authority.Info) (authority.InstanceDiscoveryResponse, error) {
	if f.Err {
		return authority.InstanceDiscoveryResponse{}, errors.New("error")
	}
	return f.InstanceResp, nil
}

// WSTrust is a fake implementation of the oauth.fetchWSTrust interface.
type WSTrust struct {
	// GetMexErr causes Mex calls to return an error.
	GetMexErr bool
	// GetSAMLTokenInfoErr causes SAMLTokenInfo calls to return an error.
	GetSAMLTokenInfoErr bool
	// MexDocument is returned by Mex calls.
	MexDocument defs.MexDocument
	// SamlTokenInfo is returned by SAMLTokenInfo calls.
	SamlTokenInfo wstrust.SamlTokenInfo
}

func (f WSTrust) Mex(ctx context.Context, federationMetadataURL string) (defs.MexDocument, error) {
	if f.GetMexErr {
		return defs.MexDocument{}, errors.New("error")
	}
	return f.MexDocument, nil
}

func (f WSTrust) SAMLTokenInfo(ctx context.Context, authParameters authority.AuthParams, cloudAudienceURN string, endpoint defs.Endpoint) (wstrust.SamlTokenInfo, error) {
	if f.GetSAMLTokenInfoErr {
		return wstrust.SamlTokenInfo{}, errors.New("error")
	}
	return f.SamlTokenInfo, nil
}

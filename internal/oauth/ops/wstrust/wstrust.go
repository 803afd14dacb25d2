/*
Package wstrust provides a client for talking to a WS-Trust federation
provider: fetching its metadata exchange (MEX) document and trading a
username/password or transport identity for a SAML assertion that the token
endpoint accepts as a grant.
*/
package wstrust

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/veralis-id/veralis-go/internal/oauth/ops/authority"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/internal/grant"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/wstrust/defs"
)

type xmlCaller interface {
	XMLCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, resp interface{}) error
	SOAPCall(ctx context.Context, endpoint, action string, headers http.Header, qv url.Values, body string, resp interface{}) error
}

// SamlTokenInfo is a SAML assertion plus the grant type it is exchanged under.
type SamlTokenInfo struct {
	AssertionType string // Should be either grant.SAMLV1 or grant.SAMLV2.
	Assertion     string
}

// Client represents the REST calls to get tokens from token generator backends.
type Client struct {
	// Comm provides the HTTP transport client.
	Comm xmlCaller
}

// hook for tests
var newFromDef = defs.NewFromDef

// Mex provides metadata about a wstrust service.
func (c Client) Mex(ctx context.Context, federationMetadataURL string) (defs.MexDocument, error) {
	resp := defs.Definitions{}
	err := c.Comm.XMLCall(
		ctx,
		federationMetadataURL,
		http.Header{},
		nil,
		&resp,
	)
	if err != nil {
		return defs.MexDocument{}, fmt.Errorf("could not fetch MEX document from %q: %w", federationMetadataURL, err)
	}

	return newFromDef(resp)
}

const (
	SoapActionDefault = "http://docs.oasis-open.org/ws-sx/ws-trust/200512/RST/Issue"

	// SoapActionWSTrust2005 is not supported. The 2005 envelope can be built
	// but no production federation provider has required issuing against it,
	// so the version check below rejects it.
)

// SAMLTokenInfo provides SAML information that is used to generate a SAML token.
func (c Client) SAMLTokenInfo(ctx context.Context, authParameters authority.AuthParams, cloudAudienceURN string, endpoint defs.Endpoint) (SamlTokenInfo, error) {
	var wsTrustRequestMessage string
	var err error

	switch authParameters.AuthorizationType {
	case authority.ATWindowsIntegrated:
		wsTrustRequestMessage, err = endpoint.BuildTokenRequestMessageWIA(cloudAudienceURN)
		if err != nil {
			return SamlTokenInfo{}, err
		}
	case authority.ATUsernamePassword:
		wsTrustRequestMessage, err = endpoint.BuildTokenRequestMessageUsernamePassword(
			cloudAudienceURN, authParameters.Username, authParameters.Password)
		if err != nil {
			return SamlTokenInfo{}, err
		}
	default:
		return SamlTokenInfo{}, fmt.Errorf("unknown auth type %v", authParameters.AuthorizationType)
	}

	var soapAction string
	switch endpoint.Version {
	case defs.Trust13:
		soapAction = SoapActionDefault
	case defs.Trust2005:
		return SamlTokenInfo{}, errors.New("WS-Trust 2005 support is not implemented")
	default:
		return SamlTokenInfo{}, fmt.Errorf("the SOAP endpoint for a wstrust call had an invalid version: %v", endpoint.Version)
	}

	resp := defs.SAMLDefinitions{}
	err = c.Comm.SOAPCall(ctx, endpoint.URL, soapAction, http.Header{}, nil, wsTrustRequestMessage, &resp)
	if err != nil {
		return SamlTokenInfo{}, err
	}

	return c.samlAssertion(resp)
}

const (
	samlv1Assertion = "urn:oasis:names:tc:SAML:1.0:assertion"
	samlv2Assertion = "urn:oasis:names:tc:SAML:2.0:assertion"
)

func (c Client) samlAssertion(def defs.SAMLDefinitions) (SamlTokenInfo, error) {
	for _, tokenResponse := range def.Body.RequestSecurityTokenResponseCollection.RequestSecurityTokenResponse {
		token := tokenResponse.RequestedSecurityToken
		if token.Assertion.XMLName.Local == "" {
			continue
		}
		assertion := token.AssertionRawXML

		samlVersion := token.Assertion.Saml
		switch samlVersion {
		case samlv1Assertion:
			return SamlTokenInfo{AssertionType: grant.SAMLV1, Assertion: assertion}, nil
		case samlv2Assertion:
			return SamlTokenInfo{AssertionType: grant.SAMLV2, Assertion: assertion}, nil
		}
		return SamlTokenInfo{}, fmt.Errorf("couldn't parse SAML assertion, version unknown: %q", samlVersion)
	}
	return SamlTokenInfo{}, errors.New("unknown WS-Trust version")
}

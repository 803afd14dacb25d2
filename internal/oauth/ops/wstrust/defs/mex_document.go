package defs

import (
	"errors"
	"fmt"
	"strings"
)

type wsEndpointType int

const (
	wsEndpointTypeUsernamePassword wsEndpointType = iota
	wsEndpointTypeWindowsTransport
)

type wsEndpointData struct {
	Version      Version
	EndpointType wsEndpointType
}

// MexDocument is the result of parsing a metadata exchange document down to
// the endpoints a username/password or integrated-auth flow can drive.
type MexDocument struct {
	UsernamePasswordEndpoint Endpoint
	WindowsTransportEndpoint Endpoint

	policies map[string]wsEndpointType
	bindings map[string]wsEndpointData
}

// updateEndpoint records found unless cached already holds a Trust13
// endpoint. Trust13 always wins over Trust2005.
func updateEndpoint(cached *Endpoint, found Endpoint) {
	if cached.Version == TrustUnknown || (cached.Version == Trust2005 && found.Version == Trust13) {
		*cached = found
	}
}

// NewFromDef builds a MexDocument from a decoded WSDL definitions document.
// The walk is policies first, then the bindings referencing them, then the
// service ports giving each binding its URL.
func NewFromDef(defs Definitions) (MexDocument, error) {
	policies := make(map[string]wsEndpointType)

	for _, policy := range defs.Policy {
		if policy.ExactlyOne.All.SignedEncryptedSupportingTokens.Policy.UsernameToken.Policy.WssUsernameToken10.XMLName.Local != "" {
			policies["#"+policy.ID] = wsEndpointTypeUsernamePassword
		}
		if policy.ExactlyOne.All.SignedSupportingTokens.Policy.UsernameToken.Policy.WssUsernameToken10.XMLName.Local != "" {
			policies["#"+policy.ID] = wsEndpointTypeUsernamePassword
		}
		if policy.ExactlyOne.All.NegotiateAuthentication.XMLName.Local != "" {
			policies["#"+policy.ID] = wsEndpointTypeWindowsTransport
		}
	}

	bindings := make(map[string]wsEndpointData)

	for _, binding := range defs.Binding {
		policyName := binding.PolicyReference.URI
		transport := binding.Binding.Transport

		if transport != "http://schemas.xmlsoap.org/soap/http" {
			continue
		}
		policy, ok := policies[policyName]
		if !ok {
			continue
		}
		switch binding.Operation.Operation.SoapAction {
		case trust13Spec:
			bindings[binding.Name] = wsEndpointData{Trust13, policy}
		case trust2005Spec:
			bindings[binding.Name] = wsEndpointData{Trust2005, policy}
		default:
			return MexDocument{}, errors.New("found unknown spec version in mex document")
		}
	}

	var (
		usernamePasswordEndpoint Endpoint
		windowsTransportEndpoint Endpoint
	)

	for _, port := range defs.Service.Port {
		bindingName := port.Binding
		if i := strings.Index(bindingName, ":"); i != -1 {
			bindingName = bindingName[i+1:]
		}

		binding, ok := bindings[bindingName]
		if !ok {
			continue
		}
		endpoint := Endpoint{Version: binding.Version, URL: strings.TrimSpace(port.EndpointReference.Address.Text)}

		switch binding.EndpointType {
		case wsEndpointTypeUsernamePassword:
			updateEndpoint(&usernamePasswordEndpoint, endpoint)
		case wsEndpointTypeWindowsTransport:
			updateEndpoint(&windowsTransportEndpoint, endpoint)
		default:
			return MexDocument{}, fmt.Errorf("found unknown port type %v in mex document", binding.EndpointType)
		}
	}

	return MexDocument{usernamePasswordEndpoint, windowsTransportEndpoint, policies, bindings}, nil
}

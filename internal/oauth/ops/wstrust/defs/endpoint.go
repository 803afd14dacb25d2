package defs

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/google/uuid"
)

//go:generate stringer -type=Version

// Version is the WS-Trust protocol version an endpoint speaks.
type Version int

const (
	TrustUnknown Version = iota
	Trust2005
	Trust13
)

// Endpoint is a WS-Trust endpoint together with its protocol version.
type Endpoint struct {
	Version Version
	URL     string
}

const (
	trust13Spec   = "http://docs.oasis-open.org/ws-sx/ws-trust/200512/RST/Issue"
	trust2005Spec = "http://schemas.xmlsoap.org/ws/2005/02/trust/RST/Issue"
)

type wsTrustTokenRequestEnvelope struct {
	XMLName xml.Name `xml:"s:Envelope"`
	S       string   `xml:"xmlns:s,attr"`
	Wsa     string   `xml:"xmlns:wsa,attr"`
	Wsu     string   `xml:"xmlns:wsu,attr"`
	Header  struct {
		Action struct {
			MustUnderstand string `xml:"s:mustUnderstand,attr"`
			Text           string `xml:",chardata"`
		} `xml:"wsa:Action"`
		MessageID struct {
			Text string `xml:",chardata"`
		} `xml:"wsa:messageID"`
		ReplyTo struct {
			Address struct {
				Text string `xml:",chardata"`
			} `xml:"wsa:Address"`
		} `xml:"wsa:ReplyTo"`
		To struct {
			MustUnderstand string `xml:"s:mustUnderstand,attr"`
			Text           string `xml:",chardata"`
		} `xml:"wsa:To"`
		Security struct {
			MustUnderstand string `xml:"s:mustUnderstand,attr"`
			Wsse           string `xml:"xmlns:wsse,attr"`
			Timestamp      struct {
				ID      string `xml:"wsu:Id,attr"`
				Created struct {
					Text string `xml:",chardata"`
				} `xml:"wsu:Created"`
				Expires struct {
					Text string `xml:",chardata"`
				} `xml:"wsu:Expires"`
			} `xml:"wsu:Timestamp"`
			UsernameToken struct {
				ID       string `xml:"wsu:Id,attr"`
				Username struct {
					Text string `xml:",chardata"`
				} `xml:"wsse:Username"`
				Password struct {
					Text string `xml:",chardata"`
				} `xml:"wsse:Password"`
			} `xml:"wsse:UsernameToken"`
		} `xml:"wsse:Security"`
	} `xml:"s:Header"`
	Body struct {
		RequestSecurityToken struct {
			Wst       string `xml:"xmlns:wst,attr"`
			AppliesTo struct {
				Wsp               string `xml:"xmlns:wsp,attr"`
				EndpointReference struct {
					Address struct {
						Text string `xml:",chardata"`
					} `xml:"wsa:Address"`
				} `xml:"wsa:EndpointReference"`
			} `xml:"wsp:AppliesTo"`
			KeyType struct {
				Text string `xml:",chardata"`
			} `xml:"wst:KeyType"`
			RequestType struct {
				Text string `xml:",chardata"`
			} `xml:"wst:RequestType"`
		} `xml:"wst:RequestSecurityToken"`
	} `xml:"s:Body"`
}

func buildTimeString(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000Z")
}

type endpointAuthType int

const (
	endpointAuthUsernamePassword endpointAuthType = iota
	endpointAuthWindowsIntegrated
)

func (wte *Endpoint) buildTokenRequestMessage(authType endpointAuthType, cloudAudienceURN, username, password string) (string, error) {
	var soapAction string
	var trustNamespace string
	var keyType string
	var requestType string

	createdTime := time.Now().UTC()
	expiresTime := createdTime.Add(10 * time.Minute)

	switch wte.Version {
	case Trust2005:
		soapAction = trust2005Spec
		trustNamespace = "http://schemas.xmlsoap.org/ws/2005/02/trust"
		keyType = "http://schemas.xmlsoap.org/ws/2005/05/identity/NoProofKey"
		requestType = "http://schemas.xmlsoap.org/ws/2005/02/trust/Issue"
	case Trust13:
		soapAction = trust13Spec
		trustNamespace = "http://docs.oasis-open.org/ws-sx/ws-trust/200512"
		keyType = "http://docs.oasis-open.org/ws-sx/ws-trust/200512/Bearer"
		requestType = "http://docs.oasis-open.org/ws-sx/ws-trust/200512/Issue"
	default:
		return "", fmt.Errorf("endpoint version unknown: %v", wte.Version)
	}

	var envelope wsTrustTokenRequestEnvelope

	messageUUID := uuid.New()

	envelope.S = "http://www.w3.org/2003/05/soap-envelope"
	envelope.Wsa = "http://www.w3.org/2005/08/addressing"
	envelope.Wsu = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"

	envelope.Header.Action.MustUnderstand = "1"
	envelope.Header.Action.Text = soapAction
	envelope.Header.MessageID.Text = "urn:uuid:" + messageUUID.String()
	envelope.Header.ReplyTo.Address.Text = "http://www.w3.org/2005/08/addressing/anonymous"
	envelope.Header.To.MustUnderstand = "1"
	envelope.Header.To.Text = wte.URL

	if authType == endpointAuthUsernamePassword {
		endpointUUID := uuid.New()

		var trustID string
		if wte.Version == Trust2005 {
			trustID = "UnPwSecTok2005-" + endpointUUID.String()
		} else {
			trustID = "UnPwSecTok13-" + endpointUUID.String()
		}

		envelope.Header.Security.MustUnderstand = "1"
		envelope.Header.Security.Wsse = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
		envelope.Header.Security.Timestamp.ID = "MSATimeStamp"
		envelope.Header.Security.Timestamp.Created.Text = buildTimeString(createdTime)
		envelope.Header.Security.Timestamp.Expires.Text = buildTimeString(expiresTime)
		envelope.Header.Security.UsernameToken.ID = trustID
		envelope.Header.Security.UsernameToken.Username.Text = username
		envelope.Header.Security.UsernameToken.Password.Text = password
	}

	envelope.Body.RequestSecurityToken.Wst = trustNamespace
	envelope.Body.RequestSecurityToken.AppliesTo.Wsp = "http://schemas.xmlsoap.org/ws/2004/09/policy"
	envelope.Body.RequestSecurityToken.AppliesTo.EndpointReference.Address.Text = cloudAudienceURN
	envelope.Body.RequestSecurityToken.KeyType.Text = keyType
	envelope.Body.RequestSecurityToken.RequestType.Text = requestType

	output, err := xml.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// BuildTokenRequestMessageWIA builds the token request for Windows
// integrated authentication, where the transport proves the identity.
func (wte *Endpoint) BuildTokenRequestMessageWIA(cloudAudienceURN string) (string, error) {
	return wte.buildTokenRequestMessage(endpointAuthWindowsIntegrated, cloudAudienceURN, "", "")
}

// BuildTokenRequestMessageUsernamePassword builds the token request carrying
// a username token.
func (wte *Endpoint) BuildTokenRequestMessageUsernamePassword(cloudAudienceURN, username, password string) (string, error) {
	return wte.buildTokenRequestMessage(endpointAuthUsernamePassword, cloudAudienceURN, username, password)
}

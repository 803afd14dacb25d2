package defs

import "encoding/xml"

// SAMLDefinitions is the SOAP envelope a WS-Trust endpoint answers a token
// request with. The assertion itself is kept as raw XML because it is passed
// to the token endpoint as an opaque grant.
type SAMLDefinitions struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    Body     `xml:"Body"`
}

type Body struct {
	RequestSecurityTokenResponseCollection RequestSecurityTokenResponseCollection `xml:"RequestSecurityTokenResponseCollection"`
}

type RequestSecurityTokenResponseCollection struct {
	RequestSecurityTokenResponse []RequestSecurityTokenResponse `xml:"RequestSecurityTokenResponse"`
}

type RequestSecurityTokenResponse struct {
	TokenType struct {
		Text string `xml:",chardata"`
	} `xml:"TokenType"`
	RequestedSecurityToken RequestedSecurityToken `xml:"RequestedSecurityToken"`
}

type RequestedSecurityToken struct {
	AssertionRawXML string    `xml:",innerxml"`
	Assertion       Assertion `xml:"Assertion"`
}

type Assertion struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
	Saml    string `xml:"saml,attr"`
}

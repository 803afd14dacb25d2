package defs

import "encoding/xml"

// Definitions is the WSDL metadata exchange document published by a
// federation provider. Only the elements the MEX parser inspects are
// declared, everything else in the document is skipped during decode.
type Definitions struct {
	XMLName         xml.Name `xml:"definitions"`
	TargetNamespace string   `xml:"targetNamespace,attr"`

	Policy  []Policy  `xml:"Policy"`
	Binding []Binding `xml:"binding"`
	Service Service   `xml:"service"`
}

// Policy advertises the security tokens a binding accepts. The nested
// token elements are matched on presence only.
type Policy struct {
	ID         string `xml:"Id,attr"`
	ExactlyOne struct {
		All struct {
			NegotiateAuthentication struct {
				XMLName xml.Name
			} `xml:"NegotiateAuthentication"`
			SignedSupportingTokens struct {
				Policy struct {
					UsernameToken struct {
						Policy struct {
							WssUsernameToken10 struct {
								XMLName xml.Name
							} `xml:"WssUsernameToken10"`
						} `xml:"Policy"`
					} `xml:"UsernameToken"`
				} `xml:"Policy"`
			} `xml:"SignedSupportingTokens"`
			SignedEncryptedSupportingTokens struct {
				Policy struct {
					UsernameToken struct {
						Policy struct {
							WssUsernameToken10 struct {
								XMLName xml.Name
							} `xml:"WssUsernameToken10"`
						} `xml:"Policy"`
					} `xml:"UsernameToken"`
				} `xml:"Policy"`
			} `xml:"SignedEncryptedSupportingTokens"`
		} `xml:"All"`
	} `xml:"ExactlyOne"`
}

// Binding ties a policy to a transport and a WS-Trust spec version.
type Binding struct {
	Name            string `xml:"name,attr"`
	PolicyReference struct {
		URI string `xml:"URI,attr"`
	} `xml:"PolicyReference"`
	Binding struct {
		Transport string `xml:"transport,attr"`
	} `xml:"binding"`
	Operation struct {
		Operation struct {
			SoapAction string `xml:"soapAction,attr"`
		} `xml:"operation"`
	} `xml:"operation"`
}

// Service lists the ports (endpoint URLs) for each binding.
type Service struct {
	Name string `xml:"name,attr"`
	Port []Port `xml:"port"`
}

type Port struct {
	Name              string `xml:"name,attr"`
	Binding           string `xml:"binding,attr"`
	EndpointReference struct {
		Address struct {
			Text string `xml:",chardata"`
		} `xml:"Address"`
	} `xml:"EndpointReference"`
}

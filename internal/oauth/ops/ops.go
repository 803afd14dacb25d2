/*
Package ops provides operations to various backend services using REST clients.

The REST type provides several clients that can be used to communicate to backends.
Usage is simple:

	rest := ops.New(client)

	// Creates an authority client and calls the UserRealm() method.
	userRealm, err := rest.Authority().UserRealm(ctx, authParameters)
	if err != nil {
		// Do something
	}
*/
package ops

import (
	"crypto"
	"crypto/x509"

	"github.com/veralis-id/veralis-go/internal/oauth/ops/accesstokens"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/authority"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/internal/comm"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/wstrust"
)

// HTTPClient represents an HTTP client.
// It's usually an *http.Client from the standard library.
type HTTPClient = comm.HTTPClient

// REST provides REST clients for communicating with various backends used by the library.
type REST struct {
	client *comm.Client
}

// New is the constructor for REST.
func New(httpClient HTTPClient) *REST {
	return &REST{client: comm.New(httpClient)}
}

// NewWithCert is the constructor for a REST whose transport presents the
// certificate on every TLS handshake. Used for mTLS proof of possession.
func NewWithCert(cert *x509.Certificate, key crypto.PrivateKey) *REST {
	return &REST{client: comm.NewWithCert(cert, key)}
}

// AccessTokens returns a client that can be used to get various access tokens for
// authorization purposes.
func (r *REST) AccessTokens() accesstokens.Client {
	return accesstokens.Client{Comm: r.client}
}

// Authority returns a client that can be used to gather information about various authorities.
func (r *REST) Authority() authority.Client {
	return authority.Client{Comm: r.client}
}

// WSTrust returns a client that can be used to make calls to WS-Trust endpoints.
func (r *REST) WSTrust() wstrust.Client {
	return wstrust.Client{Comm: r.client}
}

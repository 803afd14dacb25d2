// Package broker defines the boundary to a platform authentication broker, a
// separate component on the host that holds refresh material outside the
// application's own cache. The library treats the broker as opaque: it hands
// over the request parameters and validates the returned token response the
// same way it validates a response from the token endpoint.
package broker

import (
	"context"

	"github.com/veralis-id/veralis-go/internal/oauth/ops/accesstokens"
	"github.com/veralis-id/veralis-go/internal/oauth/ops/authority"
)

// Broker performs token acquisition through a platform authentication broker.
// Implementations are injected through the client options; the library does
// not discover installed brokers on its own.
type Broker interface {
	// Available reports whether the broker can be invoked on this host. When it
	// returns false, interactive requests fall back to the web UI flow.
	Available(ctx context.Context) bool

	// AcquireTokenSilent asks the broker for a token without user interaction.
	AcquireTokenSilent(ctx context.Context, authParams authority.AuthParams) (accesstokens.TokenResponse, error)

	// AcquireTokenInteractive lets the broker drive its own user interaction.
	AcquireTokenInteractive(ctx context.Context, authParams authority.AuthParams) (accesstokens.TokenResponse, error)

	// ExchangeAuthCode redeems an authorization code on a request the identity
	// provider redirected to the broker's app link.
	ExchangeAuthCode(ctx context.Context, authParams authority.AuthParams, code string) (accesstokens.TokenResponse, error)
}

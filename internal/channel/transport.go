package channel

import (
	"context"
	"errors"
	"net"
	"net/http"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
)

// Envelope is one outbound message for a single transport.
type Envelope struct {
	To      string
	Subject string
	Body    string
}

type Receipt struct {
	ProviderMessageID string
	Status            string
}

// Transport sends through one provider. Errors should be
// *appErrors.TransportError so the router can tell transient from permanent.
type Transport interface {
	Channel() model.Channel
	Send(ctx context.Context, env Envelope) (Receipt, error)
}

// classifyStatus maps a provider HTTP status to a transport error.
func classifyStatus(channel model.Channel, status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return appErrors.NewTransportTransient(string(channel), http.StatusText(status), errors.New(body))
	default:
		return appErrors.NewTransportPermanent(string(channel), http.StatusText(status), errors.New(body))
	}
}

// classifyRequestErr treats network failures and timeouts as transient.
func classifyRequestErr(channel model.Channel, err error) error {
	if errors.Is(err, context.Canceled) {
		return appErrors.NewTransportPermanent(string(channel), "canceled", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return appErrors.NewTransportTransient(string(channel), "timeout", err)
	}
	return appErrors.NewTransportTransient(string(channel), "network", err)
}

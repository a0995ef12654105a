// Package provider contains the outbound email and SMS clients. Providers
// are external, unreliable and possibly slow; every call is bounded by the
// caller's context and a client-level timeout, and transports are
// instrumented for tracing.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/giftflare/orderflow/internal/notify"
)

var _ notify.Sender = (*HTTPSender)(nil)

// HTTPSender delivers messages to a provider over HTTP: POST {base}/send
// with a JSON body of recipient, template id and payload. Any non-2xx
// response is a failure for that message.
type HTTPSender struct {
	name    string
	sendURL string
	client  *http.Client
}

// sendRequest is the wire format shared by the email and SMS providers.
type sendRequest struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// NewHTTPSender builds a sender for the provider at baseURL. The timeout
// caps each request on top of whatever deadline the caller's context
// carries.
func NewHTTPSender(name, baseURL string, timeout time.Duration) (*HTTPSender, error) {
	u, err := url.JoinPath(baseURL, "send")
	if err != nil {
		return nil, errors.Wrapf(err, "%s provider URL", name)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		name:    name,
		sendURL: u,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Send implements notify.Sender.
func (s *HTTPSender) Send(ctx context.Context, msg notify.Message) error {
	body, err := json.Marshal(sendRequest{
		To:       msg.To,
		Template: msg.Template,
		Payload:  msg.Payload,
	})
	if err != nil {
		return errors.Wrap(err, "marshal send request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sendURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build send request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s send", s.name)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("%s provider rejected send: %s", s.name, resp.Status)
	}
	return nil
}

var _ notify.Sender = (*Simulated)(nil)

// Simulated is a development stand-in that logs the message and succeeds.
// It fills the same role as the stubbed providers in the original system.
type Simulated struct {
	Name string
	Log  *zap.Logger
}

// Send implements notify.Sender.
func (s *Simulated) Send(_ context.Context, msg notify.Message) error {
	if s.Log != nil {
		s.Log.Info("simulated send",
			zap.String("provider", s.Name),
			zap.String("channel", string(msg.Channel)),
			zap.String("to", msg.To),
			zap.String("template", msg.Template),
			zap.String("order_id", msg.OrderID))
	}
	return nil
}

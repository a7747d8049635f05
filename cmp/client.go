package cmp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ContentType is the RFC 6712 media type for CMP messages over HTTP.
const ContentType = "application/pkixcmp"

// maxResponseBytes caps pkiConf responses; real ones are under 200 bytes.
const maxResponseBytes = 1 << 20

// TransportError marks a failure of the HTTP exchange itself, as opposed to
// a CMP protocol error in the payload. Transport failures are retried by the
// client; protocol errors are terminal.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cmp transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client performs the CMP HTTP exchange against a CA endpoint. It is the
// transport collaborator for the pure message functions: bytes go out as an
// HTTP POST with Content-Type application/pkixcmp and the response body
// comes back for protocol-level parsing.
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxTries   uint
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client (TLS and proxy
// configuration travel with it).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxTries caps transport retry attempts.
func WithMaxTries(n uint) ClientOption {
	return func(c *Client) { c.maxTries = n }
}

// WithClientLogger sets the structured logger for exchange events.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger.With("component", "cmp-client") }
}

// NewClient returns a Client for the given CMP endpoint URL.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxTries:   4,
		logger:     slog.Default().With("component", "cmp-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts a DER-encoded PKIMessage and returns the raw response bytes.
// Transport failures (connection errors, timeouts, 5xx) are retried with
// exponential backoff up to the configured attempt cap; any other HTTP
// status is a terminal TransportError.
func (c *Client) Send(ctx context.Context, message []byte) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(message))
		if err != nil {
			return nil, backoff.Permanent(&TransportError{Err: err})
		}
		req.Header.Set("Content-Type", ContentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &TransportError{Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &TransportError{Err: fmt.Errorf("status %s", resp.Status)}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(&TransportError{Err: fmt.Errorf("status %s", resp.Status)})
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, &TransportError{Err: err}
		}
		return body, nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Err: err}
		}
		return nil, err
	}
	return body, nil
}

// ConfirmRoundTrip performs the full confirmation exchange: build a
// certConf whose PBM salt and senderKID both carry senderKeyID, post it,
// and verify the response is a well-formed pkiConf. The senderKID is what
// the CA routes on, so passing an enrollment transaction ID confirms that
// enrollment; passing DefaultSenderKID is the bare health probe, which the
// CA acknowledges without touching any transaction.
func (c *Client) ConfirmRoundTrip(ctx context.Context, senderKeyID []byte) error {
	msg, err := BuildCertConf(senderKeyID, WithSenderKID(senderKeyID))
	if err != nil {
		return err
	}
	response, err := c.Send(ctx, msg)
	if err != nil {
		return err
	}
	if err := ParsePKIConf(response); err != nil {
		c.logger.ErrorContext(ctx, "pkiConf validation failed", "error", err)
		return err
	}
	c.logger.DebugContext(ctx, "certConf/pkiConf round trip ok", "endpoint", c.endpoint)
	return nil
}

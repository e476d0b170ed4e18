package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPClient talks to the telephony provider's REST API.
//
// The signaling/media stack lives entirely at the provider; this client only
// issues control commands and reads status. Asynchronous lifecycle events
// arrive separately via webhooks.
type HTTPClient struct {
	rc   *resty.Client
	name string
}

type HTTPClientConfig struct {
	BaseURL string
	APIKey  string

	// CommandTimeout bounds each request end to end.
	CommandTimeout time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("provider: base url is required")
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.CommandTimeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		rc.SetAuthToken(cfg.APIKey)
	}

	return &HTTPClient{rc: rc, name: "http"}, nil
}

func (c *HTTPClient) Name() string { return c.name }

func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	resp, err := c.rc.R().SetContext(ctx).Get("/health")
	if err != nil {
		return classify("health_check", nil, err)
	}
	if resp.IsError() {
		return classify("health_check", resp, nil)
	}
	return nil
}

func (c *HTTPClient) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	var out PlaceCallResult
	// Never retried: a repeated POST could dial the far end twice.
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/calls")
	if err != nil {
		return PlaceCallResult{}, classify("place_call", nil, err)
	}
	if resp.IsError() {
		return PlaceCallResult{}, classify("place_call", resp, nil)
	}
	return out, nil
}

func (c *HTTPClient) HangUp(ctx context.Context, providerCallID string) error {
	return c.post(ctx, "hang_up", fmt.Sprintf("/calls/%s/hangup", providerCallID), nil)
}

func (c *HTTPClient) SendDigit(ctx context.Context, providerCallID string, digit rune) error {
	body := map[string]string{"digit": string(digit)}
	return c.post(ctx, "send_digit", fmt.Sprintf("/calls/%s/digits", providerCallID), body)
}

func (c *HTTPClient) AcceptReservation(ctx context.Context, reservationID string) error {
	return c.post(ctx, "accept_reservation", fmt.Sprintf("/reservations/%s/accept", reservationID), nil)
}

func (c *HTTPClient) RejectReservation(ctx context.Context, reservationID string) error {
	return c.post(ctx, "reject_reservation", fmt.Sprintf("/reservations/%s/reject", reservationID), nil)
}

// CallStatus is idempotent and retried once on transport failure.
func (c *HTTPClient) CallStatus(ctx context.Context, providerCallID string) (CallStatusResult, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var out CallStatusResult
		resp, err := c.rc.R().
			SetContext(ctx).
			SetResult(&out).
			Get(fmt.Sprintf("/calls/%s", providerCallID))
		if err != nil {
			lastErr = classify("call_status", nil, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if resp.IsError() {
			// HTTP-level errors are definitive answers, not transport flakes.
			return CallStatusResult{}, classify("call_status", resp, nil)
		}
		return out, nil
	}
	return CallStatusResult{}, lastErr
}

func (c *HTTPClient) post(ctx context.Context, op, path string, body any) error {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return classify(op, nil, err)
	}
	if resp.IsError() {
		return classify(op, resp, nil)
	}
	return nil
}

func classify(op string, resp *resty.Response, err error) *Error {
	out := &Error{Op: op, Err: err}
	if resp != nil {
		out.StatusCode = resp.StatusCode()
		out.Message = string(resp.Body())
	}
	if err != nil {
		var nerr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
			out.Timeout = true
		}
	}
	return out
}

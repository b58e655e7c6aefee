// Package gateway performs authenticated calls to the assistant backend.
//
// Every call attaches a freshly minted bearer token, classifies the response by
// content type and reports failures to the user through a Notifier. A busy
// Indicator is raised for the duration of each call.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"AdaAssist/internal/backend"
	"AdaAssist/internal/identity"
)

// Notifier shows a blocking message to the user.
type Notifier interface {
	Notify(message string)
}

// Indicator is the shared busy/loading state. Overlapping calls each raise and
// lower it independently; the last lowering wins.
type Indicator interface {
	SetBusy(busy bool)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// IndicatorFunc adapts a function to Indicator.
type IndicatorFunc func(busy bool)

func (f IndicatorFunc) SetBusy(busy bool) { f(busy) }

// Options configures a Client. BaseURL, Auth and Logger are required.
type Options struct {
	BaseURL    string
	Auth       identity.Provider
	Logger     *slog.Logger
	HTTPClient *http.Client
	Notifier   Notifier
	Indicator  Indicator
	Tracer     trace.Tracer
	Meter      metric.Meter
}

// Client calls backend endpoints on behalf of the signed-in user.
type Client struct {
	baseURL    string
	auth       identity.Provider
	logger     *slog.Logger
	httpClient *http.Client
	notifier   Notifier
	indicator  Indicator
	tracer     trace.Tracer
	duration   metric.Float64Histogram
	failures   metric.Int64Counter
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base url cannot be empty")
	}
	if opts.Auth == nil {
		return nil, fmt.Errorf("identity provider cannot be nil")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		auth:       opts.Auth,
		logger:     opts.Logger,
		httpClient: opts.HTTPClient,
		notifier:   opts.Notifier,
		indicator:  opts.Indicator,
		tracer:     opts.Tracer,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.notifier == nil {
		c.notifier = NotifierFunc(func(string) {})
	}
	if c.indicator == nil {
		c.indicator = IndicatorFunc(func(bool) {})
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("adaassist/gateway")
	}

	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("adaassist/gateway")
	}
	var err error
	c.duration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}
	c.failures, err = meter.Int64Counter(
		"api.call.failures",
		metric.WithDescription("API calls that ended in a failure, by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	return c, nil
}

type callOptions struct {
	quiet bool
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

// Quiet suppresses user notifications for the call. Failures are still logged.
func Quiet() CallOption {
	return func(o *callOptions) { o.quiet = true }
}

// Call POSTs payload as JSON to endpoint with the current user's bearer token.
// Any non-nil error is a failure and carries a *Error describing it.
func (c *Client) Call(ctx context.Context, endpoint string, payload any, opts ...CallOption) (resp *Response, err error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.indicator.SetBusy(true)
	defer c.indicator.SetBusy(false)

	ctx, span := c.tracer.Start(ctx, "api_call", trace.WithAttributes(
		attribute.String("api.endpoint", endpoint),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("api.endpoint", endpoint)))

		var gerr *Error
		if errors.As(err, &gerr) {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(gerr.Kind))
			c.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("api.endpoint", endpoint),
				attribute.String("api.error_kind", string(gerr.Kind)),
			))
			c.logger.Error("api call failed",
				"endpoint", endpoint,
				"kind", gerr.Kind,
				"status", gerr.Status,
				"error", gerr.Message)
		}
	}()

	if c.auth.CurrentUser() == nil {
		c.logger.Warn("api call attempted without signed-in user", "endpoint", endpoint)
		c.notify(o, "You need to be signed in to use this feature.")
		return nil, &Error{Kind: NotAuthenticated, Endpoint: endpoint, Message: "no signed-in user", Err: identity.ErrNoUser}
	}

	token, err := c.auth.IDToken(ctx, true)
	if err != nil {
		c.notify(o, "Authentication error getting token. Please try signing out and back in. Error: "+err.Error())
		return nil, &Error{Kind: TokenError, Endpoint: endpoint, Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, c.networkFailure(o, endpoint, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, c.networkFailure(o, endpoint, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.networkFailure(o, endpoint, fmt.Errorf("failed to send request: %w", err))
	}
	defer httpResp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", httpResp.StatusCode))

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.networkFailure(o, endpoint, fmt.Errorf("failed to read response: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, c.statusFailure(ctx, o, endpoint, httpResp, data)
	}

	return c.classify(o, endpoint, httpResp, data)
}

// classify turns a 2xx body into a Response according to its content type.
func (c *Client) classify(o callOptions, endpoint string, httpResp *http.Response, data []byte) (*Response, error) {
	contentType := httpResp.Header.Get("Content-Type")
	resp := &Response{ContentType: contentType, Status: httpResp.StatusCode}

	switch {
	case strings.Contains(contentType, "application/json"):
		if !json.Valid(data) {
			return nil, c.networkFailure(o, endpoint, fmt.Errorf("invalid json in response"))
		}
		resp.Kind = KindJSON
		resp.JSON = json.RawMessage(data)
	case strings.Contains(contentType, "audio/mpeg"):
		resp.Kind = KindAudio
		resp.Audio = data
	default:
		c.logger.Warn("received unexpected content type", "endpoint", endpoint, "content_type", contentType)
		resp.Kind = KindText
		resp.Text = string(data)
	}
	return resp, nil
}

// statusFailure handles a non-2xx response. 401 and 403 end the session.
func (c *Client) statusFailure(ctx context.Context, o callOptions, endpoint string, httpResp *http.Response, data []byte) error {
	msg := fmt.Sprintf("API Error (%d) - %s", httpResp.StatusCode, statusText(httpResp))
	var errBody backend.ErrorResponse
	if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
		msg = errBody.Error
	}

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		c.notify(o, fmt.Sprintf("Authentication failed for API request. Your session might have expired. Please sign in again. (%s)", msg))
		if err := c.auth.SignOut(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error("error during forced sign out", "error", err)
		}
		return &Error{Kind: AuthRejected, Endpoint: endpoint, Status: httpResp.StatusCode, Message: msg}
	}

	c.notify(o, "Error communicating with server: "+msg)
	return &Error{Kind: HTTPError, Endpoint: endpoint, Status: httpResp.StatusCode, Message: msg}
}

func (c *Client) networkFailure(o callOptions, endpoint string, err error) error {
	c.notify(o, "Network or processing error: "+err.Error())
	return &Error{Kind: NetworkError, Endpoint: endpoint, Err: err}
}

func (c *Client) notify(o callOptions, message string) {
	if o.quiet {
		return
	}
	c.notifier.Notify(message)
}

// statusText returns the reason phrase of resp without the leading code.
func statusText(resp *http.Response) string {
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

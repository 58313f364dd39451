package dodo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/davidserrano-io/plansync-backend/pkg/config"
	pkgerrors "github.com/davidserrano-io/plansync-backend/pkg/errors"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultTimeout = 15 * time.Second
)

var (
	errAPIKeyRequired = errors.New("dodo api key is required")
	errInvalidEnv     = fmt.Errorf("dodo environment must be %q or %q", testEnv, liveEnv)
	errLoggerRequired = errors.New("dodo logger is required")
)

var baseURLs = map[string]string{
	testEnv: "https://test.dodopayments.com",
	liveEnv: "https://live.dodopayments.com",
}

// Client exposes the Dodo Payments REST surface with centralized auth,
// logging, and error mapping. Dodo ships no Go SDK, so the transport is a
// thin net/http wrapper.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	environment string
	baseURL     string
	logger      *logger.Logger
}

// NewClient initializes the Dodo wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.DodoConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      apiKey,
		environment: env,
		baseURL:     baseURLs[env],
		logger:      logg,
	}

	logg.Info(ctx, "dodo client initialized")
	return c, nil
}

// Environment reports the normalized Dodo environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// GetSubscription fetches a single subscription by id.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	c.log(ctx, "request", "get_subscription", map[string]any{"subscription_id": id})

	var sub Subscription
	if err := c.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(id), nil, &sub); err != nil {
		c.log(ctx, "error", "get_subscription", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "get_subscription", map[string]any{
		"subscription_id": sub.EffectiveID(),
		"status":          sub.Status,
	})
	return &sub, nil
}

// ListSubscriptions returns subscriptions matching the filter, newest first.
func (c *Client) ListSubscriptions(ctx context.Context, params ListSubscriptionsParams) ([]*Subscription, error) {
	q := url.Values{}
	if v := strings.TrimSpace(params.CustomerID); v != "" {
		q.Set("customer_id", v)
	}
	if v := strings.TrimSpace(params.Status); v != "" {
		q.Set("status", v)
	}
	if params.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(params.PageSize))
	}
	if params.PageNumber > 0 {
		q.Set("page_number", strconv.Itoa(params.PageNumber))
	}

	path := "/subscriptions"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	c.log(ctx, "request", "list_subscriptions", map[string]any{"customer_id": params.CustomerID})

	var resp listSubscriptionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		c.log(ctx, "error", "list_subscriptions", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "list_subscriptions", map[string]any{"count": len(resp.Items)})
	return resp.Items, nil
}

// UpdateSubscription patches mutable subscription fields at the provider.
func (c *Client) UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	c.log(ctx, "request", "update_subscription", map[string]any{"subscription_id": id})

	var sub Subscription
	if err := c.do(ctx, http.MethodPatch, "/subscriptions/"+url.PathEscape(id), params, &sub); err != nil {
		c.log(ctx, "error", "update_subscription", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "update_subscription", map[string]any{
		"subscription_id": sub.EffectiveID(),
		"status":          sub.Status,
	})
	return &sub, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding dodo request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building dodo request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "dodo request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "reading dodo response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.mapStatusError(resp.StatusCode, payload)
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "decoding dodo response")
	}
	return nil
}

func (c *Client) mapStatusError(status int, payload []byte) error {
	var body struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	_ = json.Unmarshal(payload, &body)

	code := pkgerrors.CodeUpstream
	if status == http.StatusNotFound {
		code = pkgerrors.CodeNotFound
	}

	msg := fmt.Sprintf("dodo responded %d", status)
	if body.Message != "" {
		msg = fmt.Sprintf("dodo responded %d: %s", status, body.Message)
	}

	details := map[string]any{"provider_status": status}
	if body.Code != "" {
		details["provider_code"] = body.Code
	}
	return pkgerrors.New(code, msg).WithDetails(details)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("dodo %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("dodo %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"token", "secret", "email", "key"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidEnv
	}
}

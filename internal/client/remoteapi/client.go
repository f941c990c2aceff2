// Package remoteapi is the remote side reached over http.
package remoteapi

import (
	"context"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/openmined/idsync/internal/version"
)

const (
	v1Changes = "/api/v1/changes"
	v1Apply   = "/api/v1/apply"
	v1Tree    = "/api/v1/tree"
	v1Action  = "/api/v1/action"
	v1Events  = "/api/v1/events"
	healthz   = "/healthz"

	HeaderUserAgent = "User-Agent"
	defaultTimeout  = 30 * time.Second
)

// Client implements side.RemoteReplica against the dev server api.
type Client struct {
	client  *req.Client
	baseURL string
}

var _ side.RemoteReplica = (*Client)(nil)

type Option func(c *req.Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *req.Client) { c.SetTimeout(d) }
}

// WithRetries retries reads on transport errors. Applies are never retried
// here; the orchestrator owns that.
func WithRetries(n int) Option {
	return func(c *req.Client) {
		c.SetCommonRetryCount(n).
			SetCommonRetryBackoffInterval(200*time.Millisecond, 2*time.Second).
			SetCommonRetryCondition(func(resp *req.Response, err error) bool {
				return err != nil && resp != nil && resp.Request != nil && resp.Request.Method == http.MethodGet
			})
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetCommonHeader(HeaderUserAgent, userAgent()).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonErrorResult(&APIError{})

	for _, opt := range opts {
		opt(client)
	}
	return &Client{client: client, baseURL: baseURL}, nil
}

func userAgent() string {
	return version.AppName + "/" + version.Version
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Pull fetches the remote changes after cursor.
func (c *Client) Pull(ctx context.Context, cursor string) (*side.PullResult, error) {
	var result side.PullResult
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("cursor", cursor).
		SetSuccessResult(&result).
		Get(v1Changes)

	if err := handleAPIError(res, err, "pull"); err != nil {
		return nil, err
	}
	return &result, nil
}

// Apply performs one mutation on the remote.
func (c *Client) Apply(ctx context.Context, m *side.Mutation) (*side.Result, error) {
	var result side.Result
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(m).
		SetSuccessResult(&result).
		Post(v1Apply)

	if err := handleAPIError(res, err, string(m.Op)); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Tree(ctx context.Context) (*TreeResponse, error) {
	var result TreeResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&result).
		Get(v1Tree)

	if err := handleAPIError(res, err, "tree"); err != nil {
		return nil, err
	}
	return &result, nil
}

// Action performs a user action on the remote tree.
func (c *Client) Action(ctx context.Context, action *ActionRequest) (*ActionResponse, error) {
	var result ActionResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(action).
		SetSuccessResult(&result).
		Post(v1Action)

	if err := handleAPIError(res, err, "action "+action.Op); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Health(ctx context.Context) error {
	res, err := c.client.R().SetContext(ctx).Get(healthz)
	return handleAPIError(res, err, "health")
}

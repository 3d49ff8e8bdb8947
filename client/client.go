package client

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultHTTPTimeout bounds each individual request made by a Client
// created with NewClient.
const DefaultHTTPTimeout = 10 * time.Second

// Client talks to the remote executor over its HTTP surface. It holds only
// read-only configuration and is safe for concurrent use.
type Client struct {
	baseURL    string
	clientid   string
	httpclient *http.Client
}

// NewClientWithTimeout creates a client for the executor at baseURL
// (e.g. "http://127.0.0.1:8188") whose requests time out after timeout.
// A timeout of zero disables the per-request timeout.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientid:   uuid.New().String(),
		httpclient: &http.Client{Timeout: timeout},
	}
}

// NewClient creates a client for the executor at baseURL using DefaultHTTPTimeout.
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, DefaultHTTPTimeout)
}

// ClientID returns the unique id echoed on every submission. The executor
// uses it to route notifications to this client.
func (c *Client) ClientID() string {
	return c.clientid
}

// BaseURL returns the executor address the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// return the underlying http client
func (c *Client) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *Client) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

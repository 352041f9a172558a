// Package fetch provides HTTP clients for the off-chain services the agent depends on.
package fetch

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Option configures a client
type Option func(*options)

type options struct {
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	timeout      time.Duration
	apiKey       string
}

func defaultOptions() options {
	return options{
		retryMax:     3,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 3 * time.Second,
		timeout:      15 * time.Second,
	}
}

// WithRetry overrides the retry policy
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(o *options) {
		o.retryMax = max
		o.retryWaitMin = waitMin
		o.retryWaitMax = waitMax
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithAPIKey sets a bearer token sent with every request
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient(component string, o options) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = o.retryMax
	c.RetryWaitMin = o.retryWaitMin
	c.RetryWaitMax = o.retryWaitMax
	c.HTTPClient.Timeout = o.timeout
	c.Logger = NewLeveledLogger(component)
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}

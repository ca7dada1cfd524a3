package lake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/objectstore"
)

// RequestSigner signs outgoing requests. Authentication is left to the
// caller; a nil signer sends requests unsigned.
type RequestSigner interface {
	Sign(req *http.Request) error
}

// SignerFunc adapts a function to RequestSigner.
type SignerFunc func(req *http.Request) error

func (f SignerFunc) Sign(req *http.Request) error { return f(req) }

// TransportOptions configures the HTTP client shared by the lake clients.
type TransportOptions struct {
	HTTPClient   *http.Client
	Signer       RequestSigner
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       logrus.FieldLogger
}

type transport struct {
	client *retryablehttp.Client
	signer RequestSigner
	logger logrus.FieldLogger
}

// leveledLogger routes retryablehttp's messages to logrus at debug level.
type leveledLogger struct {
	logrus.FieldLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.with(kv).Debug(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.with(kv).Debug(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.with(kv).Debug(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.with(kv).Debug(msg) }

func (l leveledLogger) with(kv []interface{}) logrus.FieldLogger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return l.FieldLogger.WithFields(fields)
}

func newTransport(opts TransportOptions) *transport {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := retryablehttp.NewClient()
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	client.Logger = leveledLogger{logger}
	// Hand the last response back instead of a generic "giving up" error so
	// the status and service error code can be classified.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &transport{client: client, signer: opts.Signer, logger: logger}
}

// request describes one call.
type request struct {
	method  string
	url     string
	query   url.Values
	header  http.Header
	body    []byte
	jsonIn  interface{}
	jsonOut interface{}
}

// response is what callers need from a completed call.
type response struct {
	status int
	header http.Header
	body   []byte
}

// serviceError is the JSON error body returned by OCI services.
type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (t *transport) do(ctx context.Context, r *request) (*response, error) {
	target := r.url
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	body := r.body
	if r.jsonIn != nil {
		var err error
		if body, err = json.Marshal(r.jsonIn); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var reqBody interface{}
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, r.method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if r.jsonIn != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.signer != nil {
		if err := t.signer.Sign(req.Request); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	t.logger.WithFields(logrus.Fields{"method": r.method, "url": r.url}).Debug("lake request")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s %s: %w", r.method, r.url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var se serviceError
		if len(data) > 0 {
			_ = json.Unmarshal(data, &se)
		}
		if se.Message == "" {
			se.Message = fmt.Sprintf("%s %s", r.method, r.url)
		}
		return nil, objectstore.NewRemoteError(resp.StatusCode, se.Code, "%s", se.Message)
	}

	if r.jsonOut != nil && len(data) > 0 {
		if err := json.Unmarshal(data, r.jsonOut); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

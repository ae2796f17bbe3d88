// Package pipeline wraps every call to the remote API with the cross-cutting
// policy: the bearer token goes out with each request, and each outcome is
// classified and, where the user needs to know, reported exactly once, so
// call sites carry no error-reporting boilerplate of their own.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/patric-chuzhbe/flylink/internal/logger"
	"github.com/patric-chuzhbe/flylink/internal/models"
)

const (
	DefaultTimeout = 10 * time.Second

	requestIDHeader = "X-Request-ID"

	connectivityTitle       = "Unable to connect to the server"
	connectivityDescription = "Check that the backend is running."
	credentialsTitle        = "Invalid credentials"
	genericTitle            = "An unexpected error occurred"
)

type tokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

type authExpirer interface {
	TriggerAuthExpired()
}

// Options configures a Pipeline. Tokens, Expirer and Notifier are required.
type Options struct {
	BaseURL  string
	Timeout  time.Duration
	Tokens   tokenSource
	Expirer  authExpirer
	Notifier Notifier

	// RetryDelay is the pause before the single retry of a failed GET. Zero disables retries.
	RetryDelay time.Duration

	// AuthPathMarker identifies credential endpoints, whose 401s mean bad
	// credentials rather than an expired session.
	AuthPathMarker string

	// BenignMissMarker identifies URLs whose 404 is expected and not reported.
	BenignMissMarker string

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

type Pipeline struct {
	client           *resty.Client
	tokens           tokenSource
	expirer          authExpirer
	notifier         Notifier
	retrier          retry.Retry[*resty.Response]
	authPathMarker   string
	benignMissMarker string
}

var errRetryable = errors.New("retryable outcome")

func New(opts Options) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.AuthPathMarker == "" {
		opts.AuthPathMarker = "/auth/"
	}
	if opts.BenignMissMarker == "" {
		opts.BenignMissMarker = "favicon"
	}

	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}
	client.
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetLogger(logger.Log)

	p := &Pipeline{
		client:           client,
		tokens:           opts.Tokens,
		expirer:          opts.Expirer,
		notifier:         opts.Notifier,
		authPathMarker:   opts.AuthPathMarker,
		benignMissMarker: opts.BenignMissMarker,
	}

	if opts.RetryDelay > 0 {
		p.retrier = retry.New[*resty.Response](retry.Config{
			MaxAttempts:   2,
			InitialDelay:  opts.RetryDelay,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			IsRetryable: func(err error) bool {
				return errors.Is(err, errRetryable)
			},
		})
	}

	client.OnBeforeRequest(p.attachCredentials)
	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		logger.LogRequest(resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time(), len(resp.Body()))
		return nil
	})

	return p
}

// attachCredentials never blocks a request: without a token it simply goes
// out unauthenticated and the API answers 401 if it needs one.
func (p *Pipeline) attachCredentials(_ *resty.Client, req *resty.Request) error {
	if req.Header.Get(requestIDHeader) == "" {
		req.SetHeader(requestIDHeader, uuid.NewString())
	}

	token, err := p.tokens.GetToken(req.Context())
	if err != nil {
		logger.Log.Warnw("unable to read token, sending request unauthenticated", "error", err)
		return nil
	}
	if token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}

	return nil
}

// R starts a request bound to ctx.
func (p *Pipeline) R(ctx context.Context) *resty.Request {
	return p.client.R().SetContext(ctx)
}

// Execute sends req and applies the inbound policy to the final outcome. A
// non-nil error is always a *Error.
func (p *Pipeline) Execute(req *resty.Request, method, url string) (*resty.Response, error) {
	resp, err := p.send(req, method, url)
	if perr := p.inspect(req.Context(), method, url, resp, err); perr != nil {
		return resp, perr
	}

	return resp, nil
}

// send retries a failed GET once. Only the last outcome is inspected, so a
// retried call still reports at most once.
func (p *Pipeline) send(req *resty.Request, method, url string) (*resty.Response, error) {
	if p.retrier == nil || method != http.MethodGet {
		return req.Execute(method, url)
	}

	var (
		resp    *resty.Response
		sendErr error
	)
	_, doErr := p.retrier.Do(req.Context(), func(context.Context) (*resty.Response, error) {
		resp, sendErr = req.Execute(method, url)
		if shouldRetry(req.Context(), resp, sendErr) {
			logger.Log.Debugw("retrying request", "method", method, "url", url)
			return resp, errRetryable
		}
		return resp, nil
	})
	// A call cancelled while waiting for its retry ends as cancelled, not
	// with the outcome of the earlier attempt.
	if doErr != nil && errors.Is(req.Context().Err(), context.Canceled) {
		return resp, errors.Join(doErr, context.Canceled)
	}
	// The retrier may give up before the first attempt.
	if resp == nil && sendErr == nil {
		sendErr = doErr
	}

	return resp, sendErr
}

func shouldRetry(ctx context.Context, resp *resty.Response, err error) bool {
	if isCancelled(ctx, err) {
		return false
	}
	if err != nil {
		return true
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return true
	}

	return false
}

func isCancelled(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}

	return err != nil && errors.Is(ctx.Err(), context.Canceled)
}

func hasResponse(resp *resty.Response) bool {
	return resp != nil && resp.RawResponse != nil
}

func (p *Pipeline) notify(perr *Error, title, description string) *Error {
	p.notifier.Notify(Notification{Level: LevelError, Title: title, Description: description})
	perr.Notified = true

	return perr
}

func (p *Pipeline) inspect(ctx context.Context, method, url string, resp *resty.Response, err error) *Error {
	perr := &Error{Method: method, URL: url, Err: err}

	if isCancelled(ctx, err) {
		perr.Kind = KindCancelled
		return perr
	}

	if !hasResponse(resp) {
		perr.Kind = KindConnectivity
		return p.notify(perr, connectivityTitle, connectivityDescription)
	}

	status := resp.StatusCode()
	perr.Status = status

	if err == nil && status >= 200 && status < 300 {
		return nil
	}

	body := parseErrorBody(resp)

	if status == http.StatusUnauthorized {
		if strings.Contains(url, p.authPathMarker) {
			perr.Kind = KindCredentialsRejected
			perr.Message = body.Message
			if perr.Message == "" {
				perr.Message = credentialsTitle
			}
			return p.notify(perr, perr.Message, "")
		}

		perr.Kind = KindSessionExpired
		perr.Message = body.Message
		p.expirer.TriggerAuthExpired()
		return perr
	}

	perr.Kind = KindAPI
	perr.Message = body.Message
	if perr.Message == "" {
		perr.Message = genericTitle
	}
	perr.Detail = body.Path
	if perr.Detail == "" {
		perr.Detail = fmt.Sprintf("Status: %d", status)
	}

	if status == http.StatusNotFound && strings.Contains(url, p.benignMissMarker) {
		return perr
	}

	return p.notify(perr, perr.Message, perr.Detail)
}

func parseErrorBody(resp *resty.Response) models.APIErrorBody {
	var body models.APIErrorBody
	if raw := resp.Body(); len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	return body
}

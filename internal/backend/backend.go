// Package backend holds clients for the courier's domain services:
// shipment tracking, rate inquiry and retail center lookup.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/soyeahso/courier/internal/logging"
)

// ErrNotConfigured is returned by clients that have no endpoint.
var ErrNotConfigured = errors.New("backend not configured")

// ErrResponseTooLarge is returned when a backend body exceeds maxResponseBody.
var ErrResponseTooLarge = errors.New("response body too large")

// StatusError is a non-success HTTP response from a backend.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Body)
}

// Tracker looks up shipments by AWB.
type Tracker interface {
	Track(ctx context.Context, awbs []string) ([]TrackingResult, error)
}

// RateQuoter prices a shipment.
type RateQuoter interface {
	Quote(ctx context.Context, inquiry RateInquiry) ([]RateOption, error)
}

// CenterFinder lists retail centers in a city.
type CenterFinder interface {
	Centers(ctx context.Context, city string) ([]Center, error)
}

const (
	maxErrorBody    = 200
	maxResponseBody = 4 << 20
)

// newHTTPClient returns a retrying client. Transport errors and 5xx
// responses are retried; the final response is handed back unchanged so
// callers can report its status.
func newHTTPClient(timeout time.Duration, log *logging.Logger) *retryablehttp.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = timeout
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = retryLogger{log}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// readBody reads at most maxResponseBody bytes of a response and converts
// non-200 statuses to *StatusError. The body is returned in both cases.
func readBody(service string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", service, err)
	}
	if len(body) > maxResponseBody {
		return nil, fmt.Errorf("%s: %w (over %d bytes)", service, ErrResponseTooLarge, maxResponseBody)
	}
	if resp.StatusCode != http.StatusOK {
		return body, &StatusError{Service: service, StatusCode: resp.StatusCode, Body: excerpt(body, maxErrorBody)}
	}
	return body, nil
}

// excerpt returns at most n bytes of body without splitting a UTF-8 sequence.
func excerpt(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return string(body[:n])
}

// retryLogger adapts the service logger to retryablehttp's leveled logger.
type retryLogger struct {
	log *logging.Logger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.fields(l.log.Error(), kv).Msg(msg) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.fields(l.log.Warn(), kv).Msg(msg) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.fields(l.log.Debug(), kv).Msg(msg) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.fields(l.log.Debug(), kv).Msg(msg) }

func (retryLogger) fields(ev *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	return ev
}

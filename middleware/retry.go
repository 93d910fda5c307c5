// Package middleware provides net/http middleware that keeps request
// handling working across secret rotation.
//
// RetryOnAuthFailure re-runs a request once after a database rejected the
// cached credentials, SecretKeyRefresh keeps the signing key current, and
// RequestID and Logger provide request IDs and access logs.
package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/dbcreds"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/internal/metrics"
)

// DefaultMaxBodyBytes bounds the request body buffered for a replay.
const DefaultMaxBodyBytes int64 = 1 << 20

// Invalidator drops cached secrets. *secrets.Client implements it.
type Invalidator interface {
	InvalidateCache(secretName string)
}

type retryOptions struct {
	classify     func(error) bool
	maxBodyBytes int64
	secretIDs    []string
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures RetryOnAuthFailure.
type Option func(*retryOptions)

// WithClassifier replaces dbcreds.IsAuthError as the test for errors that
// warrant a retry.
func WithClassifier(fn func(error) bool) Option {
	return func(o *retryOptions) {
		if fn != nil {
			o.classify = fn
		}
	}
}

// WithMaxBodyBytes sets the largest request body that is buffered for a
// replay. Larger requests run once, unbuffered.
func WithMaxBodyBytes(n int64) Option {
	return func(o *retryOptions) {
		o.maxBodyBytes = n
	}
}

// WithSecretIDs sets the secrets invalidated when the reported error does
// not name one.
func WithSecretIDs(ids ...string) Option {
	return func(o *retryOptions) {
		o.secretIDs = append([]string(nil), ids...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *retryOptions) {
		o.logger = logger
	}
}

// WithMetrics records retries on m under the "http" source.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *retryOptions) {
		o.metrics = m
	}
}

type attemptKey struct{}

// attempt collects the failure reported by a handler during one run.
type attempt struct {
	classify func(error) bool

	mu      sync.Mutex
	failure error
}

func (a *attempt) report(err error) bool {
	if err == nil || !a.classify(err) {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failure == nil {
		a.failure = err
	}
	return true
}

func (a *attempt) failed() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failure
}

// Report tells RetryOnAuthFailure that the current attempt hit err. It
// returns true when err counts as an authentication failure, in which case
// the request will be retried if this was the first attempt. Outside
// RetryOnAuthFailure it returns false.
func Report(ctx context.Context, err error) bool {
	a, ok := ctx.Value(attemptKey{}).(*attempt)
	if !ok {
		return false
	}
	return a.report(err)
}

// RetryOnAuthFailure runs the request with a buffered response. If the
// handler reported an authentication failure through Report, the buffered
// response is discarded, the relevant secrets are invalidated on inv and the
// request runs once more with the response going straight to the client.
//
// The secret to invalidate is taken from the reported error
// (dbcreds.SecretIDOf) and falls back to WithSecretIDs. Handlers that
// stream or hijack the connection should not be wrapped.
func RetryOnAuthFailure(inv Invalidator, opts ...Option) func(http.Handler) http.Handler {
	o := &retryOptions{
		classify:     dbcreds.IsAuthError,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, ok := readBody(r, o.maxBodyBytes)
			if !ok {
				if o.logger != nil {
					o.logger.DebugContext(r.Context(), "request body too large to replay, running without retry",
						"path", r.URL.Path)
				}
				next.ServeHTTP(w, r)
				return
			}

			first := &attempt{classify: o.classify}
			buf := newBufferedWriter()
			next.ServeHTTP(buf, withAttempt(r, first, body))

			failure := first.failed()
			if failure == nil {
				buf.flushTo(w)
				return
			}

			ids := o.secretIDs
			if id, ok := dbcreds.SecretIDOf(failure); ok {
				ids = []string{id}
			}
			if o.logger != nil {
				o.logger.WarnContext(r.Context(), "authentication failure, invalidating secrets and retrying request",
					"path", r.URL.Path,
					"secrets", ids,
					"request_id", GetRequestID(r.Context()),
					"error", failure)
			}
			if inv != nil {
				for _, id := range ids {
					inv.InvalidateCache(id)
				}
			}

			second := &attempt{classify: o.classify}
			next.ServeHTTP(w, withAttempt(r, second, body))

			err := second.failed()
			o.metrics.AuthRetried("http", err)
			if err != nil && o.logger != nil {
				o.logger.ErrorContext(r.Context(), "request failed again after refreshing secrets",
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
					"error", err)
			}
		})
	}
}

// readBody buffers the request body. It reports false, leaving r.Body
// readable from the start, when the body is larger than limit.
func readBody(r *http.Request, limit int64) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true
	}

	n := limit
	if n < math.MaxInt64 {
		n++
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, n))
	if err != nil || int64(len(data)) > limit {
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(data), r.Body), r.Body}
		return nil, false
	}
	_ = r.Body.Close()
	return data, true
}

func withAttempt(r *http.Request, a *attempt, body []byte) *http.Request {
	r2 := r.Clone(context.WithValue(r.Context(), attemptKey{}, a))
	if body == nil {
		r2.Body = http.NoBody
	} else {
		r2.Body = io.NopCloser(bytes.NewReader(body))
	}
	return r2
}

// bufferedWriter holds a response until it is known whether it is sent.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	if b.status == 0 {
		b.status = http.StatusOK
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}

package commercetools

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

const userAgent = "commercetools-storefront-go/1.0"

// MaxRetries caps how often one request is retried after the first attempt.
const MaxRetries = 3

// clampRetries bounds n to [0, MaxRetries].
func clampRetries(n int) int {
	return max(0, min(n, MaxRetries))
}

// retryPolicy retries network errors, 5xx and 429. A cancelled or expired
// request context stops the loop.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		return true, nil
	}
	return resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests, nil
}

func fixedBackoff(delay time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return delay
	}
}

// newRetryTransport wraps next with bounded fixed-delay retries. The last
// response is handed back as-is once retries run out, so callers see the
// platform's status and body.
func newRetryTransport(next http.RoundTripper, retryMax int, retryDelay time.Duration, logger *log.Logger) http.RoundTripper {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: next}
	rc.Logger = nil
	rc.RetryMax = clampRetries(retryMax)
	rc.RetryWaitMin = retryDelay
	rc.RetryWaitMax = retryDelay
	rc.Backoff = fixedBackoff(retryDelay)
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Printf("retrying %s %s (attempt %d/%d)", req.Method, req.URL.Path, attempt, rc.RetryMax)
		}
	}
	return &retryablehttp.RoundTripper{Client: rc}
}

// metadataTransport stamps diagnostics headers once per logical request, so
// retries share a correlation id.
type metadataTransport struct {
	next http.RoundTripper
}

func (t *metadataTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", userAgent)
	if r.Header.Get("X-Correlation-ID") == "" {
		r.Header.Set("X-Correlation-ID", uuid.NewString())
	}
	return t.next.RoundTrip(r)
}

func newBaseClient(retryMax int, retryDelay time.Duration, logger *log.Logger) *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &metadataTransport{
			next: newRetryTransport(http.DefaultTransport, retryMax, retryDelay, logger),
		},
	}
}

// Package vendorclient is the single gateway through which every archiver
// fetches data from the upstream vendor API (spec §4.1). It owns the
// process-wide rate limit, the per-call retry and circuit-breaking, and
// the offset-pagination loop; archivers never talk to the transport
// directly.
package vendorclient

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/wisplidn/caiyuangungun-go/internal/frame"
	"github.com/wisplidn/caiyuangungun-go/internal/metrics"
	sherr "github.com/wisplidn/caiyuangungun-go/pkg/sharedutil/errors"
	shlog "github.com/wisplidn/caiyuangungun-go/pkg/sharedutil/logging"
)

// Status reports the outcome of one Call, mirroring the request log's
// status column (spec §4.3).
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Transport performs one raw call against the vendor for a single
// endpoint/params combination. Implementations do not paginate, retry, or
// rate-limit — Client is responsible for all of that.
type Transport interface {
	Do(ctx context.Context, endpoint string, params map[string]string) (frame.Frame, error)
}

// Config configures a Client's shared policies.
type Config struct {
	RequestsPerMinute int
	Retry             RetryPolicy
	BreakerName       string
	EndpointStorePath string
}

// Client is the facade every archiver calls through. It is safe for
// concurrent use by multiple archivers running in the same process.
type Client struct {
	transport Transport
	limiter   *RateLimiter
	breaker   *gobreaker.CircuitBreaker
	retry     RetryPolicy
	endpoints map[string]*EndpointConfig
	store     *EndpointStore
	log       *logrus.Entry
	metrics   *metrics.Registry
}

// WithMetrics attaches a metrics registry every subsequent Call reports
// request outcomes and rate-limit wait time to. A *Client with no
// registry attached (the zero value of this field) records nothing —
// metrics are optional instrumentation, not a load-bearing dependency.
func (c *Client) WithMetrics(reg *metrics.Registry) *Client {
	c.metrics = reg
	return c
}

// NewClient constructs a Client and registers its fixed set of known
// endpoints up front (spec §9 "Dynamic endpoint binding": unknown data
// types are rejected at construction, not discovered at call time).
func NewClient(transport Transport, cfg Config, endpoints []EndpointConfig, log *logrus.Entry) (*Client, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}

	reg := make(map[string]*EndpointConfig, len(endpoints))
	for i := range endpoints {
		ep := endpoints[i]
		if ep.Name == "" {
			return nil, sherr.FailedToWithDetails("register endpoint", "vendorclient", fmt.Sprintf("index %d", i), fmt.Errorf("endpoint name must not be empty"))
		}
		cp := ep
		reg[cp.Name] = &cp
	}

	store := NewEndpointStore(cfg.EndpointStorePath)
	if err := store.Load(reg); err != nil {
		return nil, sherr.FailedToWithDetails("load endpoint store", "vendorclient", cfg.EndpointStorePath, err)
	}

	breakerSettings := gobreaker.Settings{
		Name: cfg.BreakerName,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	if breakerSettings.Name == "" {
		breakerSettings.Name = "vendorclient"
	}

	return &Client{
		transport: transport,
		limiter:   NewRateLimiter(cfg.RequestsPerMinute),
		breaker:   gobreaker.NewCircuitBreaker(breakerSettings),
		retry:     cfg.Retry,
		endpoints: reg,
		store:     store,
		log:       log,
	}, nil
}

// callOptions configures one Call invocation.
type callOptions struct {
	expectNonEmpty bool
}

// CallOption customizes a single Call.
type CallOption func(*callOptions)

// WithExpectNonEmpty tells Call that an empty response is suspicious: it
// is retried like a failed attempt, and accepted only when the retry
// policy's last attempt is empty too (spec §4.1, used by the trade-date
// archiver's holiday-vs-outage disambiguation). For a paginated endpoint
// it applies to the first page only.
func WithExpectNonEmpty() CallOption {
	return func(o *callOptions) { o.expectNonEmpty = true }
}

// Call resolves dataType to a registered endpoint (preferring its VIP
// variant when configured), fetches it — paginating if the endpoint
// requires it — and returns the merged frame.
func (c *Client) Call(ctx context.Context, dataType string, params map[string]string, opts ...CallOption) (frame.Frame, Status) {
	var o callOptions
	for _, fn := range opts {
		fn(&o)
	}

	ep, err := c.resolve(dataType)
	if err != nil {
		c.log.WithFields(logrus.Fields(shlog.NewFields().Component("vendorclient").Operation("call").Error(err))).Error("unknown data type")
		return frame.Frame{}, StatusError
	}

	var result frame.Frame
	if ep.Paginated {
		result, err = paginate(ep.LimitMax, func(offset, limit int) (frame.Frame, error) {
			page, perr := c.fetchWithRetry(ctx, ep.endpointName(), paramWithOffsetLimit(params, offset, limit), o.expectNonEmpty && offset == 0)
			if perr == nil && len(page.Rows) > limit {
				if c.endpoints[ep.Name].bump(len(page.Rows)) {
					_ = c.store.Save(c.endpoints)
				}
			}
			return page, perr
		})
	} else {
		result, err = c.fetchWithRetry(ctx, ep.endpointName(), params, o.expectNonEmpty)
	}

	if err != nil {
		c.log.WithFields(logrus.Fields(shlog.NewFields().Component("vendorclient").Operation("call").Resource("endpoint", dataType).Error(err))).Error("vendor call failed")
		c.metrics.ObserveRequest(dataType, string(StatusError))
		return frame.Frame{}, StatusError
	}
	c.metrics.ObserveRequest(dataType, string(StatusSuccess))
	return result, StatusSuccess
}

// resolve looks up the registered endpoint for a data type. A VIP variant
// is not a separate entry: it is the VIPName field of the same entry, and
// endpointName uses it in place of Name whenever it is set.
func (c *Client) resolve(dataType string) (*EndpointConfig, error) {
	ep, ok := c.endpoints[dataType]
	if !ok {
		return nil, fmt.Errorf("unregistered data type %q", dataType)
	}
	return ep, nil
}

func (e *EndpointConfig) endpointName() string {
	if e.VIPName != "" {
		return e.VIPName
	}
	return e.Name
}

// fetchWithRetry performs a single logical fetch (one page, for paginated
// endpoints) with rate limiting, circuit breaking, and bounded retries. A
// response that is empty when expectNonEmpty is set counts as a failure
// worth retrying, up to the policy's attempt budget.
func (c *Client) fetchWithRetry(ctx context.Context, endpoint string, params map[string]string, expectNonEmpty bool) (frame.Frame, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.retry.backoff(attempt)); err != nil {
				return frame.Frame{}, err
			}
		}
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			return frame.Frame{}, err
		}
		c.metrics.ObserveRateLimitWait(time.Since(waitStart).Seconds())

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.transport.Do(ctx, endpoint, params)
		})
		if err != nil {
			lastErr = err
			continue
		}
		f := result.(frame.Frame)
		if expectNonEmpty && f.Empty() && attempt < c.retry.MaxAttempts-1 {
			lastErr = fmt.Errorf("endpoint %q returned an unexpected empty frame", endpoint)
			continue
		}
		return f, nil
	}
	return frame.Frame{}, sherr.FailedToWithDetails("fetch vendor data", "vendorclient", endpoint, lastErr)
}

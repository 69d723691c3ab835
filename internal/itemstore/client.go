package itemstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	lhttp "github.com/wesleyorama2/cacheload/internal/http"
	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
	"github.com/wesleyorama2/cacheload/internal/load/tracing"
)

// Routes of the item service, used as span names and the "name" tag.
const (
	RouteItem          = "/items/{id}"
	RouteItems         = "/items"
	RouteResetCounters = "/items/reset-counters"
)

// Client is a typed client for the item service.
type Client struct {
	http   *lhttp.Client
	tracer trace.Tracer
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// MaxIdleConns sizes the keep-alive pool; it should be close to the
	// total number of VUs.
	MaxIdleConns int
	Tracer       trace.Tracer
}

// NewClient creates a client for the service at cfg.BaseURL.
func NewClient(cfg ClientConfig) *Client {
	opts := []lhttp.ClientOption{lhttp.WithBaseURL(cfg.BaseURL)}
	if cfg.Timeout > 0 {
		opts = append(opts, lhttp.WithTimeout(cfg.Timeout))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, lhttp.WithHeader("User-Agent", cfg.UserAgent))
	}
	if cfg.MaxIdleConns > 0 {
		opts = append(opts, lhttp.WithMaxIdleConnsPerHost(cfg.MaxIdleConns))
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &Client{http: lhttp.NewClient(opts...), tracer: tracer}
}

// Session binds the client to an iteration: every request made through it
// records http_reqs, http_req_duration and http_req_failed with the
// iteration's tags. A nil iteration records nothing.
func (c *Client) Session(it *load.Iteration) *Session {
	return &Session{client: c, it: it}
}

// Get looks up an item without recording metrics.
func (c *Client) Get(ctx context.Context, id int64) (*ItemResponse, error) {
	return c.Session(nil).Get(ctx, id)
}

// Update replaces an item without recording metrics.
func (c *Client) Update(ctx context.Context, id int64, item Item) (*ItemResult, error) {
	return c.Session(nil).Update(ctx, id, item)
}

// Create stores a new item without recording metrics.
func (c *Client) Create(ctx context.Context, item Item) (*ItemResult, error) {
	return c.Session(nil).Create(ctx, item)
}

// ResetCounters zeroes the service's fetch counters.
func (c *Client) ResetCounters(ctx context.Context) error {
	return c.Session(nil).ResetCounters(ctx)
}

// Session is a Client bound to one iteration.
type Session struct {
	client *Client
	it     *load.Iteration
}

// Get looks up an item. A missing item is not an error: the response has
// status 404 and SourceNotFound.
func (s *Session) Get(ctx context.Context, id int64) (*ItemResponse, error) {
	resp, err := s.do(ctx, "GET", RouteItem, itemPath(id), nil)
	if err != nil {
		return nil, err
	}

	out := &ItemResponse{Exchange: exchange(resp)}
	if !resp.IsJSON() {
		if resp.IsSuccess() {
			return nil, fmt.Errorf("%w: GET %s: response is not JSON", load.ErrTransport, itemPath(id))
		}
		return out, nil
	}

	out.DBFetchCount = resp.JSON("dbFetchCount").Int()
	out.CacheFetchCount = resp.JSON("cacheFetchCount").Int()
	out.Message = resp.JSON("message").String()
	out.Source = ParseSource(resp.JSON("source").String(), out.Message)
	if item := resp.JSON("item"); item.IsObject() {
		out.Item = &Item{
			ID:          item.Get("id").Int(),
			Name:        item.Get("name").String(),
			Description: item.Get("description").String(),
		}
	}
	if out.StatusCode == 404 && out.Source == SourceUnknown {
		out.Source = SourceNotFound
	}
	return out, nil
}

// Update replaces the item with the given id.
func (s *Session) Update(ctx context.Context, id int64, item Item) (*ItemResult, error) {
	item.ID = 0
	resp, err := s.do(ctx, "PUT", RouteItem, itemPath(id), item)
	if err != nil {
		return nil, err
	}
	return itemResult(resp), nil
}

// Create stores a new item; the service assigns its id.
func (s *Session) Create(ctx context.Context, item Item) (*ItemResult, error) {
	item.ID = 0
	resp, err := s.do(ctx, "POST", RouteItems, RouteItems, item)
	if err != nil {
		return nil, err
	}
	return itemResult(resp), nil
}

// ResetCounters zeroes the service's fetch counters.
func (s *Session) ResetCounters(ctx context.Context) error {
	resp, err := s.do(ctx, "POST", RouteResetCounters, RouteResetCounters, nil)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("reset counters: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *Session) do(ctx context.Context, method, route, path string, body interface{}) (*lhttp.Response, error) {
	ctx, span := tracing.StartRequestSpan(ctx, s.client.tracer, method, route)

	req := lhttp.NewRequest(method, path)
	if body != nil {
		if err := req.SetJSON(body); err != nil {
			tracing.EndSpan(span, err)
			return nil, err
		}
	}
	tracing.InjectHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := s.client.http.Do(ctx, req)
	if err != nil {
		err = fmt.Errorf("%w: %w", load.ErrTransport, err)
		s.record(method, route, 0, time.Since(start))
		tracing.EndSpan(span, err)
		return nil, err
	}

	s.record(method, route, resp.StatusCode, resp.Timing.Duration())
	var spanErr error
	if resp.IsServerError() {
		spanErr = fmt.Errorf("status %d", resp.StatusCode)
	}
	tracing.EndSpan(span, spanErr, attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

// record adds the builtin HTTP samples. A request failed if no response
// arrived or the status is 4xx/5xx.
func (s *Session) record(method, route string, status int, d time.Duration) {
	if s.it == nil || s.it.Builtin == nil {
		return
	}
	b := s.it.Builtin
	tags := metrics.Tags{
		"method": method,
		"name":   route,
		"status": strconv.Itoa(status),
	}
	_ = s.it.Record(b.HTTPReqs, 1, tags)
	_ = s.it.RecordDuration(b.HTTPReqDuration, d, tags)
	_ = s.it.RecordBool(b.HTTPReqFailed, status == 0 || status >= 400, tags)
}

func exchange(resp *lhttp.Response) Exchange {
	return Exchange{StatusCode: resp.StatusCode, Duration: resp.Timing.Duration()}
}

func itemResult(resp *lhttp.Response) *ItemResult {
	out := &ItemResult{Exchange: exchange(resp)}
	if resp.IsSuccess() {
		if item := resp.JSON("@this"); item.IsObject() {
			out.Item = &Item{
				ID:          item.Get("id").Int(),
				Name:        item.Get("name").String(),
				Description: item.Get("description").String(),
			}
		}
	}
	return out
}

func itemPath(id int64) string {
	return "/items/" + strconv.FormatInt(id, 10)
}

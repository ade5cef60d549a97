// Package apiclient talks to the schedule backend's HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"

	"blackoutd/internal/metrics"
	"blackoutd/internal/model"
	logx "blackoutd/pkg/logx"
)

var (
	// ErrNotFound means the backend has no record for the request.
	ErrNotFound = errors.New("not found")
	// ErrServiceUnavailable is returned by non-schedule endpoints on 503.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrRejected means the backend answered 2xx with success=false.
	ErrRejected = errors.New("request rejected by backend")
)

// StatusError is a non-2xx response that has no dedicated sentinel.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

const (
	DefaultTimeout       = 15 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	DefaultVAPIDCacheTTL = time.Hour
	maxErrorBody         = 4 << 10
	vapidCacheKey        = "vapid"
)

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	HealthTimeout time.Duration
	VAPIDCacheTTL time.Duration
	Language      string
}

// Client is safe for concurrent use.
type Client struct {
	base          string
	http          *http.Client
	healthTimeout time.Duration
	lang          string
	log           logx.Logger
	cache         *cache.Cache
}

type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("api base url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.VAPIDCacheTTL <= 0 {
		cfg.VAPIDCacheTTL = DefaultVAPIDCacheTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		base:          base,
		http:          &http.Client{Timeout: cfg.Timeout},
		healthTimeout: cfg.HealthTimeout,
		lang:          cfg.Language,
		log:           log,
		cache:         cache.New(cfg.VAPIDCacheTTL, cfg.VAPIDCacheTTL*2),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// do performs one request and decodes a 2xx JSON body into out.
// The returned status is 0 on transport errors.
func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body, out any) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rdr = bytes.NewReader(b)
	}
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordAPIRequest(endpoint, "error", time.Since(start))
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	metrics.RecordAPIRequest(endpoint, statusClass(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, raw, statusErr(resp.StatusCode, raw)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return resp.StatusCode, nil, nil
}

func statusErr(code int, body []byte) error {
	switch code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusServiceUnavailable:
		return ErrServiceUnavailable
	default:
		return &StatusError{Code: code, Body: strings.TrimSpace(string(body))}
	}
}

func statusClass(code int) string { return strconv.Itoa(code/100) + "xx" }

// LatestSchedule fetches the most recent schedule. A 503 is reported as
// ServiceUnavailable rather than an error.
func (c *Client) LatestSchedule(ctx context.Context) (*model.Schedule, error) {
	var out model.Schedule
	_, _, err := c.do(ctx, "schedules_latest", http.MethodGet, "/schedules/latest", nil, nil, &out)
	if errors.Is(err, ErrServiceUnavailable) {
		c.log.Warn("schedules API temporarily unavailable (latest)")
		return &model.Schedule{ServiceUnavailable: true, Queues: []model.QueueData{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ScheduleByDate fetches the schedule for date (YYYY-MM-DD). Error bodies
// carrying {error|message} are surfaced in Schedule.Error.
func (c *Client) ScheduleByDate(ctx context.Context, date string) (*model.Schedule, error) {
	var out model.Schedule
	code, raw, err := c.do(ctx, "schedules_date", http.MethodGet, "/schedules/"+url.PathEscape(date), nil, nil, &out)
	switch {
	case err == nil:
		return &out, nil
	case errors.Is(err, ErrServiceUnavailable):
		c.log.Warn("schedules API temporarily unavailable", logx.String("date", date))
		return &model.Schedule{Date: date, ServiceUnavailable: true, Queues: []model.QueueData{}}, nil
	case code != 0 && len(raw) > 0:
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &body) == nil && (body.Error != "" || body.Message != "") {
			msg := body.Error
			if msg == "" {
				msg = body.Message
			}
			return &model.Schedule{Date: date, Queues: []model.QueueData{}, Error: msg}, nil
		}
	}
	return nil, err
}

func (c *Client) AvailableDates(ctx context.Context) (*model.DateList, error) {
	var out model.DateList
	if _, _, err := c.do(ctx, "schedules_dates", http.MethodGet, "/schedules/dates", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchAddress looks up addresses; queries shorter than 3 characters return
// an empty result without a request.
func (c *Client) SearchAddress(ctx context.Context, q string) (*model.AddressSearch, error) {
	if len([]rune(q)) < 3 {
		return &model.AddressSearch{Success: true, Query: q, Addresses: []model.Address{}}, nil
	}
	var out model.AddressSearch
	if _, _, err := c.do(ctx, "addresses_search", http.MethodGet, "/addresses/search", url.Values{"q": {q}}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NewSchedules(ctx context.Context, hours int) (*model.UpdatesResponse, error) {
	return c.updates(ctx, "updates_new", "/updates/new", hours)
}

func (c *Client) ChangedSchedules(ctx context.Context, hours int) (*model.UpdatesResponse, error) {
	return c.updates(ctx, "updates_changed", "/updates/changed", hours)
}

func (c *Client) updates(ctx context.Context, endpoint, path string, hours int) (*model.UpdatesResponse, error) {
	if hours <= 0 {
		hours = 24
	}
	var out model.UpdatesResponse
	_, _, err := c.do(ctx, endpoint, http.MethodGet, path, url.Values{"hours": {strconv.Itoa(hours)}}, nil, &out)
	if errors.Is(err, ErrServiceUnavailable) {
		c.log.Warn("updates API temporarily unavailable", logx.String("path", path))
		return &model.UpdatesResponse{Success: true, Schedules: []model.UpdateItem{}, ServiceUnavailable: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// VAPIDKey returns the server's application server key, cached for the
// configured TTL.
func (c *Client) VAPIDKey(ctx context.Context) (string, error) {
	if v, ok := c.cache.Get(vapidCacheKey); ok {
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	var out struct {
		PublicKey string `json:"publicKey"`
	}
	if _, _, err := c.do(ctx, "vapid_key", http.MethodGet, "/notifications/vapid-key", nil, nil, &out); err != nil {
		return "", err
	}
	if out.PublicKey == "" {
		return "", errors.New("empty vapid public key")
	}
	c.cache.Set(vapidCacheKey, out.PublicKey, cache.DefaultExpiration)
	return out.PublicKey, nil
}

// SubscribeRequest is the registration payload for a push subscription.
type SubscribeRequest struct {
	Endpoint          string       `json:"endpoint"`
	Keys              webpush.Keys `json:"keys"`
	Queue             *string      `json:"queue,omitempty"`
	NotificationTypes []string     `json:"notificationTypes,omitempty"`
}

// NewSubscribeRequest builds a registration payload from a subscription.
// An empty queue is omitted.
func NewSubscribeRequest(sub webpush.Subscription, queue string, types []string) SubscribeRequest {
	r := SubscribeRequest{Endpoint: sub.Endpoint, Keys: sub.Keys, NotificationTypes: types}
	if queue != "" {
		q := queue
		r.Queue = &q
	}
	return r
}

type successResponse struct {
	Success bool `json:"success"`
}

func (c *Client) post(ctx context.Context, endpoint, path string, body any) error {
	var out successResponse
	if _, _, err := c.do(ctx, endpoint, http.MethodPost, path, nil, body, &out); err != nil {
		return err
	}
	if !out.Success {
		return ErrRejected
	}
	return nil
}

// Subscribe registers (upserts) a subscription with the backend.
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) error {
	return c.post(ctx, "subscribe", "/notifications/subscribe", req)
}

func (c *Client) Unsubscribe(ctx context.Context, endpoint string) error {
	return c.post(ctx, "unsubscribe", "/notifications/unsubscribe", map[string]string{"endpoint": endpoint})
}

// UpdateQueue changes the queue of an existing backend record. It returns
// ErrNotFound when the backend no longer knows endpoint.
func (c *Client) UpdateQueue(ctx context.Context, endpoint, queue string, types []string) error {
	body := struct {
		Endpoint          string   `json:"endpoint"`
		Queue             *string  `json:"queue"`
		NotificationTypes []string `json:"notificationTypes,omitempty"`
	}{Endpoint: endpoint, NotificationTypes: types}
	if queue != "" {
		body.Queue = &queue
	}
	return c.post(ctx, "update_queue", "/notifications/update-queue", body)
}

// Health reports whether GET /healthz answers 2xx within the health timeout.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	_, _, err := c.do(ctx, "healthz", http.MethodGet, "/healthz", nil, nil, nil)
	return err == nil
}

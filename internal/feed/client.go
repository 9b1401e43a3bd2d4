package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"spotbot/pkg/logx"
)

// CommError reports a failed exchange with the feed: transport failure,
// non-success status, or an unparseable body.
type CommError struct {
	Status int // 0 when the request never completed
	Reason string
}

func (e *CommError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("feed communication error (status %d): %s", e.Status, e.Reason)
	}
	return "feed communication error: " + e.Reason
}

// Client fetches one page of project items, newest first.
// Page numbering starts at 1.
type Client interface {
	FetchPage(ctx context.Context, projectID string, page, pageSize int) ([]Item, error)
}

type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration // per-request bound; 0 means 15s
	RatePerSec     float64       // polite polling across tenants; 0 means 2/s
}

// HTTPClient is the real feed client over net/http.
type HTTPClient struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewHTTPClient(cfg ClientConfig, log logx.Logger) *HTTPClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPClient{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
	}
}

func (c *HTTPClient) FetchPage(ctx context.Context, projectID string, page, pageSize int) ([]Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &CommError{Reason: err.Error()}
	}

	q := url.Values{}
	q.Set("order_by", "id")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))
	u := fmt.Sprintf("%s/projects/%s/items.json?%s", c.base, url.PathEscape(projectID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &CommError{Reason: err.Error()}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &CommError{Reason: err.Error()}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, res.Body, 512)
		return nil, &CommError{Status: res.StatusCode, Reason: res.Status}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &CommError{Status: res.StatusCode, Reason: "reading body: " + err.Error()}
	}

	var items []Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &CommError{Status: res.StatusCode, Reason: "parsing json: " + err.Error()}
	}

	c.log.Debug("fetched feed page",
		logx.String("project", projectID),
		logx.Int("page", page),
		logx.Int("items", len(items)),
	)
	return items, nil
}

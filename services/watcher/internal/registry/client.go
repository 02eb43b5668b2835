package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mcpwatch/mcpwatch/services/watcher/internal/metrics"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/model"
)

// listResponse mirrors the registry's paginated listing endpoint.
type listResponse struct {
	Servers  []model.Server `json:"servers"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
		Count      int    `json:"count"`
	} `json:"metadata"`
}

// Client fetches the full server list from the remote MCP registry.
// Each call reflects current registry state; nothing is cached.
type Client struct {
	baseURL        string
	pageSize       int
	requestTimeout time.Duration
	retryAttempts  int
	retryDelay     time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
}

func NewClient(
	baseURL string,
	pageSize int,
	requestTimeout time.Duration,
	retryAttempts int,
	retryDelay time.Duration,
	httpClient *http.Client,
	logger *slog.Logger,
) *Client {
	l := logger.With("component", "registryClient")
	return &Client{
		baseURL:        baseURL,
		pageSize:       pageSize,
		requestTimeout: requestTimeout,
		retryAttempts:  retryAttempts,
		retryDelay:     retryDelay,
		httpClient:     httpClient,
		logger:         l,
	}
}

// ListServers fetches every page of the registry listing and returns the
// concatenation. Partial results are never returned: any page failing after
// the retry budget fails the whole call.
func (c *Client) ListServers(ctx context.Context) ([]model.Server, error) {
	var servers []model.Server
	cursor := ""

	for {
		page, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetching registry page (cursor=%q): %w", cursor, err)
		}

		servers = append(servers, page.Servers...)

		if page.Metadata.NextCursor == "" {
			break
		}
		cursor = page.Metadata.NextCursor
	}

	c.logger.Info("Registry listing complete", slog.Int("servers", len(servers)))
	return servers, nil
}

// fetchPage requests one page, retrying transient failures up to the
// configured attempt budget with a fixed delay between attempts.
func (c *Client) fetchPage(ctx context.Context, cursor string) (*listResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying registry request",
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr),
			)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		page, err := c.doRequest(ctx, cursor)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, fmt.Errorf("registry request failed after %d attempts: %w", c.retryAttempts+1, lastErr)
}

// doRequest performs a single page request bounded by the per-attempt timeout.
func (c *Client) doRequest(parentCtx context.Context, cursor string) (*listResponse, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.requestTimeout)
	defer cancel()

	endpoint, err := url.Parse(c.baseURL + "/v0/servers")
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		metrics.RegistryRequestDuration.WithLabelValues("error").Observe(duration)
		return nil, err
	}
	defer resp.Body.Close()

	metrics.RegistryRequestDuration.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(duration)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode registry response: %w", err)
	}
	return &page, nil
}

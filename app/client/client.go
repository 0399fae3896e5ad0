package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client fetches one page of a remote paginated news feed per call.
// It carries no sync policy; retries and pagination are the engine's job.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	timeout    time.Duration
}

func New(httpClient *http.Client, baseURL, userAgent string, timeout time.Duration) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// FetchPage performs one GET against the feed's base URL with pagination
// query parameters and decodes the JSON envelope. An error envelope comes
// back as *APIError, a malformed body as *DecodeError, everything before
// the body as *TransportError.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) (*Page, error) {
	data, err := c.fetch(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}

	return decode(data)
}

func (c *Client) fetch(ctx context.Context, page, pageSize int) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL, err := c.buildURL(page, pageSize)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	// Application failures arrive inside the JSON envelope regardless of
	// the HTTP status, so the body is decoded either way.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return data, nil
}

func (c *Client) buildURL(page, pageSize int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("pagination[page]", strconv.Itoa(page))
	q.Set("pagination[pageSize]", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func decode(data []byte) (*Page, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	if env.Error != nil {
		return nil, &APIError{
			Status:  env.Error.Status,
			Name:    env.Error.Name,
			Message: env.Error.Message,
		}
	}

	items := make([]Item, 0, len(env.Data))
	for _, wi := range env.Data {
		publishedAt, err := time.Parse(DateFormat, wi.Attributes.Time)
		if err != nil {
			return nil, &DecodeError{Err: fmt.Errorf("item %d: invalid time %q: %w", wi.ID, wi.Attributes.Time, err)}
		}

		item := Item{
			ID:          wi.ID,
			Title:       wi.Attributes.Title,
			URL:         wi.Attributes.URL,
			PublishedAt: publishedAt,
		}
		if wi.Attributes.Introduce != nil {
			item.Summary = *wi.Attributes.Introduce
		}

		items = append(items, item)
	}

	pageResult := &Page{Items: items}
	if env.Meta != nil {
		pageResult.Pagination = &Pagination{
			Page:      env.Meta.Pagination.Page,
			PageSize:  env.Meta.Pagination.PageSize,
			PageCount: env.Meta.Pagination.PageCount,
			Total:     env.Meta.Pagination.Total,
		}
	}

	return pageResult, nil
}

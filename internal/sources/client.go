// Package sources holds the HTTP plumbing shared by the source adapters.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	maxErrorBodyBytes = 2048
	maxFeedBytes      = 16 << 20
	// maxPages bounds Link-header pagination against servers that loop.
	maxPages = 200
)

var errTooManyPages = errors.New("sources: pagination did not terminate")

// StatusError reports a non-2xx response from a provider.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// HasStatus reports whether err is a StatusError with one of the codes.
func HasStatus(err error, codes ...int) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	for _, code := range codes {
		if statusErr.StatusCode == code {
			return true
		}
	}
	return false
}

// ClientConfig configures a Client.
type ClientConfig struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client performs authenticated GET requests against provider APIs.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a Client, defaulting to http.DefaultClient and a no-op logger.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{httpClient: httpClient, logger: logger}
}

// Logger exposes the client's logger to adapters.
func (c *Client) Logger() *zap.Logger {
	return c.logger
}

func (c *Client) get(ctx context.Context, rawURL, bearer, accept string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	request.Header.Set("Accept", accept)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		defer response.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return nil, &StatusError{URL: redact(rawURL), StatusCode: response.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return response, nil
}

// GetJSON decodes one JSON document into out and returns the response headers.
func (c *Client) GetJSON(ctx context.Context, rawURL, bearer string, out any) (http.Header, error) {
	response, err := c.get(ctx, rawURL, bearer, "application/json")
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", redact(rawURL), err)
	}
	return response.Header, nil
}

// GetBytes returns a raw response body such as an iCalendar feed.
func (c *Client) GetBytes(ctx context.Context, rawURL, bearer string) ([]byte, error) {
	response, err := c.get(ctx, rawURL, bearer, "text/calendar, */*")
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	return io.ReadAll(io.LimitReader(response.Body, maxFeedBytes))
}

// GetAllPages follows rel="next" Link headers and returns every element of
// every page. Callers never see a partial result: any page error fails the call.
func GetAllPages[T any](ctx context.Context, client *Client, rawURL, bearer string) ([]T, error) {
	var all []T
	next := rawURL
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, errTooManyPages
		}
		var batch []T
		header, err := client.GetJSON(ctx, next, bearer, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		next = NextLink(header)
	}
	return all, nil
}

// NextLink extracts the rel="next" target from an RFC 8288 Link header.
func NextLink(header http.Header) string {
	for _, value := range header.Values("Link") {
		for _, part := range strings.Split(value, ",") {
			segments := strings.Split(part, ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range segments[1:] {
				key, val, found := strings.Cut(strings.TrimSpace(param), "=")
				if !found || !strings.EqualFold(strings.TrimSpace(key), "rel") {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(val), `"`)) {
					if strings.EqualFold(rel, "next") {
						return target[1 : len(target)-1]
					}
				}
			}
		}
	}
	return ""
}

// redact drops the query string so tokens in feed URLs never reach logs.
func redact(rawURL string) string {
	if index := strings.IndexAny(rawURL, "?#"); index >= 0 {
		return rawURL[:index]
	}
	return rawURL
}


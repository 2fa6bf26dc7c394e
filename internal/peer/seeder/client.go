// Package seeder is the viewer side of the seeder segment endpoint.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotFound = errors.New("segment not available from seeder")

// Segment is one fetched file.
type Segment struct {
	Body        []byte
	ContentType string
	Elapsed     time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets baseURL, which includes the route prefix, e.g.
// http://seeder:8081/api/v1/streams/movies.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Master(ctx context.Context, movieID string) (Segment, error) {
	return c.get(ctx, url.PathEscape(movieID), "master.m3u8")
}

func (c *Client) Fetch(ctx context.Context, movieID, qualityID, segmentID string) (Segment, error) {
	return c.get(ctx, url.PathEscape(movieID), url.PathEscape(qualityID), url.PathEscape(segmentID))
}

func (c *Client) get(ctx context.Context, parts ...string) (Segment, error) {
	if c.baseURL == "" {
		return Segment{}, errors.New("seeder url not configured")
	}
	target := c.baseURL + "/" + strings.Join(parts, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Segment{}, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Segment{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Segment{}, fmt.Errorf("%w: %s", ErrNotFound, target)
	case resp.StatusCode >= 400:
		return Segment{}, fmt.Errorf("seeder error: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Segment{}, fmt.Errorf("read %s: %w", target, err)
	}
	return Segment{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Elapsed:     time.Since(start),
	}, nil
}

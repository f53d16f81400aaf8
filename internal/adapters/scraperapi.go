package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig parameterizes the ScraperAPI async client.
type ClientConfig struct {
	APIKey       string
	BaseURL      string // https://async.scraperapi.com
	PollInterval time.Duration
	MaxPolls     int
	HTTPTimeout  time.Duration
}

// Client drives ScraperAPI's async job flow: submit a job, poll its status
// URL until it finishes, return the page body. One Client is shared by all
// store adapters; per-store behavior comes in through the params map.
type Client struct {
	httpClient   *http.Client
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
}

// NewClient builds a client from the given config.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
	}
}

type submitResponse struct {
	ID        string `json:"id"`
	StatusURL string `json:"statusUrl"`
}

type statusResponse struct {
	Status   string `json:"status"` // running | finished | failed
	Response struct {
		Body string `json:"body"`
	} `json:"response"`
}

// Fetch submits the URL and polls until the scrape job settles. params are
// merged into the job payload alongside the api key and target URL.
func (c *Client) Fetch(ctx context.Context, url string, params map[string]any) (string, error) {
	payload := map[string]any{
		"apiKey": c.apiKey,
		"url":    url,
	}
	for k, v := range params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit scrape job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit scrape job: status %d", resp.StatusCode)
	}

	var submitted submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if submitted.StatusURL == "" {
		return "", fmt.Errorf("submit scrape job: no status url in response")
	}

	return c.poll(ctx, submitted.StatusURL)
}

func (c *Client) poll(ctx context.Context, statusURL string) (string, error) {
	for i := 0; i < c.maxPolls; i++ {
		status, err := c.checkStatus(ctx, statusURL)
		if err != nil {
			return "", err
		}
		switch status.Status {
		case "finished":
			if status.Response.Body == "" {
				return "", fmt.Errorf("scrape job finished with empty body")
			}
			return status.Response.Body, nil
		case "failed":
			return "", fmt.Errorf("scrape job failed upstream")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return "", fmt.Errorf("scrape job still running after %d polls", c.maxPolls)
}

func (c *Client) checkStatus(ctx context.Context, statusURL string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll scrape job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("poll scrape job: status %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}

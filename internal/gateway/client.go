package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"rideline/internal/domain"
	"rideline/internal/httpx"
)

// Client talks to the request service over HTTP.
type Client struct {
	HTTP *httpx.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	c := httpx.New(baseURL, timeout)
	c.BearerToken = token
	return &Client{HTTP: c}
}

// Create validates the submission locally before sending it.
func (c *Client) Create(ctx context.Context, sub domain.Submission) (domain.Request, error) {
	if err := domain.Check(domain.ReasonInvalidInput, sub); err != nil {
		return domain.Request{}, err
	}
	var out domain.Request
	err := c.HTTP.Do(ctx, http.MethodPost, "requests", sub, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (domain.Request, error) {
	var out domain.Request
	err := c.HTTP.Do(ctx, http.MethodGet, requestPath(id), nil, &out)
	return out, notFound(err, id)
}

func (c *Client) Update(ctx context.Context, id string, patch domain.RequestPatch) (domain.Request, error) {
	for i, p := range patch.Passengers {
		if err := domain.Check(domain.ReasonInvalidInput, p); err != nil {
			return domain.Request{}, fmt.Errorf("passengers[%d]: %w", i, err)
		}
	}
	var out domain.Request
	err := c.HTTP.Do(ctx, http.MethodPatch, requestPath(id), patch, &out)
	return out, notFound(err, id)
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status domain.RequestStatus) (domain.Request, error) {
	var out domain.Request
	body := map[string]string{"status": string(status)}
	err := c.HTTP.Do(ctx, http.MethodPut, requestPath(id)+"/status", body, &out)
	return out, notFound(err, id)
}

func requestPath(id string) string {
	return "requests/" + url.PathEscape(id)
}

func notFound(err error, id string) error {
	var apiErr *httpx.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

package address

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

// Client is a Source backed by the HTTP employee directory service.
type Client struct {
	HTTP *httpx.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{HTTP: httpx.New(baseURL, timeout)}
}

func (c *Client) Resolve(ctx context.Context, employeeID string) (domain.EmployeeAddresses, error) {
	var out domain.EmployeeAddresses
	err := c.HTTP.Do(ctx, http.MethodGet, fmt.Sprintf("employees/%s/addresses", url.PathEscape(employeeID)), nil, &out)
	if err != nil {
		return domain.EmployeeAddresses{}, notFound(err, employeeID)
	}
	return normalize(employeeID, out), nil
}

func (c *Client) Employee(ctx context.Context, id string) (domain.Employee, error) {
	var out domain.Employee
	if err := c.HTTP.Do(ctx, http.MethodGet, "employees/"+url.PathEscape(id), nil, &out); err != nil {
		return domain.Employee{}, notFound(err, id)
	}
	return out, nil
}

func (c *Client) Employees(ctx context.Context) ([]domain.Employee, error) {
	var resp struct {
		Items []domain.Employee `json:"items"`
	}
	err := c.HTTP.Do(ctx, http.MethodGet, "employees", nil, &resp)
	return resp.Items, err
}

func notFound(err error, id string) error {
	var apiErr *httpx.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrUnknownEmployee, id)
	}
	return err
}

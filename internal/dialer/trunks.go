package dialer

import (
	"context"
	"net/http"
	"net/url"
)

// ListTrunks lists configured trunks
func (c *Client) ListTrunks(ctx context.Context) ([]Trunk, error) {
	var resp []Trunk
	if err := c.request(ctx, http.MethodGet, "/trunks", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateTrunk creates a trunk
func (c *Client) CreateTrunk(ctx context.Context, t *Trunk) (*Trunk, error) {
	var resp Trunk
	if err := c.request(ctx, http.MethodPost, "/trunks", t, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateTrunk updates a trunk
func (c *Client) UpdateTrunk(ctx context.Context, id string, t *Trunk) (*Trunk, error) {
	var resp Trunk
	if err := c.request(ctx, http.MethodPut, "/trunks/"+url.PathEscape(id), t, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteTrunk deletes a trunk
func (c *Client) DeleteTrunk(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/trunks/"+url.PathEscape(id), nil, nil)
}

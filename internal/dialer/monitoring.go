package dialer

import (
	"context"
	"net/http"
)

// ActiveCalls returns the calls currently in progress
func (c *Client) ActiveCalls(ctx context.Context) (*CallsResponse, error) {
	var resp CallsResponse
	if err := c.request(ctx, http.MethodGet, "/monitoring/calls", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Total == 0 {
		resp.Total = len(resp.Calls)
	}
	return &resp, nil
}

package dialer

import (
	"context"
	"net/http"
	"net/url"
)

// ListBlacklist lists blacklisted numbers
func (c *Client) ListBlacklist(ctx context.Context) ([]BlacklistEntry, error) {
	var resp []BlacklistEntry
	if err := c.request(ctx, http.MethodGet, "/blacklist", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AddBlacklist adds a number to the blacklist
func (c *Client) AddBlacklist(ctx context.Context, entry *BlacklistEntry) (*BlacklistEntry, error) {
	var resp BlacklistEntry
	if err := c.request(ctx, http.MethodPost, "/blacklist", entry, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveBlacklist removes a number from the blacklist
func (c *Client) RemoveBlacklist(ctx context.Context, number string) error {
	return c.request(ctx, http.MethodDelete, "/blacklist/"+url.PathEscape(number), nil, nil)
}

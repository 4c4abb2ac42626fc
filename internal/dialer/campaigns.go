package dialer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// listEnvelope covers the wrapped list shapes the backend has used
type listEnvelope struct {
	Campaigns []RawCampaign `json:"campaigns"`
	Campanhas []RawCampaign `json:"campanhas"`
	Data      []RawCampaign `json:"data"`
}

func decodeCampaignList(data json.RawMessage) ([]RawCampaign, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	if data[0] == '[' {
		var list []RawCampaign
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode campaign list: %w", err)
		}
		return list, nil
	}

	var env listEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode campaign list: %w", err)
	}
	switch {
	case env.Campaigns != nil:
		return env.Campaigns, nil
	case env.Campanhas != nil:
		return env.Campanhas, nil
	default:
		return env.Data, nil
	}
}

// ListCampaigns fetches every campaign in its raw shape
func (c *Client) ListCampaigns(ctx context.Context) ([]RawCampaign, error) {
	var raw json.RawMessage
	if err := c.request(ctx, http.MethodGet, "/campaigns", nil, &raw); err != nil {
		return nil, err
	}
	return decodeCampaignList(raw)
}

// GetCampaign fetches a single campaign
func (c *Client) GetCampaign(ctx context.Context, id string) (*RawCampaign, error) {
	var resp RawCampaign
	if err := c.request(ctx, http.MethodGet, "/campaigns/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateCampaign creates a campaign
func (c *Client) CreateCampaign(ctx context.Context, req *CampaignRequest) (*RawCampaign, error) {
	var resp RawCampaign
	if err := c.request(ctx, http.MethodPost, "/campaigns", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateCampaign updates a campaign
func (c *Client) UpdateCampaign(ctx context.Context, id string, req *CampaignRequest) (*RawCampaign, error) {
	var resp RawCampaign
	if err := c.request(ctx, http.MethodPut, "/campaigns/"+url.PathEscape(id), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteCampaign deletes a campaign through the current endpoint
func (c *Client) DeleteCampaign(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/campaigns/"+url.PathEscape(id), nil, nil)
}

// DeleteCampaignLegacy deletes a campaign through the presione1 endpoint
func (c *Client) DeleteCampaignLegacy(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/presione1/campanhas/"+url.PathEscape(id), nil, nil)
}

// ControlCampaign posts a control action (iniciar, pausar, reanudar, detener)
func (c *Client) ControlCampaign(ctx context.Context, id, action string, data map[string]any) (*ControlResponse, error) {
	if data == nil {
		data = map[string]any{}
	}
	var resp ControlResponse
	path := "/presione1/campanhas/" + url.PathEscape(id) + "/" + url.PathEscape(action)
	if err := c.request(ctx, http.MethodPost, path, data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCampaignStats fetches live counters for a campaign
func (c *Client) GetCampaignStats(ctx context.Context, id string) (*CampaignStats, error) {
	var resp CampaignStats
	if err := c.request(ctx, http.MethodGet, "/campaigns/"+url.PathEscape(id)+"/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

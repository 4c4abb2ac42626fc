package dialer

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// ListAudio lists uploaded audio assets
func (c *Client) ListAudio(ctx context.Context) ([]AudioAsset, error) {
	var resp struct {
		Audios []AudioAsset `json:"audios"`
	}
	if err := c.request(ctx, http.MethodGet, "/audio", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Audios, nil
}

// UploadAudio streams an audio file to the backend as multipart/form-data
func (c *Client) UploadAudio(ctx context.Context, meta AudioUpload, file io.Reader) (*AudioAsset, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeAudioForm(mw, meta, file))
	}()

	var resp AudioAsset
	err := c.do(ctx, http.MethodPost, "/audio/upload", mw.FormDataContentType(), pr, &resp)
	// Unblock the writer if the request ended before consuming the body.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func writeAudioForm(mw *multipart.Writer, meta AudioUpload, file io.Reader) error {
	fields := []struct{ name, value string }{
		{"name", meta.Name},
		{"description", meta.Description},
		{"audio_type", meta.AudioType},
		{"campaign_id", meta.CampaignID},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	part, err := mw.CreateFormFile("file", meta.FileName)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy audio: %w", err)
	}
	return mw.Close()
}

// DeleteAudio deletes an audio asset
func (c *Client) DeleteAudio(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/audio/"+url.PathEscape(id), nil, nil)
}

package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DropboxContentURL = "https://content.dropboxapi.com"

// DropboxUploader calls the Dropbox files/upload endpoint in overwrite mode.
type DropboxUploader struct {
	baseURL string
	client  *http.Client
}

func NewDropboxUploader(baseURL string, client *http.Client) *DropboxUploader {
	if baseURL == "" {
		baseURL = DropboxContentURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &DropboxUploader{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (u *DropboxUploader) Name() string { return "dropbox" }

type dropboxUploadArg struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

func (u *DropboxUploader) Upload(ctx context.Context, accessToken, path string, data []byte) error {
	arg, err := json.Marshal(dropboxUploadArg{Path: path, Mode: "overwrite", Mute: true})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/2/files/upload", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("dropbox upload: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrRemoteUnauthorized, strings.TrimSpace(string(body)))
	case resp.StatusCode >= 300:
		return fmt.Errorf("dropbox upload: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

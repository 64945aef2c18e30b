package linker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNoLink means the file-info API did not yield a direct link for a path.
var ErrNoLink = errors.New("no direct link")

// DirectLinker resolves a remote storage path to a direct download URL.
type DirectLinker interface {
	DirectLink(ctx context.Context, remotePath string) (string, error)
}

// FileInfoClient calls POST <base>/api/fs/get with a folder password.
type FileInfoClient struct {
	baseURL    string
	password   string
	httpClient *http.Client
}

func NewFileInfoClient(baseURL, password string, timeout time.Duration) *FileInfoClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FileInfoClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type fsGetRequest struct {
	Path     string `json:"path"`
	Password string `json:"password"`
}

type fsGetResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		URL    string `json:"url"`
		RawURL string `json:"raw_url"`
		IsDir  bool   `json:"is_dir"`
	} `json:"data"`
}

// DirectLink implements DirectLinker.
func (c *FileInfoClient) DirectLink(ctx context.Context, remotePath string) (string, error) {
	body, err := json.Marshal(fsGetRequest{Path: remotePath, Password: c.password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/fs/get", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoLink, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d", ErrNoLink, resp.StatusCode)
	}

	var result fsGetResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrNoLink, err)
	}
	if result.Code != http.StatusOK {
		return "", fmt.Errorf("%w: code=%d message=%s", ErrNoLink, result.Code, result.Message)
	}
	if result.Data == nil {
		return "", fmt.Errorf("%w: response has no data", ErrNoLink)
	}
	if result.Data.IsDir {
		return "", fmt.Errorf("%w: %s is a directory", ErrNoLink, remotePath)
	}

	if result.Data.URL != "" {
		return result.Data.URL, nil
	}
	if result.Data.RawURL != "" {
		return result.Data.RawURL, nil
	}
	return "", fmt.Errorf("%w: response has no url", ErrNoLink)
}

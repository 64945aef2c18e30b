package linker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sube3494/bilidownloader/internal/common/config"
)

// ErrShorten wraps every shortening failure. Callers fall back to the
// original link.
var ErrShorten = errors.New("shorten failed")

// Shortener converts a long link into a short one.
type Shortener interface {
	Shorten(ctx context.Context, link string) (string, error)
}

// Candidate response fields, top level then under "data".
var (
	topLevelFields = []string{"shorturl", "short_url", "url", "link"}
	dataFields     = []string{"shorturl", "short_url", "url", "shortUrl", "link"}
)

// HTTPShortener talks to YOURLS, Shlink, Kutt and similar services. The
// method, auth placement and field names come from configuration.
type HTTPShortener struct {
	cfg        config.ShortenerConfig
	httpClient *http.Client
}

func NewHTTPShortener(cfg config.ShortenerConfig) *HTTPShortener {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "X-API-Key"
	}
	if cfg.DataKey == "" {
		cfg.DataKey = "url"
	}
	if cfg.ParamsKey == "" {
		cfg.ParamsKey = "url"
	}
	return &HTTPShortener{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// Shorten implements Shortener.
func (s *HTTPShortener) Shorten(ctx context.Context, link string) (string, error) {
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return "", fmt.Errorf("%w: not an http(s) link", ErrShorten)
	}

	endpoint, err := url.Parse(s.cfg.APIURL)
	if err != nil || s.cfg.APIURL == "" {
		return "", fmt.Errorf("%w: bad api url", ErrShorten)
	}
	query := endpoint.Query()
	header := http.Header{}
	header.Set("Content-Type", "application/json")

	if s.cfg.APIKey != "" {
		if strings.EqualFold(s.cfg.AuthMethod, "query") {
			query.Set("api_key", s.cfg.APIKey)
		} else {
			header.Set(s.cfg.AuthHeader, s.cfg.APIKey)
		}
	}

	// Only POST sends a body; any other method is a GET with the link in
	// the query.
	var body io.Reader
	method := http.MethodGet
	if strings.EqualFold(s.cfg.Method, http.MethodPost) {
		method = http.MethodPost
		payload, err := json.Marshal(map[string]string{s.cfg.DataKey: link})
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrShorten, err)
		}
		body = bytes.NewReader(payload)
	} else {
		query.Set(s.cfg.ParamsKey, link)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrShorten, err)
	}
	req.Header = header

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrShorten, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d", ErrShorten, resp.StatusCode)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrShorten, err)
	}

	short := extractShortURL(result)
	if short == "" {
		return "", fmt.Errorf("%w: no short url field in response", ErrShorten)
	}
	return short, nil
}

func extractShortURL(result map[string]any) string {
	if v := firstString(result, topLevelFields); v != "" {
		return v
	}
	data, ok := result["data"].(map[string]any)
	if !ok {
		return ""
	}
	return firstString(data, dataFields)
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Package metadata queries the Bilibili web API for video titles and parts.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/Sube3494/bilidownloader/internal/resolver"
	"github.com/sirupsen/logrus"
)

var (
	// ErrFetch covers every metadata failure: transport, status, API code or
	// an empty title. The pipeline then delegates to the downloader directly.
	ErrFetch = errors.New("metadata fetch failed")
	// ErrNoVideoID means the reference carries no BV id to query.
	ErrNoVideoID = errors.New("reference has no video id")
)

// Part is one numbered segment of a video.
type Part struct {
	Index int
	ID    string
	Title string
}

// Video is the title plus ordered part list. No parts means a single,
// unnumbered video.
type Video struct {
	Title string
	Parts []Part
}

// Multi reports whether the user must pick parts.
func (v Video) Multi() bool {
	return len(v.Parts) > 1
}

type viewResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Title string `json:"title"`
		Pages []struct {
			Page int             `json:"page"`
			Cid  json.RawMessage `json:"cid"`
			Part string          `json:"part"`
		} `json:"pages"`
	} `json:"data"`
}

// Client talks to the view and myinfo endpoints.
type Client struct {
	cfg        *config.BilibiliConfig
	httpClient *http.Client
	log        *logrus.Logger
}

func NewClient(cfg *config.BilibiliConfig, log *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Referer", c.cfg.Referer)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
}

// Fetch performs a single lookup. There is no retry.
func (c *Client) Fetch(ctx context.Context, ref resolver.Reference) (Video, error) {
	if ref.ID == "" {
		c.log.WithFields(logrus.Fields{
			"component": "metadata",
			"url":       ref.URL,
		}).Info("Reference has no BV id, delegating to the downloader")
		return Video{}, ErrNoVideoID
	}

	endpoint, err := url.Parse(c.cfg.ViewAPI)
	if err != nil {
		return Video{}, fmt.Errorf("%w: bad endpoint: %v", ErrFetch, err)
	}
	q := endpoint.Query()
	q.Set("bvid", ref.ID)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Video{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Video{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Video{}, fmt.Errorf("%w: HTTP %d", ErrFetch, resp.StatusCode)
	}

	var body viewResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Video{}, fmt.Errorf("%w: decode: %v", ErrFetch, err)
	}
	if body.Code != 0 {
		return Video{}, fmt.Errorf("%w: api code %d: %s", ErrFetch, body.Code, body.Message)
	}
	if body.Data == nil || body.Data.Title == "" {
		return Video{}, fmt.Errorf("%w: empty title", ErrFetch)
	}

	video := Video{Title: body.Data.Title}
	for _, p := range body.Data.Pages {
		video.Parts = append(video.Parts, Part{
			Index: p.Page,
			ID:    rawID(p.Cid),
			Title: p.Part,
		})
	}
	sort.SliceStable(video.Parts, func(i, j int) bool {
		return video.Parts[i].Index < video.Parts[j].Index
	})

	c.log.WithFields(logrus.Fields{
		"component": "metadata",
		"bvid":      ref.ID,
		"title":     video.Title,
		"parts":     len(video.Parts),
	}).Info("Fetched video info")

	return video, nil
}

// cid arrives as a JSON number; keep its digits verbatim.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return string(raw)
}

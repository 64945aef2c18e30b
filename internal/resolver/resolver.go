// Package resolver turns free-form chat text into a canonical video
// reference.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrNoReference         = errors.New("no video reference found")
	ErrShortLinkUnresolved = errors.New("cannot resolve short link")
	ErrInvalidReference    = errors.New("invalid video reference")
)

var (
	linkPattern = regexp.MustCompile(`https?://(?:b23\.tv|(?:www\.)?bilibili\.com)/[a-zA-Z0-9_/?=&%#.-]+`)
	bvidPattern = regexp.MustCompile(`BV[a-zA-Z0-9]+`)
)

const (
	verbatimLimit  = 100
	connectTimeout = 5 * time.Second
	totalTimeout   = 10 * time.Second
)

// Reference identifies the video to acquire. ID may be empty; URL always holds
// the text handed to the downloader.
type Reference struct {
	ID  string
	URL string
}

// Target is what the downloader receives as its first argument.
func (r Reference) Target() string {
	if r.URL != "" {
		return r.URL
	}
	return r.ID
}

// Extract pulls the first link or BV id out of text. Short plain text without
// CJK characters is passed through so the downloader can judge it.
func Extract(text string) (string, error) {
	if m := linkPattern.FindString(text); m != "" {
		return m, nil
	}
	if m := bvidPattern.FindString(text); m != "" {
		return m, nil
	}
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && len([]rune(trimmed)) < verbatimLimit && !hasCJK(trimmed) {
		return trimmed, nil
	}
	return "", ErrNoReference
}

func hasCJK(s string) bool {
	for _, r := range s {
		if r >= '一' && r <= '鿿' {
			return true
		}
	}
	return false
}

// ExtractBVID returns the BV id contained in s, or "".
func ExtractBVID(s string) string {
	return bvidPattern.FindString(s)
}

// withScheme prefixes https:// to links such as "b23.tv/abc".
func withScheme(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}

func (r *Resolver) isShortLink(raw string) bool {
	u, err := url.Parse(withScheme(raw))
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), r.shortHost)
}

// onSite reports whether raw's host is the site host or one of its
// subdomains.
func (r *Resolver) onSite(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == r.siteHost || strings.HasSuffix(host, "."+r.siteHost)
}

// Resolver expands short links over HTTP.
type Resolver struct {
	noRedirect *http.Client
	follow     *http.Client
	shortHost  string
	siteHost   string
	userAgent  string
	referer    string
	log        *logrus.Logger
}

func New(userAgent, referer string, log *logrus.Logger) *Resolver {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
	}
	return &Resolver{
		noRedirect: &http.Client{
			Transport: transport,
			Timeout:   totalTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		follow: &http.Client{
			Transport: transport,
			Timeout:   totalTimeout,
		},
		shortHost: "b23.tv",
		siteHost:  "bilibili.com",
		userAgent: userAgent,
		referer:   referer,
		log:       log,
	}
}

func (r *Resolver) newRequest(ctx context.Context, raw string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Referer", r.referer)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return req, nil
}

// ResolveShortLink expands a b23.tv link. Other links are returned unchanged.
func (r *Resolver) ResolveShortLink(ctx context.Context, raw string) (string, error) {
	if !r.isShortLink(raw) {
		return raw, nil
	}
	raw = withScheme(raw)

	entry := r.log.WithFields(logrus.Fields{
		"component": "resolver",
		"url":       raw,
	})

	loc, err := r.redirectLocation(ctx, raw)
	if err == nil {
		entry.WithField("resolved", loc).Info("Resolved short link from redirect")
		return loc, nil
	}
	entry.WithError(err).Debug("Redirect probe failed, following redirects")

	final, err := r.followRedirects(ctx, raw)
	if err != nil {
		entry.WithError(err).Warn("Failed to resolve short link")
		return "", fmt.Errorf("%w: %s", ErrShortLinkUnresolved, raw)
	}
	entry.WithField("resolved", final).Info("Resolved short link by following redirects")
	return final, nil
}

func (r *Resolver) redirectLocation(ctx context.Context, raw string) (string, error) {
	req, err := r.newRequest(ctx, raw)
	if err != nil {
		return "", err
	}
	resp, err := r.noRedirect.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", errors.New("redirect without location")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	target, err := base.Parse(loc)
	if err != nil {
		return "", err
	}
	return target.String(), nil
}

func (r *Resolver) followRedirects(ctx context.Context, raw string) (string, error) {
	req, err := r.newRequest(ctx, raw)
	if err != nil {
		return "", err
	}
	resp, err := r.follow.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	final := resp.Request.URL.String()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if !r.onSite(final) {
		return "", fmt.Errorf("redirected away from bilibili: %s", final)
	}
	return final, nil
}

// Resolve runs extraction, short-link expansion and the final validity
// check. A reference without a BV id is still valid when it names a
// bilibili.com page.
func (r *Resolver) Resolve(ctx context.Context, text string) (Reference, error) {
	raw, err := Extract(text)
	if err != nil {
		return Reference{}, err
	}

	resolved, err := r.ResolveShortLink(ctx, raw)
	if err != nil {
		return Reference{}, err
	}

	if !strings.Contains(resolved, "bilibili.com") && !strings.Contains(resolved, "BV") {
		return Reference{}, fmt.Errorf("%w: %s", ErrInvalidReference, resolved)
	}

	ref := Reference{ID: ExtractBVID(resolved), URL: resolved}

	r.log.WithFields(logrus.Fields{
		"component": "resolver",
		"bvid":      ref.ID,
		"url":       ref.URL,
	}).Info("Resolved video reference")
	return ref, nil
}
